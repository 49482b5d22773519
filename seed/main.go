package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AriukCS1A/testreg/model"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var (
		dbPath = flag.String("db", "", "Database path (overrides DB_DATABASE env var)")
	)
	flag.Parse()

	databasePath := *dbPath
	if databasePath == "" {
		databasePath = os.Getenv("DB_DATABASE")
		if databasePath == "" {
			databasePath = "testreg.db"
		}
	}

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Printf("Connected to database: %s", databasePath)

	if err := db.AutoMigrate(&model.Location{}, &model.Content{}); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	if err := seedDemo(db); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Println("Seeding complete")
}

func seedDemo(db *gorm.DB) error {
	now := time.Now()

	location := model.Location{
		ID:           "sukhbaatar-square",
		Name:         "Sukhbaatar Square",
		Lat:          47.918,
		Lng:          106.917,
		RadiusMeters: 150,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Save(&location).Error; err != nil {
		return err
	}

	introURLs, err := json.Marshal(model.ContentURLs{
		WebM: "videos/intro.webm",
		MP4:  "videos/intro.mp4",
	})
	if err != nil {
		return err
	}

	intro := model.Content{
		ID:        "intro",
		Title:     "Welcome",
		Active:    true,
		IsGlobal:  true,
		URLs:      introURLs,
		PosterURL: "posters/intro.png",
		CreatedAt: now,
		UpdatedAt: now,
	}
	intro.LocationIDs = json.RawMessage("[]")
	if err := db.Save(&intro).Error; err != nil {
		return err
	}

	exerciseURLs, err := json.Marshal(model.ContentURLs{
		WebM:   "videos/exercise.webm",
		MP4:    "videos/exercise.mp4",
		MP4SBS: "videos/exercise_sbs.mp4",
	})
	if err != nil {
		return err
	}

	locationIDs, err := json.Marshal([]string{location.ID})
	if err != nil {
		return err
	}

	exercise := model.Content{
		ID:          "exercise-square",
		Title:       "Square Exercise",
		Active:      true,
		LocationIDs: locationIDs,
		URLs:        exerciseURLs,
		PosterURL:   "posters/exercise.png",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return db.Save(&exercise).Error
}
