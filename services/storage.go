package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/AriukCS1A/testreg/model"
)

// ErrRegistrationExists is the create-collision condition for phone
// registrations: the backend enforces first-writer-wins, a second create is
// rejected the way Firestore rules reject a merge:false overwrite.
var ErrRegistrationExists = errors.New("phone already registered")

type StorageService struct {
	context.DefaultService
	db *gorm.DB

	driver   string
	database string
}

const STORAGE_SVC = "storage_svc"

// Id returns Service ID
func (ds StorageService) Id() string {
	return STORAGE_SVC
}

// Db Access to raw StorageService db
func (ds StorageService) Db() *gorm.DB {
	return ds.db
}

// Configure the service
func (ds *StorageService) Configure(ctx *context.Context) error {
	ds.driver = os.Getenv("DB_DRIVER")
	if ds.driver == "" {
		ds.driver = "sqlite"
	}
	ds.database = os.Getenv("DB_DATABASE")
	if ds.database == "" {
		ds.database = "testreg.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start the service and open connection to the database
// Migrate any tables that have changed since last runtime
func (ds *StorageService) Start() (err error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	switch ds.driver {
	case "postgres":
		ds.db, err = gorm.Open(postgres.Open(ds.database), cfg)
	case "sqlite":
		ds.db, err = gorm.Open(sqlite.Open(ds.database), cfg)
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", ds.driver)
	}
	if err != nil {
		return err
	}

	err = ds.db.AutoMigrate(
		&model.Location{},
		&model.Content{},
		&model.Registration{},
		&model.DeviceKey{},
		&model.ScanLog{},
	)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *StorageService) Shutdown() {
}

// ==================== LOCATIONS ====================

func (ds *StorageService) GetLocation(id string) (*model.Location, error) {
	var loc model.Location
	if err := ds.db.First(&loc, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &loc, nil
}

func (ds *StorageService) UpsertLocation(loc *model.Location) error {
	return ds.HandleError(ds.db.Save(loc).Error)
}

// ==================== CONTENTS ====================

func (ds *StorageService) GetIntroContent() (*model.Content, error) {
	var c model.Content
	err := ds.db.Where("active = ? AND is_global = ?", true, true).
		Order("updated_at DESC").First(&c).Error
	if err != nil {
		return nil, ds.HandleError(err)
	}
	return &c, nil
}

// GetLocationContent returns the active exercise document bound to the
// location. Membership lives in a JSON array column, so candidates are
// narrowed in SQL and confirmed in Go.
func (ds *StorageService) GetLocationContent(locationID string) (*model.Content, error) {
	var rows []model.Content
	err := ds.db.Where("active = ? AND is_global = ? AND location_ids LIKE ?",
		true, false, "%"+locationID+"%").Order("updated_at DESC").Find(&rows).Error
	if err != nil {
		return nil, ds.HandleError(err)
	}

	for i := range rows {
		var ids []string
		if err := json.Unmarshal(rows[i].LocationIDs, &ids); err != nil {
			log.WithError(err).WithField("content_id", rows[i].ID).Warn("Malformed location_ids, skipping content")
			continue
		}
		for _, id := range ids {
			if id == locationID {
				return &rows[i], nil
			}
		}
	}

	return nil, ds.HandleError(gorm.ErrRecordNotFound)
}

func (ds *StorageService) GetContent(id string) (*model.Content, error) {
	var c model.Content
	if err := ds.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &c, nil
}

func (ds *StorageService) CreateContent(c *model.Content) error {
	return ds.HandleError(ds.db.Create(c).Error)
}

func (ds *StorageService) SaveContent(c *model.Content) error {
	return ds.HandleError(ds.db.Save(c).Error)
}

// ==================== REGISTRATIONS ====================

func (ds *StorageService) GetRegistration(phone string) (*model.Registration, error) {
	var reg model.Registration
	if err := ds.db.First(&reg, "phone = ?", phone).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &reg, nil
}

// CreateRegistration is strictly create-only: a duplicate phone surfaces
// ErrRegistrationExists and leaves the original row untouched.
func (ds *StorageService) CreateRegistration(reg *model.Registration) error {
	if len(reg.DeviceKeyHashes) == 0 {
		reg.DeviceKeyHashes = json.RawMessage("[]")
	}
	err := ds.db.Create(reg).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key") {
		return ErrRegistrationExists
	}
	return ds.HandleError(err)
}

// AppendDeviceKeyHash set-unions the hash into the registration's hash
// list. Runs in a transaction so concurrent binds from two devices cannot
// drop each other's hash.
func (ds *StorageService) AppendDeviceKeyHash(phone, hash string) error {
	err := ds.db.Transaction(func(tx *gorm.DB) error {
		q := tx
		if ds.driver == "postgres" {
			// sqlite serializes writers already; postgres needs the row lock.
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var reg model.Registration
		if err := q.First(&reg, "phone = ?", phone).Error; err != nil {
			return err
		}

		var hashes []string
		if len(reg.DeviceKeyHashes) > 0 {
			if err := json.Unmarshal(reg.DeviceKeyHashes, &hashes); err != nil {
				return err
			}
		}
		for _, h := range hashes {
			if h == hash {
				return nil
			}
		}
		hashes = append(hashes, hash)

		raw, err := json.Marshal(hashes)
		if err != nil {
			return err
		}
		return tx.Model(&model.Registration{}).Where("phone = ?", phone).
			Updates(map[string]interface{}{
				"device_key_hashes": json.RawMessage(raw),
				"updated_at":        time.Now(),
			}).Error
	})
	return ds.HandleError(err)
}

// ==================== DEVICE KEYS ====================

func (ds *StorageService) GetDeviceKey(hash string) (*model.DeviceKey, error) {
	var dk model.DeviceKey
	if err := ds.db.First(&dk, "public_hash_hex = ?", hash).Error; err != nil {
		return nil, ds.HandleError(err)
	}
	return &dk, nil
}

func (ds *StorageService) PutDeviceKey(hash, phone string) error {
	dk := &model.DeviceKey{
		PublicHashHex: hash,
		Phone:         phone,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	return ds.HandleError(ds.db.Save(dk).Error)
}

// ==================== SCAN LOG ====================

func (ds *StorageService) CreateScanLog(entry *model.ScanLog) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		entry.ID = id.String()
	}
	return ds.HandleError(ds.db.Create(entry).Error)
}

// ==================== ERROR MAPPING ====================

func (ds *StorageService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound // 404
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict // 409
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		statusCode = http.StatusBadRequest // 400
		errorType = "FOREIGN_KEY_VIOLATION"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError // 500
		errorType = "TRANSACTION_ERROR"
	default:
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			statusCode = http.StatusConflict // 409
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "no such table") {
			statusCode = http.StatusInternalServerError // 500
			errorType = "SCHEMA_ERROR"
		} else {
			statusCode = http.StatusInternalServerError // 500
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}
