package model

import (
	"encoding/json"
	"time"
)

// Content is a video document as stored. Older records carry a single URL
// plus an optional format tag; newer ones carry explicit per-kind URLs.
// URL values may be absolute or MinIO object paths (resolved at ranking).
type Content struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	Title       string          `json:"title"`
	Active      bool            `json:"active" gorm:"not null"`
	IsGlobal    bool            `json:"is_global" gorm:"not null"`
	LocationIDs json.RawMessage `json:"location_ids" gorm:"not null"` // JSON array of location ids
	URL         string          `json:"url"`
	Format      string          `json:"format"` // "alpha" | "sbs" | "flat" | ""
	URLs        json.RawMessage `json:"urls"`   // {"webm":..,"mp4":..,"mp4_sbs":..} or null
	PosterURL   string          `json:"poster_url"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

// ContentURLs is the decoded shape of Content.URLs.
type ContentURLs struct {
	WebM   string `json:"webm,omitempty"`
	MP4    string `json:"mp4,omitempty"`
	MP4SBS string `json:"mp4_sbs,omitempty"`
}
