package model

import "time"

// ScanLog is the append-only audit trail of gate decisions. Positions are
// never stored outside of this log.
type ScanLog struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	SessionID      string    `json:"session_id" gorm:"index"`
	DeviceHash     string    `json:"device_hash" gorm:"index"`
	LocationID     string    `json:"location_id"`
	Event          string    `json:"event" gorm:"not null"` // session_start, register, intro_start, exercise_start, ...
	GeofenceReason string    `json:"geofence_reason"`
	DistanceMeters float64   `json:"distance_meters"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
}
