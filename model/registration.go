package model

import (
	"encoding/json"
	"time"
)

// Registration is keyed by the normalized phone number. It is created
// exactly once per phone (first writer wins); later devices only append
// their key hash into DeviceKeyHashes.
type Registration struct {
	Phone           string          `json:"phone" gorm:"primaryKey"`
	Source          string          `json:"source" gorm:"not null"`
	UserAgent       string          `json:"user_agent"`
	Lat             float64         `json:"lat"`
	Lng             float64         `json:"lng"`
	AccuracyMeters  float64         `json:"accuracy_meters"`
	DeviceKeyHashes json.RawMessage `json:"device_key_hashes" gorm:"not null"` // JSON array, set semantics
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

// DeviceKey maps a device's public key hash to the phone it registered
// with. The hash is the only identity a device ever shares.
type DeviceKey struct {
	PublicHashHex string    `json:"public_hash_hex" gorm:"primaryKey;size:64"`
	Phone         string    `json:"phone" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null"`
}
