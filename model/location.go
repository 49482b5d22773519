package model

import "time"

// Location is a circular geofence region content can be bound to. The ID is
// the value encoded in the venue QR code.
type Location struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name"`
	Lat          float64   `json:"lat" gorm:"not null"`
	Lng          float64   `json:"lng" gorm:"not null"`
	RadiusMeters float64   `json:"radius_meters" gorm:"not null"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}
