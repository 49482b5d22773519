package services

import (
	"math"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/model"
	"github.com/AriukCS1A/testreg/shared"
)

const (
	earthRadiusMeters = 6_371_000

	// DefaultFenceRadiusMeters is used when a location record carries no
	// usable radius of its own.
	DefaultFenceRadiusMeters = 200

	// MaxAccuracyBufferMeters caps how much a noisy GPS fix can widen the
	// effective radius, so a low-accuracy fix cannot defeat the fence.
	MaxAccuracyBufferMeters = 75
)

// GeofenceService decides inside/outside for a measured position against a
// stored location. Evaluate is pure and is re-run at every gate decision
// point; decisions are never cached because the device moves between calls.
type GeofenceService struct {
	context.DefaultService
}

const GEOFENCE_SVC = "geofence_svc"

func (svc GeofenceService) Id() string {
	return GEOFENCE_SVC
}

func (svc *GeofenceService) Configure(ctx *context.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *GeofenceService) Start() error {
	return nil
}

// Evaluate checks position against the location fence. Missing location
// wins over missing position so the reason ordering is deterministic.
func (svc *GeofenceService) Evaluate(position *dto.Position, location *model.Location, fallbackRadiusMeters float64) dto.GeofenceDecision {
	if fallbackRadiusMeters <= 0 {
		fallbackRadiusMeters = DefaultFenceRadiusMeters
	}

	if location == nil {
		return dto.GeofenceDecision{OK: false, Reason: shared.GeofenceLocMissing, AllowedRadiusMeters: fallbackRadiusMeters}
	}

	radius := location.RadiusMeters
	if radius <= 0 {
		radius = fallbackRadiusMeters
	}

	if position == nil || (position.Latitude == 0 && position.Longitude == 0) {
		return dto.GeofenceDecision{OK: false, Reason: shared.GeofenceGPSMissing, AllowedRadiusMeters: radius}
	}

	distance := haversineMeters(position.Latitude, position.Longitude, location.Lat, location.Lng)
	buffer := math.Min(position.AccuracyMeters, MaxAccuracyBufferMeters)
	if buffer < 0 {
		buffer = 0
	}

	decision := dto.GeofenceDecision{
		OK:                   distance <= radius+buffer,
		DistanceMeters:       distance,
		AllowedRadiusMeters:  radius,
		AccuracyBufferMeters: buffer,
	}
	if decision.OK {
		decision.Reason = shared.GeofenceOK
	} else {
		decision.Reason = shared.GeofenceTooFar
	}

	log.WithFields(log.Fields{
		"location_id": location.ID,
		"distance_m":  math.Round(distance),
		"radius_m":    radius,
		"buffer_m":    buffer,
		"reason":      decision.Reason,
	}).Debug("Geofence evaluated")

	return decision
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
