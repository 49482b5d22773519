package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/dto"
)

// ipFallbackAccuracyMeters marks IP-derived fixes as city-class. The
// geofence buffer cap keeps them from sneaking through a tight fence.
const ipFallbackAccuracyMeters = 5000

// GeolocationService is the position provider of last resort: clients that
// cannot produce a GPS fix fall back to IP geolocation. Results are
// cached for a day.
type GeolocationService struct {
	appContext.DefaultService
	httpClient  *http.Client
	apiURL      string
	redisSvc    *RedisService
	cacheExpiry time.Duration
}

const GEOLOCATION_SVC = "geolocation_svc"

func (svc GeolocationService) Id() string {
	return GEOLOCATION_SVC
}

func (svc *GeolocationService) Configure(ctx *appContext.Context) error {
	svc.httpClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	svc.apiURL = "http://ip-api.com/json"
	svc.cacheExpiry = 24 * time.Hour
	return svc.DefaultService.Configure(ctx)
}

func (svc *GeolocationService) Start() error {
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

// PositionByIP resolves a coarse position for an IP. Loopback and empty
// addresses resolve to nothing rather than an error.
func (svc *GeolocationService) PositionByIP(ctx context.Context, ip string) (*dto.Position, error) {
	if ip == "" || ip == "127.0.0.1" || ip == "::1" {
		return nil, nil
	}

	cacheKey := fmt.Sprintf("geolocation:position:%s", ip)

	if svc.redisSvc != nil {
		var cached dto.Position
		err := svc.redisSvc.GetJSON(ctx, cacheKey, &cached)
		if err == nil && (cached.Latitude != 0 || cached.Longitude != 0) {
			log.WithField("ip", ip).Debug("Geolocation cache hit")
			cached.Timestamp = time.Now()
			return &cached, nil
		}
	}

	url := fmt.Sprintf("%s/%s?fields=status,lat,lon", svc.apiURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("ip", ip).Error("Failed to get geolocation")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).WithField("ip", ip).Error("Geolocation API returned non-200 status")
		return nil, fmt.Errorf("geolocation API returned status %d", resp.StatusCode)
	}

	var result struct {
		Status string  `json:"status"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.WithError(err).WithField("ip", ip).Error("Failed to decode geolocation response")
		return nil, err
	}

	if result.Status != "success" {
		log.WithField("status", result.Status).WithField("ip", ip).Warn("Geolocation lookup failed")
		return nil, fmt.Errorf("geolocation lookup failed: %s", result.Status)
	}

	pos := &dto.Position{
		Latitude:       result.Lat,
		Longitude:      result.Lon,
		AccuracyMeters: ipFallbackAccuracyMeters,
		Timestamp:      time.Now(),
	}

	if svc.redisSvc != nil {
		if err := svc.redisSvc.Set(ctx, cacheKey, pos, svc.cacheExpiry); err != nil {
			log.WithError(err).WithField("ip", ip).Warn("Failed to cache geolocation result")
		}
	}

	return pos, nil
}
