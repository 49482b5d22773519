package main

import (
	"github.com/AriukCS1A/testreg/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title testreg API
// @version 1.0
// @description Location gated AR video experience backend
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file found, using system environment")
	}

	ctx, err := context.NewCtx(
		&services.RedisService{},
		&services.StorageService{},
		&services.MinIOService{},
		&services.MonitoringService{},
		&services.JWTService{},
		&services.RateLimitService{},

		&services.GeofenceService{},
		&services.IdentityService{},
		&services.CapabilityService{},
		&services.LoaderService{},
		&services.AlphaService{},
		&services.GeolocationService{},
		&services.MediaService{},
		&services.GateService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
