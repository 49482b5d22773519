package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberRecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	log "github.com/sirupsen/logrus"

	docs "github.com/AriukCS1A/testreg/docs"
	"github.com/AriukCS1A/testreg/middleware"
	"github.com/AriukCS1A/testreg/services/handlers"
	"github.com/AriukCS1A/testreg/shared"
)

type HttpService struct {
	appContext.DefaultService

	gateSvc       *GateService
	mediaSvc      *MediaService
	jwtSvc        *JWTService
	rateLimitSvc  *RateLimitService
	monitoringSvc *MonitoringService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *appContext.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.gateSvc = svc.Service(GATE_SVC).(*GateService)
	svc.mediaSvc = svc.Service(MEDIA_SVC).(*MediaService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	docs.SwaggerInfo.BasePath = ""

	app := fiber.New(fiber.Config{
		JSONEncoder:  shared.JSONMarshal,
		JSONDecoder:  shared.JSONUnmarshal,
		ErrorHandler: svc.handleError,
		BodyLimit:    250 * 1024 * 1024,
	})

	app.Use(fiberRecover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Device-Hash",
	}))
	app.Use(MonitoringMiddleware(svc.monitoringSvc))
	app.Use(svc.rateLimitSvc.IPRateLimit())

	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", swagger.HandlerDefault)

	gateHandler := handlers.NewGateHandler(svc.gateSvc)
	adminHandler := handlers.NewAdminHandler(svc.mediaSvc)
	sessionAuth := middleware.SessionAuth(svc.jwtSvc)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	v1.Post("/session", svc.rateLimitSvc.RateLimit("session_start"), gateHandler.StartSession)

	v1.Post("/register", sessionAuth, svc.rateLimitSvc.RateLimit("register"), gateHandler.Register)
	v1.Get("/session/state", sessionAuth, gateHandler.GetState)
	v1.Post("/intro/start", sessionAuth, gateHandler.StartIntro)
	v1.Post("/intro/ended", sessionAuth, gateHandler.IntroEnded)
	v1.Post("/exercise/start", sessionAuth, gateHandler.StartExercise)
	v1.Post("/exercise/back", sessionAuth, gateHandler.Back)

	admin := v1.Group("/admin", middleware.AdminAuth())
	admin.Post("/locations", adminHandler.CreateLocation)
	admin.Post("/contents", adminHandler.CreateContent)
	admin.Post("/contents/:contentId/media/:kind", svc.rateLimitSvc.RateLimit("media_upload"), adminHandler.UploadVariant)

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseJSON(c, http.StatusNotFound, "Page not found", nil)
	})

	svc.server = app

	log.WithField("port", svc.port).Info("HTTP server starting")
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithError(err).Error("Unhandled request error")
	return shared.ResponseInternalError(c, err)
}
