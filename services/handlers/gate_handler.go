package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/shared"
)

type GateHandler struct {
	gateSvc GateServiceInterface
}

func NewGateHandler(gateSvc GateServiceInterface) *GateHandler {
	return &GateHandler{gateSvc: gateSvc}
}

// @Summary Start a session
// @Description Resolve the device identity and open an experience session
// @Tags gate
// @Accept json
// @Produce json
// @Param startSessionRequest body dto.StartSessionRequest true "Device hash, capability report and optional position"
// @Success 201 {object} shared.Response{data=dto.StartSessionResponse}
// @Router /api/v1/session [post]
func (h *GateHandler) StartSession(c *fiber.Ctx) error {
	var req dto.StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.gateSvc.StartSession(c.Context(), req, c.Get("User-Agent"), c.IP())
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Session started", resp)
}

// @Summary Register a phone
// @Description Record the phone number for this device. Re-registering an existing phone is a success path.
// @Tags gate
// @Accept json
// @Produce json
// @Security Bearer
// @Param registerRequest body dto.RegisterRequest true "Phone and optional position"
// @Success 200 {object} shared.Response{data=dto.RegisterResponse}
// @Router /api/v1/register [post]
func (h *GateHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.gateSvc.Register(c.Context(), sessionID(c), req, c.IP())
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Registered", resp)
}

// @Summary Start the intro video
// @Description Preflight the intro media and advance the session to playing_intro
// @Tags gate
// @Accept json
// @Produce json
// @Security Bearer
// @Param startIntroRequest body dto.StartIntroRequest true "Camera readiness and optional position"
// @Success 200 {object} shared.Response{data=dto.StartPlaybackResponse}
// @Router /api/v1/intro/start [post]
func (h *GateHandler) StartIntro(c *fiber.Ctx) error {
	var req dto.StartIntroRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.gateSvc.StartIntro(c.Context(), sessionID(c), req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Intro", resp)
}

// @Summary Report intro ended
// @Description Move the session to the menu once the intro finished client side
// @Tags gate
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/intro/ended [post]
func (h *GateHandler) IntroEnded(c *fiber.Ctx) error {
	resp, err := h.gateSvc.IntroEnded(sessionID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Intro ended", resp)
}

// @Summary Start the exercise video
// @Description Re-evaluate the geofence with a fresh fix and preflight the exercise media. A refusal is a quiet non-start.
// @Tags gate
// @Accept json
// @Produce json
// @Security Bearer
// @Param startExerciseRequest body dto.StartExerciseRequest true "Fresh position"
// @Success 200 {object} shared.Response{data=dto.StartPlaybackResponse}
// @Router /api/v1/exercise/start [post]
func (h *GateHandler) StartExercise(c *fiber.Ctx) error {
	var req dto.StartExerciseRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.gateSvc.StartExercise(c.Context(), sessionID(c), req, c.IP())
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Exercise", resp)
}

// @Summary Back to menu
// @Description Return from the exercise to the menu
// @Tags gate
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/exercise/back [post]
func (h *GateHandler) Back(c *fiber.Ctx) error {
	resp, err := h.gateSvc.Back(sessionID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Back", resp)
}

// @Summary Get session state
// @Description Current state of the session's gate machine
// @Tags gate
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.SessionStateResponse}
// @Router /api/v1/session/state [get]
func (h *GateHandler) GetState(c *fiber.Ctx) error {
	resp, err := h.gateSvc.GetState(sessionID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "State", resp)
}

func sessionID(c *fiber.Ctx) string {
	if v := c.Locals(shared.SessionID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
