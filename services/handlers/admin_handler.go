package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/shared"
)

type AdminHandler struct {
	mediaSvc MediaServiceInterface
}

func NewAdminHandler(mediaSvc MediaServiceInterface) *AdminHandler {
	return &AdminHandler{mediaSvc: mediaSvc}
}

// @Summary Create or update a location
// @Description Upsert a geofenced location
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param createLocationRequest body dto.CreateLocationRequest true "Location details"
// @Success 201 {object} shared.Response{data=model.Location}
// @Router /api/v1/admin/locations [post]
func (h *AdminHandler) CreateLocation(c *fiber.Ctx) error {
	var req dto.CreateLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	loc, err := h.mediaSvc.CreateLocation(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Location saved", loc)
}

// @Summary Create a content record
// @Description Create a content record; variants are uploaded separately
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param createContentRequest body dto.CreateContentRequest true "Content details"
// @Success 201 {object} shared.Response{data=model.Content}
// @Router /api/v1/admin/contents [post]
func (h *AdminHandler) CreateContent(c *fiber.Ctx) error {
	var req dto.CreateContentRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	content, err := h.mediaSvc.CreateContent(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "Content created", content)
}

// @Summary Upload a media variant
// @Description Upload one video variant (alpha, sbs, flat) or the poster for a content record
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param contentId path string true "Content ID"
// @Param kind path string true "Variant kind" Enums(alpha, sbs, flat, poster)
// @Param file formData file true "Media file"
// @Success 200 {object} shared.Response{data=dto.MediaUploadResponse}
// @Router /api/v1/admin/contents/{contentId}/media/{kind} [post]
func (h *AdminHandler) UploadVariant(c *fiber.Ctx) error {
	contentID := c.Params("contentId")
	kind := c.Params("kind")

	file, err := c.FormFile("file")
	if err != nil {
		return shared.NewBadRequestError(err, "No file provided")
	}

	resp, err := h.mediaSvc.UploadVariant(contentID, kind, file)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Variant uploaded", resp)
}
