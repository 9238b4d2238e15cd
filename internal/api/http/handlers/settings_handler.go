package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-inbox/internal/api/dto"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/service"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

// SettingsHandler reads and updates inbox settings.
type SettingsHandler struct {
	manager *service.ConversationManager
}

// NewSettingsHandler constructs handler.
func NewSettingsHandler(manager *service.ConversationManager) *SettingsHandler {
	return &SettingsHandler{manager: manager}
}

// GetAutoClose GET /settings/auto-close.
func (h *SettingsHandler) GetAutoClose(c *fiber.Ctx) error {
	settings, err := h.manager.AutoCloseSettings(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AutoCloseSettingsResponse{Days: settings.String()}})
}

// UpdateAutoClose PUT /settings/auto-close.
func (h *SettingsHandler) UpdateAutoClose(c *fiber.Ctx) error {
	var req dto.AutoCloseSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	settings, err := domain.ParseAutoCloseSettings(req.Days)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"days": req.Days})
	}
	if err := h.manager.UpdateAutoCloseSettings(c.UserContext(), settings); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AutoCloseSettingsResponse{Days: settings.String()}})
}
