package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-inbox/internal/api/dto"
	"github.com/spec-kit/patient-inbox/internal/clock"
	"github.com/spec-kit/patient-inbox/internal/service"
	"github.com/spec-kit/patient-inbox/internal/triage"
)

// TriageHandler classifies free text on demand, e.g. for a staff preview.
type TriageHandler struct {
	engine  *triage.Engine
	manager *service.ConversationManager
	clock   clock.Clock
}

// NewTriageHandler constructs handler.
func NewTriageHandler(engine *triage.Engine, manager *service.ConversationManager, clk clock.Clock) *TriageHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TriageHandler{engine: engine, manager: manager, clock: clk}
}

// Classify POST /triage/classify. Every text classifies, the empty string
// included (UNKNOWN at 0.3).
func (h *TriageHandler) Classify(c *fiber.Ctx) error {
	var req dto.ClassifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	ctx := triage.Context{Now: h.clock.Now()}
	if req.ConversationID != "" {
		conv, err := h.manager.Get(c.UserContext(), req.ConversationID)
		if err != nil {
			return err
		}
		ctx.Patient = conv.Patient
	}
	return c.JSON(fiber.Map{"data": triageResponse(h.engine.Triage(req.Text, ctx))})
}

func triageResponse(s triage.Suggestion) dto.TriageResponse {
	return dto.TriageResponse{
		Intent:             s.Intent,
		SuggestedResponses: s.Responses,
		SuggestedActions:   s.Actions,
		RequiresHuman:      s.RequiresHuman,
		Urgency:            s.Urgency,
	}
}
