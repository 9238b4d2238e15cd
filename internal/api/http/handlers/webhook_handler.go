package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-inbox/internal/api/dto"
	"github.com/spec-kit/patient-inbox/internal/service"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

// WebhookSecretHeader carries the shared secret channel adapters present.
const WebhookSecretHeader = "X-Inbox-Webhook-Secret"

// WebhookHandler ingests normalized inbound patient messages.
type WebhookHandler struct {
	manager *service.ConversationManager
	secret  string
}

// NewWebhookHandler constructs handler. An empty secret disables the check.
func NewWebhookHandler(manager *service.ConversationManager, secret string) *WebhookHandler {
	return &WebhookHandler{manager: manager, secret: secret}
}

// Inbound POST /webhooks/inbound.
func (h *WebhookHandler) Inbound(c *fiber.Ctx) error {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		return apperrors.NewUnauthorized("invalid webhook secret")
	}

	var req dto.InboundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	in := service.Inbound{From: req.From, Body: req.Body, Channel: req.Channel}
	if req.ReceivedAt != nil {
		in.ReceivedAt = *req.ReceivedAt
	}

	receipt, err := h.manager.Receive(c.UserContext(), in)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if receipt.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.InboundResponse{
		ConversationID: receipt.Conversation.ID,
		MessageID:      receipt.Message.ID,
		Created:        receipt.Created,
		OptedOut:       receipt.OptOut.IsOptOut,
		Triage:         triageResponse(receipt.Suggestion),
	}})
}
