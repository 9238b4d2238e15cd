package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-inbox/internal/api/dto"
	"github.com/spec-kit/patient-inbox/internal/auth"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/service"
)

// ConversationsHandler serves the staff inbox.
type ConversationsHandler struct {
	manager *service.ConversationManager
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(manager *service.ConversationManager) *ConversationsHandler {
	return &ConversationsHandler{manager: manager}
}

// List GET /conversations.
func (h *ConversationsHandler) List(c *fiber.Ctx) error {
	filter := service.ListFilter{
		Status:  c.Query("status"),
		Search:  c.Query("search"),
		Starred: c.QueryBool("starred"),
		Unread:  c.QueryBool("unread"),
	}
	conversations, err := h.manager.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	settings := h.settings(c)
	items := make([]dto.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		items = append(items, h.summary(conv, settings))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Counts GET /conversations/counts.
func (h *ConversationsHandler) Counts(c *fiber.Ctx) error {
	counts := h.manager.Counts(c.UserContext())
	return c.JSON(fiber.Map{"data": dto.CountsResponse(counts)})
}

// Get GET /conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	conv, err := h.manager.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.detail(conv, h.settings(c))})
}

// SendMessage POST /conversations/:id/messages.
func (h *ConversationsHandler) SendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Text) == "" {
		return fiber.NewError(http.StatusBadRequest, "text required")
	}
	_, msg, err := h.manager.Send(staffContext(c), c.Params("id"), service.SendInput{
		Text:    req.Text,
		Channel: req.Channel,
		Type:    req.Type,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": messageResponse(msg)})
}

// RetryMessage POST /conversations/:id/messages/:messageId/retry.
func (h *ConversationsHandler) RetryMessage(c *fiber.Ctx) error {
	messageID, err := strconv.ParseInt(c.Params("messageId"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}
	_, msg, err := h.manager.Retry(staffContext(c), c.Params("id"), messageID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": messageResponse(msg)})
}

// Close POST /conversations/:id/close.
func (h *ConversationsHandler) Close(c *fiber.Ctx) error {
	conv, err := h.manager.Close(staffContext(c), c.Params("id"))
	return h.respond(c, conv, err)
}

// Snooze POST /conversations/:id/snooze. A closed conversation must be
// reopened first; snoozing it answers 409 INVALID_TRANSITION.
func (h *ConversationsHandler) Snooze(c *fiber.Ctx) error {
	var req dto.SnoozeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	conv, err := h.manager.Snooze(staffContext(c), c.Params("id"), req.Until)
	return h.respond(c, conv, err)
}

// Reopen POST /conversations/:id/reopen.
func (h *ConversationsHandler) Reopen(c *fiber.Ctx) error {
	conv, err := h.manager.Reopen(staffContext(c), c.Params("id"))
	return h.respond(c, conv, err)
}

// MarkRead POST /conversations/:id/read.
func (h *ConversationsHandler) MarkRead(c *fiber.Ctx) error {
	conv, err := h.manager.MarkAsRead(staffContext(c), c.Params("id"))
	return h.respond(c, conv, err)
}

// ToggleStar POST /conversations/:id/star.
func (h *ConversationsHandler) ToggleStar(c *fiber.Ctx) error {
	conv, err := h.manager.ToggleStar(staffContext(c), c.Params("id"))
	return h.respond(c, conv, err)
}

func (h *ConversationsHandler) respond(c *fiber.Ctx, conv *domain.Conversation, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.summary(conv, h.settings(c))})
}

// settings reads the auto-close snapshot for the closing_soon flag. The flag
// is advisory, so an unreadable snapshot just turns it off.
func (h *ConversationsHandler) settings(c *fiber.Ctx) domain.AutoCloseSettings {
	settings, err := h.manager.AutoCloseSettings(c.UserContext())
	if err != nil {
		return domain.AutoCloseNever
	}
	return settings
}

func (h *ConversationsHandler) summary(conv *domain.Conversation, settings domain.AutoCloseSettings) dto.ConversationSummary {
	return dto.ConversationSummary{
		ID:              conv.ID,
		Patient:         patientResponse(conv.Patient),
		Status:          conv.Status,
		SnoozedUntil:    conv.SnoozedUntil,
		Starred:         conv.Starred,
		UnreadCount:     conv.UnreadCount,
		LastMessage:     conv.LastMessage,
		LastMessageTime: conv.LastMessageTime,
		ClosingSoon:     h.manager.IsClosingSoon(conv, settings),
		CurrentIntent:   conv.CurrentIntent,
	}
}

func (h *ConversationsHandler) detail(conv *domain.Conversation, settings domain.AutoCloseSettings) dto.ConversationDetail {
	messages := make([]dto.MessageResponse, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		messages = append(messages, messageResponse(msg))
	}
	actions := conv.SuggestedActions
	if actions == nil {
		actions = []domain.Action{}
	}
	return dto.ConversationDetail{
		ConversationSummary: h.summary(conv, settings),
		Messages:            messages,
		SuggestedActions:    actions,
		CreatedAt:           conv.CreatedAt,
		UpdatedAt:           conv.UpdatedAt,
	}
}

func patientResponse(p domain.Patient) dto.PatientResponse {
	return dto.PatientResponse{
		ID:               p.ID,
		Name:             p.Name,
		Phone:            p.Phone,
		Email:            p.Email,
		PreferredChannel: p.PreferredChannel,
		SMSOptIn:         p.SMSOptIn,
		LastAppointment:  p.LastAppointment,
		NextAppointment:  p.NextAppointment,
	}
}

func messageResponse(msg domain.Message) dto.MessageResponse {
	return dto.MessageResponse{
		ID:                msg.ID,
		Sender:            msg.Sender,
		Text:              msg.Text,
		Time:              msg.Time,
		Channel:           msg.Channel,
		Type:              msg.Type,
		Status:            msg.Status,
		Attempts:          msg.Attempts,
		ProviderMessageID: msg.ProviderMessageID,
		Intent:            msg.Intent,
	}
}

// staffContext attributes manager events to the authenticated staff member.
func staffContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := auth.StaffID(c); id != nil {
		ctx = service.WithStaff(ctx, *id)
	}
	return ctx
}

func parseIntQuery(c *fiber.Ctx, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultVal
}
