package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
	dispatchsvc "github.com/acme/dm-campaign-engine/internal/service/dispatch"
)

type messageResponse struct {
	ID          uuid.UUID            `json:"id"`
	CampaignID  uuid.UUID            `json:"campaign_id"`
	PlatformID  uuid.UUID            `json:"platform_id"`
	RecipientID string               `json:"recipient_id"`
	Status      domain.MessageStatus `json:"status"`
	FailReason  *string              `json:"fail_reason,omitempty"`
	QueuedAt    time.Time            `json:"queued_at"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	LastEventAt *time.Time           `json:"last_event_at,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type recordEventRequest struct {
	MessageID  uuid.UUID  `json:"messageId"`
	Event      string     `json:"event"`
	OccurredAt *time.Time `json:"occurredAt"`
}

func (h *HandlerSet) getMessage(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.dispatch.GetMessage(ctx.Context(), caller, id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toMessageResponse(msg))
}

// attemptMessage drives one send attempt synchronously. The dispatcher and
// send workers use the same service path through Kafka; this endpoint exists
// for manual retries and testing.
func (h *HandlerSet) attemptMessage(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	outcome, err := h.dispatch.AttemptSend(ctx.Context(), caller, id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"message":   toMessageResponse(&outcome.Message),
		"attempted": outcome.Attempt,
	})
}

func (h *HandlerSet) recordEvent(ctx *fiber.Ctx) error {
	// engagement callbacks arrive from platform adapters through the
	// gateway; no ownership check is applied beyond gateway auth
	if _, err := h.caller(ctx); err != nil {
		return err
	}

	var req recordEventRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := dispatchsvc.EventInput{
		MessageID: req.MessageID,
		Kind:      domain.EventKind(req.Event),
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}

	msg, err := h.dispatch.RecordEvent(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": toMessageResponse(msg),
	})
}

func toMessageResponse(msg *domain.Message) messageResponse {
	return messageResponse{
		ID:          msg.ID,
		CampaignID:  msg.CampaignID,
		PlatformID:  msg.PlatformID,
		RecipientID: msg.RecipientID,
		Status:      msg.Status,
		FailReason:  msg.FailReason,
		QueuedAt:    msg.QueuedAt,
		SentAt:      msg.SentAt,
		LastEventAt: msg.LastEventAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}
