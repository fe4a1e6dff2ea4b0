package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
)

type metricsResponse struct {
	CampaignID     uuid.UUID        `json:"campaign_id"`
	PlatformID     *uuid.UUID       `json:"platform_id,omitempty"`
	StatusCounts   map[string]int64 `json:"status_counts"`
	TotalMessages  int64            `json:"total_messages"`
	SentMessages   int64            `json:"sent_messages"`
	OpenRate       float64          `json:"open_rate"`
	ResponseRate   float64          `json:"response_rate"`
	ConversionRate float64          `json:"conversion_rate"`
}

// allMetricsResponse maps campaign id to its snapshot. The dashboard indexes
// this object by campaign id, so the keying must not change.
type allMetricsResponse map[string]metricsResponse

func (h *HandlerSet) campaignMetrics(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var platformID *uuid.UUID
	if raw := ctx.Query("platform_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid platform_id")
		}
		platformID = &pid
	}

	snapshot, err := h.metrics.CampaignMetrics(ctx.Context(), caller, id, platformID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toMetricsResponse(*snapshot))
}

func (h *HandlerSet) allMetrics(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}

	snapshots, err := h.metrics.AllMetrics(ctx.Context(), caller)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toAllMetricsResponse(snapshots))
}

func toAllMetricsResponse(snapshots map[uuid.UUID]domain.MetricsSnapshot) allMetricsResponse {
	resp := make(allMetricsResponse, len(snapshots))
	for id, snapshot := range snapshots {
		resp[id.String()] = toMetricsResponse(snapshot)
	}
	return resp
}

func toMetricsResponse(snapshot domain.MetricsSnapshot) metricsResponse {
	counts := make(map[string]int64, len(snapshot.StatusCounts))
	for status, n := range snapshot.StatusCounts {
		counts[string(status)] = n
	}
	return metricsResponse{
		CampaignID:     snapshot.CampaignID,
		PlatformID:     snapshot.PlatformID,
		StatusCounts:   counts,
		TotalMessages:  snapshot.TotalMessages,
		SentMessages:   snapshot.SentMessages,
		OpenRate:       snapshot.OpenRate,
		ResponseRate:   snapshot.ResponseRate,
		ConversionRate: snapshot.ConversionRate,
	}
}
