package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
	campaignsvc "github.com/acme/dm-campaign-engine/internal/service/campaign"
)

type createCampaignRequest struct {
	Name            string     `json:"name"`
	PlatformID      uuid.UUID  `json:"platform_id"`
	TargetAudience  string     `json:"target_audience"`
	MessageTemplate string     `json:"message_template"`
	ImageURL        *string    `json:"image_url"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	Frequency       int        `json:"frequency"`
	IsRecurring     bool       `json:"is_recurring"`
	Schedule        bool       `json:"schedule"`
}

type updateCampaignRequest struct {
	Name            *string    `json:"name"`
	TargetAudience  *string    `json:"target_audience"`
	MessageTemplate *string    `json:"message_template"`
	ImageURL        *string    `json:"image_url"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	Frequency       *int       `json:"frequency"`
	IsRecurring     *bool      `json:"is_recurring"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type enqueueRequest struct {
	Recipients []string `json:"recipients"`
}

type campaignResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	PlatformID      uuid.UUID             `json:"platform_id"`
	Status          domain.CampaignStatus `json:"status"`
	TargetAudience  string                `json:"target_audience"`
	MessageTemplate string                `json:"message_template"`
	ImageURL        *string               `json:"image_url,omitempty"`
	StartDate       time.Time             `json:"start_date"`
	EndDate         *time.Time            `json:"end_date,omitempty"`
	Frequency       int                   `json:"frequency"`
	IsRecurring     bool                  `json:"is_recurring"`
	TotalMessages   int64                 `json:"total_messages"`
	SentMessages    int64                 `json:"sent_messages"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type enqueueResponse struct {
	Queued  []messageResponse `json:"queued"`
	Skipped int               `json:"skipped"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}

	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.Create(ctx.Context(), caller, campaignsvc.CreateCampaignInput{
		Name:            req.Name,
		PlatformID:      req.PlatformID,
		TargetAudience:  req.TargetAudience,
		MessageTemplate: req.MessageTemplate,
		ImageURL:        req.ImageURL,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Frequency:       req.Frequency,
		IsRecurring:     req.IsRecurring,
		Schedule:        req.Schedule,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}

	filter := campaignsvc.ListFilter{}
	filter.Limit, _ = strconv.Atoi(ctx.Query("limit", "50"))
	if raw := ctx.Query("platform_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid platform_id")
		}
		filter.PlatformID = &id
	}
	if raw := ctx.Query("status"); raw != "" {
		status := domain.CampaignStatus(raw)
		filter.Status = &status
	}
	if raw := ctx.Query("started_after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid started_after")
		}
		filter.StartedAfter = &t
	}
	if raw := ctx.Query("started_before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid started_before")
		}
		filter.StartedBefore = &t
	}

	campaigns, err := h.campaigns.List(ctx.Context(), caller, filter)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, campaign := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(campaign))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), caller, id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.Update(ctx.Context(), caller, campaignsvc.UpdateCampaignInput{
		ID:              id,
		Name:            req.Name,
		TargetAudience:  req.TargetAudience,
		MessageTemplate: req.MessageTemplate,
		ImageURL:        req.ImageURL,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Frequency:       req.Frequency,
		IsRecurring:     req.IsRecurring,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) deleteCampaign(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	if err := h.campaigns.Delete(ctx.Context(), caller, id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) setCampaignStatus(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req setStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.campaigns.SetStatus(ctx.Context(), caller, id, domain.CampaignStatus(req.Status)); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) enqueueRecipients(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req enqueueRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.dispatch.Enqueue(ctx.Context(), caller, id, req.Recipients)
	if err != nil {
		return translateError(err)
	}

	resp := enqueueResponse{Queued: make([]messageResponse, 0, len(result.Queued)), Skipped: result.Skipped}
	for _, msg := range result.Queued {
		resp.Queued = append(resp.Queued, toMessageResponse(&msg))
	}
	return ctx.Status(http.StatusAccepted).JSON(resp)
}

func (h *HandlerSet) listCampaignMessages(ctx *fiber.Ctx) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	filter := repository.MessageFilter{}
	if raw := ctx.Query("status"); raw != "" {
		status := domain.MessageStatus(raw)
		filter.Status = &status
	}
	if raw := ctx.Query("platform_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid platform_id")
		}
		filter.PlatformID = &pid
	}
	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))

	page, err := h.dispatch.ListMessages(ctx.Context(), caller, id, filter, limit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := listMessagesResponse{Messages: make([]messageResponse, 0, len(page.Messages)), NextPage: page.NextToken}
	for _, msg := range page.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(&msg))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              campaign.ID,
		Name:            campaign.Name,
		PlatformID:      campaign.PlatformID,
		Status:          campaign.Status,
		TargetAudience:  campaign.TargetAudience,
		MessageTemplate: campaign.MessageTemplate,
		ImageURL:        campaign.ImageURL,
		StartDate:       campaign.StartDate,
		EndDate:         campaign.EndDate,
		Frequency:       campaign.Frequency,
		IsRecurring:     campaign.IsRecurring,
		TotalMessages:   campaign.TotalMessages,
		SentMessages:    campaign.SentMessages,
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
	}
}
