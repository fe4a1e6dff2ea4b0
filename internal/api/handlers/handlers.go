package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/dm-campaign-engine/internal/app"
	"github.com/acme/dm-campaign-engine/internal/auth"
	campaignsvc "github.com/acme/dm-campaign-engine/internal/service/campaign"
	dispatchsvc "github.com/acme/dm-campaign-engine/internal/service/dispatch"
	metricssvc "github.com/acme/dm-campaign-engine/internal/service/metrics"
)

// Header names set by the API gateway after authentication.
const (
	headerClientID = "X-Client-ID"
	headerRole     = "X-Client-Role"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	campaigns *campaignsvc.Service
	dispatch  *dispatchsvc.Service
	metrics   *metricssvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		campaigns: services.Campaign,
		dispatch:  services.Dispatch,
		metrics:   services.Metrics,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Delete("/:id", h.deleteCampaign)
	campaigns.Post("/:id/status", h.setCampaignStatus)
	campaigns.Post("/:id/enqueue", h.enqueueRecipients)
	campaigns.Get("/:id/messages", h.listCampaignMessages)
	campaigns.Get("/:id/metrics", h.campaignMetrics)

	messages := v1.Group("/messages")
	messages.Get("/:id", h.getMessage)
	messages.Post("/:id/attempt", h.attemptMessage)

	v1.Post("/events", h.recordEvent)
	v1.Get("/metrics", h.allMetrics)
}

// caller extracts the authenticated principal forwarded by the gateway.
func (h *HandlerSet) caller(ctx *fiber.Ctx) (auth.Caller, error) {
	if ctx.Get(headerRole) == "admin" {
		return auth.Caller{Elevated: true}, nil
	}
	clientID, err := uuid.Parse(ctx.Get(headerClientID))
	if err != nil {
		return auth.Caller{}, fiber.NewError(http.StatusUnauthorized, "missing or invalid client identity")
	}
	return auth.Caller{ClientID: clientID}, nil
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
