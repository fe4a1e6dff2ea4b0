package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/dm-campaign-engine/internal/app"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/queue"
	dispatchsvc "github.com/acme/dm-campaign-engine/internal/service/dispatch"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

// Worker consumes engagement events pushed by platform adapters and records
// them against their messages.
type Worker struct {
	container *app.Container
}

// New creates an event worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.EventsTopic, cfg.Kafka.EventConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("event worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("event worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var event queue.EngagementMessage
	if err := json.Unmarshal(m.Value, &event); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal event: %w", err)
	}

	tracer := otel.Tracer("autodm.eventworker")
	sctx, span := tracer.Start(ctx, "event.record", trace.WithAttributes(
		attribute.String("message.id", event.MessageID.String()),
		attribute.String("event.kind", event.Kind),
	))
	defer span.End()

	input := dispatchsvc.EventInput{
		MessageID:  event.MessageID,
		Kind:       domain.EventKind(event.Kind),
		OccurredAt: event.OccurredAt,
	}
	if _, err := w.container.Services().Dispatch.RecordEvent(sctx, input); err != nil {
		// stale or malformed signals are logged and dropped, never retried
		switch {
		case errors.Is(err, apperrors.ErrNotFound),
			errors.Is(err, apperrors.ErrConflict),
			errors.Is(err, apperrors.ErrValidation):
			w.container.Logger.Warn("event worker: event dropped",
				zap.Error(err),
				zap.String("message_id", event.MessageID.String()),
				zap.String("kind", event.Kind))
		default:
			span.RecordError(err)
			return err
		}
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}
