package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/dm-campaign-engine/internal/app"
	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/queue"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

// Worker consumes dispatch tasks and drives send attempts.
type Worker struct {
	container *app.Container
}

// New creates a send worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.DispatchTopic, cfg.Kafka.SendConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("send worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("send worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var task queue.DispatchTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal task: %w", err)
	}

	tracer := otel.Tracer("autodm.sendworker")
	sctx, span := tracer.Start(ctx, "message.attempt", trace.WithAttributes(
		attribute.String("message.id", task.MessageID.String()),
		attribute.String("campaign.id", task.CampaignID.String()),
	))
	defer span.End()

	// workers act on behalf of the system, not a client
	outcome, err := w.container.Services().Dispatch.AttemptSend(sctx, auth.Caller{Elevated: true}, task.MessageID)
	if err != nil {
		// a paused or cancelled campaign parks its tasks; the dispatcher
		// re-publishes queued messages when the campaign resumes
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
			w.container.Logger.Warn("send worker: task dropped",
				zap.Error(err),
				zap.String("message_id", task.MessageID.String()))
			return reader.CommitMessages(sctx, m)
		}
		span.RecordError(err)
		return err
	}

	if outcome.Attempt {
		status := queue.StatusMessage{
			MessageID:  outcome.Message.ID,
			CampaignID: outcome.Message.CampaignID,
			PlatformID: outcome.Message.PlatformID,
			Status:     string(outcome.Message.Status),
			Error:      outcome.Error,
			OccurredAt: time.Now().UTC(),
		}
		if outcome.Duration > 0 {
			status.DurationMs = int64(outcome.Duration / time.Millisecond)
		}
		if err := w.container.Publishers().Status.PublishStatus(sctx, status); err != nil {
			span.RecordError(err)
			w.container.Logger.Error("send worker: publish status", zap.Error(err))
		}
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}
