package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/dm-campaign-engine/internal/app"
	"github.com/acme/dm-campaign-engine/internal/config"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/queue"
	"github.com/acme/dm-campaign-engine/internal/repository"
	"github.com/acme/dm-campaign-engine/pkg/logger"
)

// failReasonEnded marks messages abandoned when their campaign's end date passes.
const failReasonEnded = "campaign_ended"

// taskPublisher emits send tasks for the workers.
type taskPublisher interface {
	PublishTask(ctx context.Context, task queue.DispatchTask) error
}

// Dispatcher periodically activates due campaigns, publishes queued messages
// to the send workers and completes finished campaigns.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	messages  repository.MessageStore
	publisher taskPublisher
	logger    *logger.Logger

	tickInterval time.Duration
	batchSize    int
	fetchLimit   int
}

// New constructs a dispatcher from the application container.
func New(container *app.Container) *Dispatcher {
	repos := container.Repositories()
	return newDispatcher(repos.Campaigns, repos.Messages, container.Publishers().Dispatch, container.Logger, container.Config.Dispatcher)
}

func newDispatcher(campaigns repository.CampaignRepository, messages repository.MessageStore, publisher taskPublisher, lg *logger.Logger, cfg config.DispatcherConfig) *Dispatcher {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 100
	}
	fetch := cfg.WorkerCount * 10
	if fetch <= 0 {
		fetch = 100
	}
	return &Dispatcher{
		campaigns:    campaigns,
		messages:     messages,
		publisher:    publisher,
		logger:       lg,
		tickInterval: interval,
		batchSize:    batch,
		fetchLimit:   fetch,
	}
}

// Run executes the dispatch loop until cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		if err := d.tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatcher tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	tracer := otel.Tracer("autodm.dispatcher")
	sctx, span := tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	now := time.Now().UTC()

	if err := d.activateDueCampaigns(sctx, now); err != nil {
		span.RecordError(err)
		d.logger.Warn("dispatcher: activate due campaigns", zap.Error(err))
	}

	campaigns, err := d.campaigns.ListByStatus(sctx, domain.CampaignStatusActive, d.fetchLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	for _, campaign := range campaigns {
		cctx, cspan := tracer.Start(sctx, "dispatcher.campaign", trace.WithAttributes(
			attribute.String("campaign.id", campaign.ID.String()),
		))
		if err := d.processCampaign(cctx, campaign, now); err != nil {
			cspan.RecordError(err)
			d.logger.WithContext(cctx).Error("dispatcher: process campaign", zap.Error(err), zap.String("campaign_id", campaign.ID.String()))
		}
		cspan.End()
	}

	return nil
}

// activateDueCampaigns flips scheduled campaigns whose start date has passed.
func (d *Dispatcher) activateDueCampaigns(ctx context.Context, now time.Time) error {
	scheduled, err := d.campaigns.ListByStatus(ctx, domain.CampaignStatusScheduled, d.fetchLimit)
	if err != nil {
		return err
	}

	for _, campaign := range scheduled {
		if campaign.StartDate.After(now) {
			continue
		}
		err := d.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusScheduled, domain.CampaignStatusActive)
		if err != nil {
			// lost to a concurrent transition, not a failure
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			d.logger.Error("dispatcher: activate campaign", zap.Error(err), zap.String("campaign_id", campaign.ID.String()))
			continue
		}
		d.logger.Info("dispatcher: campaign activated", zap.String("campaign_id", campaign.ID.String()))
	}
	return nil
}

func (d *Dispatcher) processCampaign(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	if campaign.EndDate != nil && campaign.EndDate.Before(now) {
		return d.endCampaign(ctx, campaign, now)
	}

	queued, err := d.messages.ListQueued(ctx, campaign.ID, d.batchSize)
	if err != nil {
		return err
	}

	if len(queued) == 0 {
		return d.maybeComplete(ctx, campaign)
	}

	for _, msg := range queued {
		// send attempts are idempotent, so re-publishing a message that is
		// still queued on the next tick is harmless
		task := queue.DispatchTask{
			MessageID:   msg.ID,
			CampaignID:  msg.CampaignID,
			PlatformID:  msg.PlatformID,
			RecipientID: msg.RecipientID,
			EnqueuedAt:  now,
		}
		if err := d.publisher.PublishTask(ctx, task); err != nil {
			d.logger.Error("dispatcher: publish task", zap.Error(err), zap.String("message_id", msg.ID.String()))
		}
	}
	d.logger.Info("dispatcher: published tasks", zap.String("campaign_id", campaign.ID.String()), zap.Int("count", len(queued)))
	return nil
}

// endCampaign fails outstanding messages and completes the campaign once its
// end date has passed.
func (d *Dispatcher) endCampaign(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	failed, err := d.messages.FailNonTerminal(ctx, campaign.ID, failReasonEnded, now)
	if err != nil {
		return err
	}
	if failed > 0 {
		d.logger.Info("dispatcher: failed expired messages", zap.String("campaign_id", campaign.ID.String()), zap.Int64("count", failed))
	}

	err = d.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusActive, domain.CampaignStatusCompleted)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	if err == nil {
		d.logger.Info("dispatcher: campaign completed at end date", zap.String("campaign_id", campaign.ID.String()))
	}
	return nil
}

// maybeComplete finishes a non-recurring campaign when every message has
// reached a terminal state. Recurring campaigns stay active until their end
// date or an operator stops them.
func (d *Dispatcher) maybeComplete(ctx context.Context, campaign *domain.Campaign) error {
	if campaign.IsRecurring {
		return nil
	}

	counts, err := d.messages.CountByStatus(ctx, campaign.ID, nil)
	if err != nil {
		return err
	}

	var total, pending int64
	for status, n := range counts {
		total += n
		if !status.IsTerminal() {
			pending += n
		}
	}
	if total == 0 || pending > 0 {
		return nil
	}

	err = d.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusActive, domain.CampaignStatusCompleted)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	if err == nil {
		d.logger.Info("dispatcher: campaign completed", zap.String("campaign_id", campaign.ID.String()))
	}
	return nil
}
