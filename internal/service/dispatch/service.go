package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
	"github.com/acme/dm-campaign-engine/internal/sender"
	"github.com/acme/dm-campaign-engine/internal/service/common"
	"github.com/acme/dm-campaign-engine/internal/service/concurrency"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

// Service owns the per-recipient message queue: enqueueing, send attempts
// and engagement event ingestion.
type Service struct {
	campaigns      repository.CampaignRepository
	messages       repository.MessageStore
	stats          repository.CampaignStatisticsRepository
	senders        *sender.Registry
	frequency      concurrency.FrequencyLimiter
	authz          *auth.Authorizer
	directory      repository.PlatformDirectory
	requestTimeout time.Duration
}

// NewService constructs a dispatch service.
func NewService(
	campaigns repository.CampaignRepository,
	messages repository.MessageStore,
	stats repository.CampaignStatisticsRepository,
	directory repository.PlatformDirectory,
	senders *sender.Registry,
	frequency concurrency.FrequencyLimiter,
	authz *auth.Authorizer,
	requestTimeout time.Duration,
) *Service {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Service{
		campaigns:      campaigns,
		messages:       messages,
		stats:          stats,
		senders:        senders,
		frequency:      frequency,
		authz:          authz,
		directory:      directory,
		requestTimeout: requestTimeout,
	}
}

// EnqueueResult summarizes an enqueue call.
type EnqueueResult struct {
	Queued  []domain.Message
	Skipped int
}

// Enqueue creates queued messages for the given recipients. Recipients that
// already have an outstanding message, or that exhausted the campaign's
// per-period frequency cap, are skipped rather than failed.
func (s *Service) Enqueue(ctx context.Context, caller auth.Caller, campaignID uuid.UUID, recipients []string) (*EnqueueResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", apperrors.ErrValidation)
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusScheduled && campaign.Status != domain.CampaignStatusActive {
		return nil, fmt.Errorf("%w: campaign %s is %s, cannot enqueue", apperrors.ErrConflict, campaignID, campaign.Status)
	}

	result := &EnqueueResult{}
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(recipients))
	for _, recipientID := range recipients {
		if recipientID == "" {
			return nil, fmt.Errorf("%w: empty recipient id", apperrors.ErrValidation)
		}
		if _, dup := seen[recipientID]; dup {
			result.Skipped++
			continue
		}
		seen[recipientID] = struct{}{}

		ok, err := s.mayQueue(ctx, campaign, recipientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.Skipped++
			continue
		}

		msg := domain.Message{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			PlatformID:  campaign.PlatformID,
			RecipientID: recipientID,
			Status:      domain.MessageStatusQueued,
			QueuedAt:    now,
			UpdatedAt:   now,
		}
		if err := s.messages.Create(ctx, &msg); err != nil {
			return nil, fmt.Errorf("dispatch service: create message: %w", err)
		}
		if err := s.stats.ApplyDelta(ctx, campaign.ID, repository.CountersDelta{TotalDelta: 1}); err != nil {
			return nil, fmt.Errorf("dispatch service: bump total counter: %w", err)
		}
		result.Queued = append(result.Queued, msg)
	}
	return result, nil
}

// mayQueue applies the dedup and frequency rules for one recipient: at most
// one outstanding message per (campaign, recipient), and for recurring
// campaigns a per-period cap on re-queues.
func (s *Service) mayQueue(ctx context.Context, campaign *domain.Campaign, recipientID string) (bool, error) {
	latest, err := s.messages.Latest(ctx, campaign.ID, recipientID)
	if err != nil && err != repository.ErrNotFound {
		return false, err
	}
	if latest != nil && !latest.Status.IsTerminal() {
		return false, nil
	}

	if !campaign.IsRecurring {
		return true, nil
	}
	return s.frequency.Allow(ctx, campaign.ID, recipientID, campaign.Frequency)
}

// AttemptOutcome reports what a send attempt did, for status publishing.
type AttemptOutcome struct {
	Message  domain.Message
	Attempt  bool
	Duration time.Duration
	Error    string
}

// AttemptSend drives one message through queued -> sending -> sent/failed.
// Attempts on messages already at or past sent are idempotent no-ops. The
// sent counter is incremented exactly once, guarded by the sending -> sent
// compare-and-swap.
func (s *Service) AttemptSend(ctx context.Context, caller auth.Caller, messageID uuid.UUID) (*AttemptOutcome, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, msg.PlatformID); err != nil {
		return nil, err
	}

	// terminal or in-flight elsewhere: nothing to do
	if msg.Status.IsTerminal() || msg.Status == domain.MessageStatusSending {
		return &AttemptOutcome{Message: *msg}, nil
	}

	campaign, err := s.campaigns.Get(ctx, msg.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return nil, fmt.Errorf("%w: campaign %s is %s, sends require active", apperrors.ErrConflict, campaign.ID, campaign.Status)
	}

	now := time.Now().UTC()
	swapped, err := s.messages.CompareAndSwapStatus(ctx, msg, domain.MessageStatusQueued, domain.MessageStatusSending, nil, now)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: claim message: %w", err)
	}
	if !swapped {
		// lost the race; whoever won owns the attempt
		return &AttemptOutcome{Message: *msg}, nil
	}

	platform, err := s.directory.Get(ctx, msg.PlatformID)
	if err != nil {
		return s.failAttempt(ctx, msg, fmt.Sprintf("resolve platform: %v", err))
	}

	dm := sender.OutboundDM{
		MessageID:    msg.ID,
		CampaignID:   campaign.ID,
		PlatformID:   msg.PlatformID,
		PlatformType: platform.Type,
		RecipientID:  msg.RecipientID,
		Body:         RenderTemplate(campaign.MessageTemplate, msg.RecipientID, platform),
	}
	if campaign.ImageURL != nil {
		dm.ImageURL = *campaign.ImageURL
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	result, err := s.senders.For(platform.Type).Send(sendCtx, dm)
	cancel()
	if err != nil {
		return s.failAttempt(ctx, msg, err.Error())
	}
	if !result.Delivered {
		outcome, ferr := s.failAttempt(ctx, msg, result.Error)
		if outcome != nil {
			outcome.Duration = result.Duration
		}
		return outcome, ferr
	}

	swapped, err = s.messages.CompareAndSwapStatus(ctx, msg, domain.MessageStatusSending, domain.MessageStatusSent, nil, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("dispatch service: mark sent: %w", err)
	}
	if swapped {
		if err := s.stats.ApplyDelta(ctx, msg.CampaignID, repository.CountersDelta{SentDelta: 1}); err != nil {
			return nil, fmt.Errorf("dispatch service: bump sent counter: %w", err)
		}
	}
	return &AttemptOutcome{Message: *msg, Attempt: true, Duration: result.Duration}, nil
}

func (s *Service) failAttempt(ctx context.Context, msg *domain.Message, reason string) (*AttemptOutcome, error) {
	if reason == "" {
		reason = "send failed"
	}
	if _, err := s.messages.CompareAndSwapStatus(ctx, msg, domain.MessageStatusSending, domain.MessageStatusFailed, &reason, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("dispatch service: mark failed: %w", err)
	}
	return &AttemptOutcome{Message: *msg, Attempt: true, Error: reason}, nil
}

// EventInput is one engagement signal to record.
type EventInput struct {
	MessageID  uuid.UUID
	Kind       domain.EventKind
	OccurredAt time.Time
}

// RecordEvent appends an engagement event and advances the message along the
// lattice. Duplicate and out-of-order events never move the status backwards.
func (s *Service) RecordEvent(ctx context.Context, input EventInput) (*domain.Message, error) {
	implied, ok := input.Kind.ImpliedStatus()
	if !ok {
		return nil, fmt.Errorf("%w: unknown event kind %q", apperrors.ErrValidation, input.Kind)
	}

	msg, err := s.messages.Get(ctx, input.MessageID)
	if err != nil {
		return nil, err
	}
	if !msg.Status.AtLeast(domain.MessageStatusSent) {
		return nil, fmt.Errorf("%w: message %s is %s, engagement requires a sent message", apperrors.ErrConflict, msg.ID, msg.Status)
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	event := domain.EngagementEvent{
		ID:         uuid.New(),
		MessageID:  msg.ID,
		CampaignID: msg.CampaignID,
		Kind:       input.Kind,
		OccurredAt: occurredAt,
	}
	if err := s.messages.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("dispatch service: append event: %w", err)
	}

	updated, _, err := s.messages.AdvanceStatus(ctx, msg.ID, implied, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: advance status: %w", err)
	}
	return updated, nil
}

// GetMessage returns one message after an ownership check.
func (s *Service) GetMessage(ctx context.Context, caller auth.Caller, id uuid.UUID) (*domain.Message, error) {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, msg.PlatformID); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagePage is one page of a campaign's messages.
type MessagePage struct {
	Messages  []domain.Message
	NextToken string
}

// ListMessages pages through a campaign's messages, newest page tokens
// produced by the store.
func (s *Service) ListMessages(ctx context.Context, caller auth.Caller, campaignID uuid.UUID, filter repository.MessageFilter, limit int, pageToken string) (*MessagePage, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return nil, err
	}

	var pagingState []byte
	if pageToken != "" {
		pagingState, err = common.DecodeBase64(pageToken)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	msgs, nextState, err := s.messages.ListByCampaign(ctx, campaignID, filter, limit, pagingState)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: msgs}
	if len(nextState) > 0 {
		page.NextToken = common.EncodeBase64(nextState)
	}
	return page, nil
}
