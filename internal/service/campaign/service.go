package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

// Service orchestrates campaign registry operations: CRUD, the lifecycle
// state machine, and authorization scoping.
type Service struct {
	repo     repository.CampaignRepository
	stats    repository.CampaignStatisticsRepository
	messages repository.MessageStore
	authz    *auth.Authorizer
}

// NewService constructs a campaign service.
func NewService(
	repo repository.CampaignRepository,
	stats repository.CampaignStatisticsRepository,
	messages repository.MessageStore,
	authz *auth.Authorizer,
) *Service {
	return &Service{
		repo:     repo,
		stats:    stats,
		messages: messages,
		authz:    authz,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name            string
	PlatformID      uuid.UUID
	TargetAudience  string
	MessageTemplate string
	ImageURL        *string
	StartDate       time.Time
	EndDate         *time.Time
	Frequency       int
	IsRecurring     bool
	Schedule        bool
}

// UpdateCampaignInput captures updatable properties. Counters are never
// writable through this path.
type UpdateCampaignInput struct {
	ID              uuid.UUID
	Name            *string
	TargetAudience  *string
	MessageTemplate *string
	ImageURL        *string
	StartDate       *time.Time
	EndDate         *time.Time
	Frequency       *int
	IsRecurring     *bool
}

// Create provisions a new campaign in draft (or scheduled) state.
func (s *Service) Create(ctx context.Context, caller auth.Caller, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	if err := s.authz.CanAccessPlatform(ctx, caller, input.PlatformID); err != nil {
		return nil, err
	}

	status := domain.CampaignStatusDraft
	if input.Schedule {
		status = domain.CampaignStatusScheduled
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:              uuid.New(),
		Name:            input.Name,
		PlatformID:      input.PlatformID,
		Status:          status,
		TargetAudience:  input.TargetAudience,
		MessageTemplate: input.MessageTemplate,
		ImageURL:        input.ImageURL,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
		Frequency:       input.Frequency,
		IsRecurring:     input.IsRecurring,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	if err := s.stats.Ensure(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("campaign service: ensure counters: %w", err)
	}

	return campaign, nil
}

// Get retrieves a campaign by id with counters populated.
func (s *Service) Get(ctx context.Context, caller auth.Caller, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return nil, err
	}
	if err := s.attachCounters(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	PlatformID    *uuid.UUID
	Status        *domain.CampaignStatus
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Limit         int
}

// List returns campaigns visible to the caller. Non-elevated callers are
// narrowed to the platforms their client owns.
func (s *Service) List(ctx context.Context, caller auth.Caller, filter ListFilter) ([]*domain.Campaign, error) {
	if filter.PlatformID != nil {
		if err := s.authz.CanAccessPlatform(ctx, caller, *filter.PlatformID); err != nil {
			return nil, err
		}
	}

	repoFilter := repository.CampaignFilter{
		PlatformID:    filter.PlatformID,
		Status:        filter.Status,
		StartedAfter:  filter.StartedAfter,
		StartedBefore: filter.StartedBefore,
		Limit:         filter.Limit,
	}
	if !caller.Elevated {
		clientID := caller.ClientID
		repoFilter.ClientID = &clientID
	}

	campaigns, err := s.repo.List(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	for _, campaign := range campaigns {
		if err := s.attachCounters(ctx, campaign); err != nil {
			return nil, err
		}
	}
	return campaigns, nil
}

// Update modifies campaign metadata. Allowed only while the campaign is in
// draft, scheduled, active or paused state.
func (s *Service) Update(ctx context.Context, caller auth.Caller, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: campaign %s is %s", apperrors.ErrConflict, campaign.ID, campaign.Status)
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.TargetAudience != nil {
		campaign.TargetAudience = *input.TargetAudience
	}
	if input.MessageTemplate != nil {
		campaign.MessageTemplate = *input.MessageTemplate
	}
	if input.ImageURL != nil {
		campaign.ImageURL = input.ImageURL
	}
	if input.StartDate != nil {
		campaign.StartDate = *input.StartDate
	}
	if input.EndDate != nil {
		campaign.EndDate = input.EndDate
	}
	if input.Frequency != nil {
		campaign.Frequency = *input.Frequency
	}
	if input.IsRecurring != nil {
		campaign.IsRecurring = *input.IsRecurring
	}

	if err := validateBounds(campaign.Frequency, campaign.StartDate, campaign.EndDate); err != nil {
		return nil, err
	}

	campaign.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, err
	}
	if err := s.attachCounters(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// SetStatus applies a lifecycle transition. Transitions into cancelled
// cascade to the campaign's non-terminal messages.
func (s *Service) SetStatus(ctx context.Context, caller auth.Caller, id uuid.UUID, next domain.CampaignStatus) error {
	if !domain.ValidCampaignStatus(next) {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, next)
	}

	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return err
	}

	if campaign.Status == next {
		return nil
	}
	if !domain.CanTransition(campaign.Status, next) {
		return fmt.Errorf("%w: cannot transition campaign from %s to %s", apperrors.ErrConflict, campaign.Status, next)
	}

	if err := s.repo.UpdateStatus(ctx, id, campaign.Status, next); err != nil {
		return err
	}

	if next == domain.CampaignStatusCancelled {
		if _, err := s.messages.FailNonTerminal(ctx, id, domain.FailReasonCancelled, time.Now().UTC()); err != nil {
			return fmt.Errorf("campaign service: cancel cascade: %w", err)
		}
	}
	return nil
}

// Delete hard-deletes a campaign and its messages. Permitted only while no
// message has been sent; cancelled-with-history campaigns stay on record.
func (s *Service) Delete(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return err
	}

	counters, err := s.stats.Get(ctx, id)
	if err != nil && err != repository.ErrNotFound {
		return err
	}
	if counters != nil && counters.SentMessages > 0 {
		return fmt.Errorf("%w: campaign %s has sent messages, cancel it instead", apperrors.ErrConflict, id)
	}

	if err := s.messages.DeleteByCampaign(ctx, id); err != nil {
		return fmt.Errorf("campaign service: delete messages: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) attachCounters(ctx context.Context, campaign *domain.Campaign) error {
	counters, err := s.stats.Get(ctx, campaign.ID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil
		}
		return fmt.Errorf("campaign service: get counters: %w", err)
	}
	campaign.TotalMessages = counters.TotalMessages
	campaign.SentMessages = counters.SentMessages
	return nil
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.PlatformID == uuid.Nil {
		return fmt.Errorf("%w: platform id is required", apperrors.ErrValidation)
	}
	if input.MessageTemplate == "" {
		return fmt.Errorf("%w: message template is required", apperrors.ErrValidation)
	}
	return validateBounds(input.Frequency, input.StartDate, input.EndDate)
}

func validateBounds(frequency int, startDate time.Time, endDate *time.Time) error {
	if frequency < domain.MinFrequency || frequency > domain.MaxFrequency {
		return fmt.Errorf("%w: frequency must be between %d and %d", apperrors.ErrValidation, domain.MinFrequency, domain.MaxFrequency)
	}
	if startDate.IsZero() {
		return fmt.Errorf("%w: start date is required", apperrors.ErrValidation)
	}
	if endDate != nil && endDate.Before(startDate) {
		return fmt.Errorf("%w: end date precedes start date", apperrors.ErrValidation)
	}
	return nil
}
