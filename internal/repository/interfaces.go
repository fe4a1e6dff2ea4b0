package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint or precondition violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignFilter narrows campaign listings.
type CampaignFilter struct {
	PlatformID    *uuid.UUID
	ClientID      *uuid.UUID
	Status        *domain.CampaignStatus
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Limit         int
}

// CampaignRepository manages campaign metadata persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	// UpdateStatus applies the transition only when the stored status still
	// equals expected; it returns ErrConflict otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next domain.CampaignStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter CampaignFilter) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// PlatformDirectory resolves platform accounts to their owning client.
// The system of record lives outside this service; this is a read path.
type PlatformDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Platform, error)
}

// CampaignStatisticsRepository keeps the per-campaign message counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignCounters, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta CountersDelta) error
}

// CountersDelta captures atomic counter increments.
type CountersDelta struct {
	TotalDelta int64
	SentDelta  int64
}

// MessageFilter narrows message listings within a campaign.
type MessageFilter struct {
	Status     *domain.MessageStatus
	PlatformID *uuid.UUID
}

// MessageStore persists DM message state and engagement events.
type MessageStore interface {
	Create(ctx context.Context, msg *domain.Message) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// CompareAndSwapStatus applies from -> to only if the stored status still
	// equals from. It reports whether the swap was applied.
	CompareAndSwapStatus(ctx context.Context, msg *domain.Message, from, to domain.MessageStatus, failReason *string, at time.Time) (bool, error)
	// AdvanceStatus raises the message to at least the given lattice stage,
	// resolving concurrent advances rank-max-wins. It reports whether the
	// stored status changed.
	AdvanceStatus(ctx context.Context, id uuid.UUID, to domain.MessageStatus, at time.Time) (*domain.Message, bool, error)
	// Outstanding returns the latest non-terminal message for the
	// (campaign, recipient) pair, or ErrNotFound.
	Outstanding(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error)
	// Latest returns the most recent message for the pair regardless of
	// state, or ErrNotFound.
	Latest(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, filter MessageFilter, limit int, pagingState []byte) ([]domain.Message, []byte, error)
	ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Message, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID, platformID *uuid.UUID) (map[domain.MessageStatus]int64, error)
	// FailNonTerminal marks every queued/sending message of the campaign as
	// failed with the given reason and returns how many were failed.
	FailNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string, at time.Time) (int64, error)
	DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) error
	AppendEvent(ctx context.Context, event domain.EngagementEvent) error
}
