package sender

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
)

// OutboundDM is a fully rendered DM ready for a platform adapter.
type OutboundDM struct {
	MessageID    uuid.UUID
	CampaignID   uuid.UUID
	PlatformID   uuid.UUID
	PlatformType domain.PlatformType
	RecipientID  string
	Body         string
	ImageURL     string
}

// Result captures the outcome of a send attempt.
type Result struct {
	Delivered bool
	Duration  time.Duration
	Retryable bool
	Error     string
}

// Sender abstracts a platform-specific DM transport.
type Sender interface {
	Send(ctx context.Context, dm OutboundDM) (Result, error)
}

// Registry maps platform types to their senders.
type Registry struct {
	senders  map[domain.PlatformType]Sender
	fallback Sender
}

// NewRegistry constructs a registry with a fallback sender.
func NewRegistry(fallback Sender) *Registry {
	return &Registry{
		senders:  make(map[domain.PlatformType]Sender),
		fallback: fallback,
	}
}

// Register installs a sender for a platform type.
func (r *Registry) Register(platformType domain.PlatformType, s Sender) {
	r.senders[platformType] = s
}

// For returns the sender for the platform type, or the fallback.
func (r *Registry) For(platformType domain.PlatformType) Sender {
	if s, ok := r.senders[platformType]; ok {
		return s
	}
	return r.fallback
}
