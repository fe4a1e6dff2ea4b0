package metrics

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
)

// Service computes derived campaign metrics. Snapshots are built from the
// message store on every call.
type Service struct {
	campaigns repository.CampaignRepository
	messages  repository.MessageStore
	authz     *auth.Authorizer
}

// NewService constructs a metrics service.
func NewService(campaigns repository.CampaignRepository, messages repository.MessageStore, authz *auth.Authorizer) *Service {
	return &Service{campaigns: campaigns, messages: messages, authz: authz}
}

// CampaignMetrics returns the snapshot for one campaign, optionally narrowed
// to a single platform account.
func (s *Service) CampaignMetrics(ctx context.Context, caller auth.Caller, campaignID uuid.UUID, platformID *uuid.UUID) (*domain.MetricsSnapshot, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanAccessPlatform(ctx, caller, campaign.PlatformID); err != nil {
		return nil, err
	}

	counts, err := s.messages.CountByStatus(ctx, campaignID, platformID)
	if err != nil {
		return nil, err
	}
	snapshot := domain.BuildMetricsSnapshot(campaignID, platformID, counts)
	return &snapshot, nil
}

// AllMetrics returns one snapshot per campaign visible to the caller.
func (s *Service) AllMetrics(ctx context.Context, caller auth.Caller) (map[uuid.UUID]domain.MetricsSnapshot, error) {
	filter := repository.CampaignFilter{}
	if !caller.Elevated {
		clientID := caller.ClientID
		filter.ClientID = &clientID
	}

	campaigns, err := s.campaigns.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]domain.MetricsSnapshot, len(campaigns))
	for _, campaign := range campaigns {
		counts, err := s.messages.CountByStatus(ctx, campaign.ID, nil)
		if err != nil {
			return nil, err
		}
		out[campaign.ID] = domain.BuildMetricsSnapshot(campaign.ID, nil, counts)
	}
	return out, nil
}
