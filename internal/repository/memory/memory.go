// Package memory provides in-memory repository implementations used by
// service tests and local development without external stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
)

// CampaignRepository is an in-memory repository.CampaignRepository.
type CampaignRepository struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]domain.Campaign
	platforms *PlatformDirectory
}

// NewCampaignRepository constructs an empty campaign repository. The
// directory, when given, backs client-scoped list filters.
func NewCampaignRepository(platforms *PlatformDirectory) *CampaignRepository {
	return &CampaignRepository{
		campaigns: make(map[uuid.UUID]domain.Campaign),
		platforms: platforms,
	}
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaign.ID]; ok {
		return repository.ErrConflict
	}
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &campaign, nil
}

func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaign.ID]; !ok {
		return repository.ErrNotFound
	}
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	campaign, ok := r.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	if campaign.Status != expected {
		return repository.ErrConflict
	}
	campaign.Status = next
	campaign.UpdatedAt = time.Now().UTC()
	r.campaigns[id] = campaign
	return nil
}

func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.campaigns, id)
	return nil
}

func (r *CampaignRepository) List(ctx context.Context, filter repository.CampaignFilter) ([]*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Campaign
	for _, campaign := range r.campaigns {
		if filter.PlatformID != nil && campaign.PlatformID != *filter.PlatformID {
			continue
		}
		if filter.Status != nil && campaign.Status != *filter.Status {
			continue
		}
		if filter.StartedAfter != nil && campaign.StartDate.Before(*filter.StartedAfter) {
			continue
		}
		if filter.StartedBefore != nil && campaign.StartDate.After(*filter.StartedBefore) {
			continue
		}
		if filter.ClientID != nil {
			if r.platforms == nil || !r.platforms.ownedBy(campaign.PlatformID, *filter.ClientID) {
				continue
			}
		}
		c := campaign
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	return r.List(ctx, repository.CampaignFilter{Status: &status, Limit: limit})
}

// PlatformDirectory is an in-memory repository.PlatformDirectory.
type PlatformDirectory struct {
	mu        sync.Mutex
	platforms map[uuid.UUID]domain.Platform
}

// NewPlatformDirectory constructs a directory seeded with the given platforms.
func NewPlatformDirectory(platforms ...domain.Platform) *PlatformDirectory {
	d := &PlatformDirectory{platforms: make(map[uuid.UUID]domain.Platform)}
	for _, p := range platforms {
		d.platforms[p.ID] = p
	}
	return d
}

// Add registers a platform.
func (d *PlatformDirectory) Add(platform domain.Platform) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.platforms[platform.ID] = platform
}

func (d *PlatformDirectory) Get(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	platform, ok := d.platforms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &platform, nil
}

func (d *PlatformDirectory) ownedBy(platformID, clientID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	platform, ok := d.platforms[platformID]
	return ok && platform.ClientID == clientID
}

// StatisticsRepository is an in-memory repository.CampaignStatisticsRepository.
type StatisticsRepository struct {
	mu       sync.Mutex
	counters map[uuid.UUID]domain.CampaignCounters
}

// NewStatisticsRepository constructs an empty counters store.
func NewStatisticsRepository() *StatisticsRepository {
	return &StatisticsRepository{counters: make(map[uuid.UUID]domain.CampaignCounters)}
}

func (r *StatisticsRepository) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[campaignID]; !ok {
		r.counters[campaignID] = domain.CampaignCounters{}
	}
	return nil
}

func (r *StatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignCounters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters, ok := r.counters[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &counters, nil
}

func (r *StatisticsRepository) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.CountersDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := r.counters[campaignID]
	counters.TotalMessages += delta.TotalDelta
	counters.SentMessages += delta.SentDelta
	r.counters[campaignID] = counters
	return nil
}

// MessageStore is an in-memory repository.MessageStore. Compare-and-swap
// operations are linearized by the store mutex, matching the atomicity the
// database implementation gets from lightweight transactions.
type MessageStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]domain.Message
	events   []domain.EngagementEvent
}

// NewMessageStore constructs an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[uuid.UUID]domain.Message)}
}

func (s *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return repository.ErrConflict
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (s *MessageStore) CompareAndSwapStatus(ctx context.Context, msg *domain.Message, from, to domain.MessageStatus, failReason *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[msg.ID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if stored.Status != from {
		*msg = stored
		return false, nil
	}
	stored.Status = to
	stored.FailReason = failReason
	stored.UpdatedAt = at
	if to == domain.MessageStatusSent {
		sentAt := at
		stored.SentAt = &sentAt
	}
	s.messages[msg.ID] = stored
	*msg = stored
	return true, nil
}

func (s *MessageStore) AdvanceStatus(ctx context.Context, id uuid.UUID, to domain.MessageStatus, at time.Time) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if stored.Status == domain.MessageStatusFailed || stored.Status.AtLeast(to) {
		msg := stored
		return &msg, false, nil
	}
	stored.Status = to
	stored.LastEventAt = &at
	stored.UpdatedAt = at
	s.messages[id] = stored
	msg := stored
	return &msg, true, nil
}

func (s *MessageStore) Outstanding(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error) {
	msg, err := s.Latest(ctx, campaignID, recipientID)
	if err != nil {
		return nil, err
	}
	if msg.Status.IsTerminal() {
		return nil, repository.ErrNotFound
	}
	return msg, nil
}

func (s *MessageStore) Latest(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Message
	for _, msg := range s.messages {
		if msg.CampaignID != campaignID || msg.RecipientID != recipientID {
			continue
		}
		if latest == nil || msg.QueuedAt.After(latest.QueuedAt) {
			m := msg
			latest = &m
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (s *MessageStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, filter repository.MessageFilter, limit int, pagingState []byte) ([]domain.Message, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, msg := range s.messages {
		if msg.CampaignID != campaignID {
			continue
		}
		if filter.Status != nil && msg.Status != *filter.Status {
			continue
		}
		if filter.PlatformID != nil && msg.PlatformID != *filter.PlatformID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil, nil
}

func (s *MessageStore) ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Message, error) {
	status := domain.MessageStatusQueued
	msgs, _, err := s.ListByCampaign(ctx, campaignID, repository.MessageFilter{Status: &status}, limit, nil)
	return msgs, err
}

func (s *MessageStore) CountByStatus(ctx context.Context, campaignID uuid.UUID, platformID *uuid.UUID) (map[domain.MessageStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.MessageStatus]int64)
	for _, msg := range s.messages {
		if msg.CampaignID != campaignID {
			continue
		}
		if platformID != nil && msg.PlatformID != *platformID {
			continue
		}
		counts[msg.Status]++
	}
	return counts, nil
}

func (s *MessageStore) FailNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed int64
	for id, msg := range s.messages {
		if msg.CampaignID != campaignID || msg.Status.IsTerminal() {
			continue
		}
		r := reason
		msg.Status = domain.MessageStatusFailed
		msg.FailReason = &r
		msg.UpdatedAt = at
		s.messages[id] = msg
		failed++
	}
	return failed, nil
}

func (s *MessageStore) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.messages {
		if msg.CampaignID == campaignID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *MessageStore) AppendEvent(ctx context.Context, event domain.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded engagement events.
func (s *MessageStore) Events() []domain.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EngagementEvent, len(s.events))
	copy(out, s.events)
	return out
}
