package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/config"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/queue"
	"github.com/acme/dm-campaign-engine/internal/repository/memory"
	"github.com/acme/dm-campaign-engine/pkg/logger"
)

// capturingPublisher records published tasks instead of writing to Kafka.
type capturingPublisher struct {
	mu    sync.Mutex
	tasks []queue.DispatchTask
}

func (p *capturingPublisher) PublishTask(ctx context.Context, task queue.DispatchTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *capturingPublisher) published() []queue.DispatchTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.DispatchTask, len(p.tasks))
	copy(out, p.tasks)
	return out
}

type fixture struct {
	d         *Dispatcher
	campaigns *memory.CampaignRepository
	messages  *memory.MessageStore
	publisher *capturingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	campaigns := memory.NewCampaignRepository(nil)
	messages := memory.NewMessageStore()
	publisher := &capturingPublisher{}
	d := newDispatcher(campaigns, messages, publisher, logger.NewNop(), config.DispatcherConfig{})
	return &fixture{d: d, campaigns: campaigns, messages: messages, publisher: publisher}
}

func (f *fixture) seedCampaign(t *testing.T, status domain.CampaignStatus, recurring bool, start time.Time, end *time.Time) *domain.Campaign {
	t.Helper()
	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:              uuid.New(),
		Name:            "drip",
		PlatformID:      uuid.New(),
		Status:          status,
		MessageTemplate: "hello {recipient_id}",
		StartDate:       start,
		EndDate:         end,
		Frequency:       1,
		IsRecurring:     recurring,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.campaigns.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return campaign
}

func (f *fixture) seedMessage(t *testing.T, campaign *domain.Campaign, recipientID string, status domain.MessageStatus) *domain.Message {
	t.Helper()
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		PlatformID:  campaign.PlatformID,
		RecipientID: recipientID,
		Status:      status,
		QueuedAt:    now,
		UpdatedAt:   now,
	}
	if err := f.messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func (f *fixture) campaignStatus(t *testing.T, id uuid.UUID) domain.CampaignStatus {
	t.Helper()
	campaign, err := f.campaigns.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	return campaign.Status
}

func TestTickActivatesDueCampaigns(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	due := f.seedCampaign(t, domain.CampaignStatusScheduled, false, now.Add(-time.Hour), nil)
	future := f.seedCampaign(t, domain.CampaignStatusScheduled, false, now.Add(time.Hour), nil)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := f.campaignStatus(t, due.ID); got != domain.CampaignStatusActive {
		t.Fatalf("due campaign status = %s, want active", got)
	}
	if got := f.campaignStatus(t, future.ID); got != domain.CampaignStatusScheduled {
		t.Fatalf("future campaign status = %s, want scheduled", got)
	}
}

func TestTickPublishesQueuedMessages(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	campaign := f.seedCampaign(t, domain.CampaignStatusActive, false, now.Add(-time.Hour), nil)
	first := f.seedMessage(t, campaign, "u1", domain.MessageStatusQueued)
	second := f.seedMessage(t, campaign, "u2", domain.MessageStatusQueued)
	f.seedMessage(t, campaign, "u3", domain.MessageStatusSent)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	tasks := f.publisher.published()
	if len(tasks) != 2 {
		t.Fatalf("published = %d tasks, want 2", len(tasks))
	}
	want := map[uuid.UUID]bool{first.ID: true, second.ID: true}
	for _, task := range tasks {
		if !want[task.MessageID] {
			t.Fatalf("unexpected task for message %s", task.MessageID)
		}
	}
	// campaign still has work in flight
	if got := f.campaignStatus(t, campaign.ID); got != domain.CampaignStatusActive {
		t.Fatalf("campaign status = %s, want active", got)
	}
}

func TestTickCompletesFinishedCampaign(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	campaign := f.seedCampaign(t, domain.CampaignStatusActive, false, now.Add(-time.Hour), nil)
	f.seedMessage(t, campaign, "u1", domain.MessageStatusSent)
	f.seedMessage(t, campaign, "u2", domain.MessageStatusFailed)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := f.campaignStatus(t, campaign.ID); got != domain.CampaignStatusCompleted {
		t.Fatalf("campaign status = %s, want completed", got)
	}
	if tasks := f.publisher.published(); len(tasks) != 0 {
		t.Fatalf("published = %d tasks, want 0", len(tasks))
	}
}

func TestTickLeavesEmptyCampaignActive(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	campaign := f.seedCampaign(t, domain.CampaignStatusActive, false, now.Add(-time.Hour), nil)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// no messages enqueued yet is not completion
	if got := f.campaignStatus(t, campaign.ID); got != domain.CampaignStatusActive {
		t.Fatalf("campaign status = %s, want active", got)
	}
}

func TestTickLeavesRecurringCampaignActive(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	campaign := f.seedCampaign(t, domain.CampaignStatusActive, true, now.Add(-time.Hour), nil)
	f.seedMessage(t, campaign, "u1", domain.MessageStatusSent)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := f.campaignStatus(t, campaign.ID); got != domain.CampaignStatusActive {
		t.Fatalf("recurring campaign status = %s, want active", got)
	}
}

func TestTickEndsExpiredCampaign(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	end := now.Add(-time.Minute)
	campaign := f.seedCampaign(t, domain.CampaignStatusActive, false, now.Add(-time.Hour), &end)
	queued := f.seedMessage(t, campaign, "u1", domain.MessageStatusQueued)
	sent := f.seedMessage(t, campaign, "u2", domain.MessageStatusSent)

	if err := f.d.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := f.campaignStatus(t, campaign.ID); got != domain.CampaignStatusCompleted {
		t.Fatalf("campaign status = %s, want completed", got)
	}
	if tasks := f.publisher.published(); len(tasks) != 0 {
		t.Fatalf("published = %d tasks after end date, want 0", len(tasks))
	}

	msg, err := f.messages.Get(context.Background(), queued.ID)
	if err != nil {
		t.Fatalf("get queued: %v", err)
	}
	if msg.Status != domain.MessageStatusFailed {
		t.Fatalf("queued message status = %s, want failed", msg.Status)
	}
	if msg.FailReason == nil || *msg.FailReason != failReasonEnded {
		t.Fatalf("fail reason = %v, want %q", msg.FailReason, failReasonEnded)
	}

	kept, err := f.messages.Get(context.Background(), sent.ID)
	if err != nil {
		t.Fatalf("get sent: %v", err)
	}
	if kept.Status != domain.MessageStatusSent {
		t.Fatalf("sent message status = %s, want sent", kept.Status)
	}
}
