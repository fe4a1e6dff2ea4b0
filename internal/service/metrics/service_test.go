package metrics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository/memory"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

type fixture struct {
	svc      *Service
	messages *memory.MessageStore
	owner    auth.Caller
	platform domain.Platform
	campaign *domain.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clientID := uuid.New()
	platform := domain.Platform{ID: uuid.New(), ClientID: clientID, Type: domain.PlatformInstagram, Handle: "creator"}
	directory := memory.NewPlatformDirectory(platform)
	repo := memory.NewCampaignRepository(directory)
	messages := memory.NewMessageStore()

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:              uuid.New(),
		Name:            "launch",
		PlatformID:      platform.ID,
		Status:          domain.CampaignStatusActive,
		MessageTemplate: "hello",
		StartDate:       now,
		Frequency:       1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.Create(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	return &fixture{
		svc:      NewService(repo, messages, auth.NewAuthorizer(directory)),
		messages: messages,
		owner:    auth.Caller{ClientID: clientID},
		platform: platform,
		campaign: campaign,
	}
}

func (f *fixture) seedMessage(t *testing.T, status domain.MessageStatus) {
	t.Helper()
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:          uuid.New(),
		CampaignID:  f.campaign.ID,
		PlatformID:  f.platform.ID,
		RecipientID: uuid.NewString(),
		Status:      status,
		QueuedAt:    now,
		UpdatedAt:   now,
	}
	if err := f.messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestCampaignMetricsRates(t *testing.T) {
	f := newFixture(t)

	// 5 sent-or-beyond: 1 sent, 1 delivered, 1 opened, 1 responded, 1 converted
	for _, status := range []domain.MessageStatus{
		domain.MessageStatusSent,
		domain.MessageStatusDelivered,
		domain.MessageStatusOpened,
		domain.MessageStatusResponded,
		domain.MessageStatusConverted,
		domain.MessageStatusQueued,
		domain.MessageStatusFailed,
	} {
		f.seedMessage(t, status)
	}

	snapshot, err := f.svc.CampaignMetrics(context.Background(), f.owner, f.campaign.ID, nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	if snapshot.TotalMessages != 7 {
		t.Fatalf("total = %d, want 7", snapshot.TotalMessages)
	}
	if snapshot.SentMessages != 5 {
		t.Fatalf("sent = %d, want 5", snapshot.SentMessages)
	}
	if !approx(snapshot.OpenRate, 3.0/5.0) {
		t.Fatalf("open rate = %f, want 0.6", snapshot.OpenRate)
	}
	if !approx(snapshot.ResponseRate, 2.0/5.0) {
		t.Fatalf("response rate = %f, want 0.4", snapshot.ResponseRate)
	}
	if !approx(snapshot.ConversionRate, 1.0/5.0) {
		t.Fatalf("conversion rate = %f, want 0.2", snapshot.ConversionRate)
	}
}

func TestCampaignMetricsZeroSent(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, domain.MessageStatusQueued)
	f.seedMessage(t, domain.MessageStatusFailed)

	snapshot, err := f.svc.CampaignMetrics(context.Background(), f.owner, f.campaign.ID, nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if snapshot.SentMessages != 0 {
		t.Fatalf("sent = %d, want 0", snapshot.SentMessages)
	}
	if snapshot.OpenRate != 0 || snapshot.ResponseRate != 0 || snapshot.ConversionRate != 0 {
		t.Fatalf("rates must be zero with no sends: %+v", snapshot)
	}
}

func TestCampaignMetricsForbidden(t *testing.T) {
	f := newFixture(t)
	stranger := auth.Caller{ClientID: uuid.New()}
	if _, err := f.svc.CampaignMetrics(context.Background(), stranger, f.campaign.ID, nil); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestCampaignMetricsUnknownCampaign(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CampaignMetrics(context.Background(), f.owner, uuid.New(), nil); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestAllMetricsScopesToCaller(t *testing.T) {
	f := newFixture(t)
	f.seedMessage(t, domain.MessageStatusSent)

	out, err := f.svc.AllMetrics(context.Background(), f.owner)
	if err != nil {
		t.Fatalf("all metrics: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(out))
	}
	if out[f.campaign.ID].SentMessages != 1 {
		t.Fatalf("snapshot sent = %d, want 1", out[f.campaign.ID].SentMessages)
	}

	empty, err := f.svc.AllMetrics(context.Background(), auth.Caller{ClientID: uuid.New()})
	if err != nil {
		t.Fatalf("stranger metrics: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("stranger sees %d snapshots, want 0", len(empty))
	}
}
