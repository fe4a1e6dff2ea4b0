package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
	"github.com/acme/dm-campaign-engine/internal/repository/memory"
	apperrors "github.com/acme/dm-campaign-engine/pkg/errors"
)

type fixture struct {
	svc       *Service
	repo      *memory.CampaignRepository
	stats     *memory.StatisticsRepository
	messages  *memory.MessageStore
	directory *memory.PlatformDirectory
	owner     auth.Caller
	platform  domain.Platform
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clientID := uuid.New()
	platform := domain.Platform{
		ID:       uuid.New(),
		ClientID: clientID,
		Type:     domain.PlatformDiscord,
		Handle:   "creator#0001",
	}
	directory := memory.NewPlatformDirectory(platform)
	repo := memory.NewCampaignRepository(directory)
	stats := memory.NewStatisticsRepository()
	messages := memory.NewMessageStore()
	svc := NewService(repo, stats, messages, auth.NewAuthorizer(directory))

	return &fixture{
		svc:       svc,
		repo:      repo,
		stats:     stats,
		messages:  messages,
		directory: directory,
		owner:     auth.Caller{ClientID: clientID},
		platform:  platform,
	}
}

func validInput(platformID uuid.UUID) CreateCampaignInput {
	return CreateCampaignInput{
		Name:            "spring promo",
		PlatformID:      platformID,
		TargetAudience:  "subscribers",
		MessageTemplate: "hey {recipient_id}, check out our new drop",
		StartDate:       time.Now().Add(time.Hour),
		Frequency:       3,
	}
}

func TestCreateStartsInDraft(t *testing.T) {
	f := newFixture(t)

	campaign, err := f.svc.Create(context.Background(), f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", campaign.Status)
	}

	if _, err := f.stats.Get(context.Background(), campaign.ID); err != nil {
		t.Fatalf("counters not provisioned: %v", err)
	}
}

func TestCreateScheduled(t *testing.T) {
	f := newFixture(t)

	input := validInput(f.platform.ID)
	input.Schedule = true
	campaign, err := f.svc.Create(context.Background(), f.owner, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if campaign.Status != domain.CampaignStatusScheduled {
		t.Fatalf("status = %s, want scheduled", campaign.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	end := time.Now()

	cases := []struct {
		name   string
		mutate func(*CreateCampaignInput)
	}{
		{"empty name", func(in *CreateCampaignInput) { in.Name = "" }},
		{"missing platform", func(in *CreateCampaignInput) { in.PlatformID = uuid.Nil }},
		{"empty template", func(in *CreateCampaignInput) { in.MessageTemplate = "" }},
		{"frequency too low", func(in *CreateCampaignInput) { in.Frequency = 0 }},
		{"frequency too high", func(in *CreateCampaignInput) { in.Frequency = 21 }},
		{"zero start date", func(in *CreateCampaignInput) { in.StartDate = time.Time{} }},
		{"end before start", func(in *CreateCampaignInput) { in.EndDate = &end; in.StartDate = end.Add(time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput(f.platform.ID)
			tc.mutate(&input)
			if _, err := f.svc.Create(context.Background(), f.owner, input); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestCreateForbiddenForOtherClient(t *testing.T) {
	f := newFixture(t)

	stranger := auth.Caller{ClientID: uuid.New()}
	if _, err := f.svc.Create(context.Background(), stranger, validInput(f.platform.ID)); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestSetStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// draft -> active skips scheduled and must be rejected.
	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, domain.CampaignStatusActive); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("draft->active err = %v, want conflict", err)
	}

	for _, next := range []domain.CampaignStatus{
		domain.CampaignStatusScheduled,
		domain.CampaignStatusActive,
		domain.CampaignStatusPaused,
		domain.CampaignStatusActive,
		domain.CampaignStatusCompleted,
	} {
		if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	// completed is terminal.
	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, domain.CampaignStatusCancelled); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("completed->cancelled err = %v, want conflict", err)
	}
}

func TestSetStatusUnknownValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, "archived"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCancelCascadesToMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := validInput(f.platform.ID)
	input.Schedule = true
	campaign, err := f.svc.Create(ctx, f.owner, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, domain.CampaignStatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	now := time.Now().UTC()
	sentAt := now
	queued := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		msg := &domain.Message{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			PlatformID:  f.platform.ID,
			RecipientID: uuid.NewString(),
			Status:      domain.MessageStatusQueued,
			QueuedAt:    now,
			UpdatedAt:   now,
		}
		if err := f.messages.Create(ctx, msg); err != nil {
			t.Fatalf("seed queued: %v", err)
		}
		queued = append(queued, msg.ID)
	}
	sent := make([]uuid.UUID, 0, 2)
	for i := 0; i < 2; i++ {
		msg := &domain.Message{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			PlatformID:  f.platform.ID,
			RecipientID: uuid.NewString(),
			Status:      domain.MessageStatusSent,
			QueuedAt:    now,
			SentAt:      &sentAt,
			UpdatedAt:   now,
		}
		if err := f.messages.Create(ctx, msg); err != nil {
			t.Fatalf("seed sent: %v", err)
		}
		sent = append(sent, msg.ID)
	}

	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, domain.CampaignStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	for _, id := range queued {
		msg, err := f.messages.Get(ctx, id)
		if err != nil {
			t.Fatalf("get queued: %v", err)
		}
		if msg.Status != domain.MessageStatusFailed {
			t.Fatalf("queued message status = %s, want failed", msg.Status)
		}
		if msg.FailReason == nil || *msg.FailReason != domain.FailReasonCancelled {
			t.Fatalf("fail reason = %v, want %q", msg.FailReason, domain.FailReasonCancelled)
		}
	}
	for _, id := range sent {
		msg, err := f.messages.Get(ctx, id)
		if err != nil {
			t.Fatalf("get sent: %v", err)
		}
		if msg.Status != domain.MessageStatusSent {
			t.Fatalf("sent message status = %s, want sent untouched", msg.Status)
		}
	}
}

func TestUpdateRejectedOnTerminalCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.SetStatus(ctx, f.owner, campaign.ID, domain.CampaignStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	name := "renamed"
	if _, err := f.svc.Update(ctx, f.owner, UpdateCampaignInput{ID: campaign.ID, Name: &name}); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestUpdatePatchesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "renamed"
	freq := 5
	updated, err := f.svc.Update(ctx, f.owner, UpdateCampaignInput{ID: campaign.ID, Name: &name, Frequency: &freq})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.Frequency != freq {
		t.Fatalf("patch not applied: name=%q frequency=%d", updated.Name, updated.Frequency)
	}
	if updated.MessageTemplate != campaign.MessageTemplate {
		t.Fatalf("untouched field changed: %q", updated.MessageTemplate)
	}
}

func TestDeleteBlockedAfterSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.stats.ApplyDelta(ctx, campaign.ID, repository.CountersDelta{TotalDelta: 1, SentDelta: 1}); err != nil {
		t.Fatalf("bump counters: %v", err)
	}

	if err := f.svc.Delete(ctx, f.owner, campaign.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if _, err := f.svc.Get(ctx, f.owner, campaign.ID); err != nil {
		t.Fatalf("campaign should survive blocked delete: %v", err)
	}
}

func TestDeleteRemovesUnsentCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Delete(ctx, f.owner, campaign.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.owner, campaign.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListScopesToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherClient := uuid.New()
	otherPlatform := domain.Platform{ID: uuid.New(), ClientID: otherClient, Type: domain.PlatformTelegram, Handle: "other"}
	f.directory.Add(otherPlatform)

	if _, err := f.svc.Create(ctx, f.owner, validInput(f.platform.ID)); err != nil {
		t.Fatalf("create own: %v", err)
	}
	if _, err := f.svc.Create(ctx, auth.Caller{ClientID: otherClient}, validInput(otherPlatform.ID)); err != nil {
		t.Fatalf("create other: %v", err)
	}

	mine, err := f.svc.List(ctx, f.owner, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].PlatformID != f.platform.ID {
		t.Fatalf("caller sees %d campaigns, want 1 own", len(mine))
	}

	all, err := f.svc.List(ctx, auth.Caller{Elevated: true}, ListFilter{})
	if err != nil {
		t.Fatalf("elevated list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("elevated sees %d campaigns, want 2", len(all))
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get(context.Background(), f.owner, uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
