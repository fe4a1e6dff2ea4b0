package domain

import "testing"

func TestCampaignTransitions(t *testing.T) {
	allowed := []struct{ from, to CampaignStatus }{
		{CampaignStatusDraft, CampaignStatusScheduled},
		{CampaignStatusDraft, CampaignStatusCancelled},
		{CampaignStatusScheduled, CampaignStatusActive},
		{CampaignStatusScheduled, CampaignStatusCancelled},
		{CampaignStatusActive, CampaignStatusPaused},
		{CampaignStatusActive, CampaignStatusCompleted},
		{CampaignStatusActive, CampaignStatusCancelled},
		{CampaignStatusPaused, CampaignStatusActive},
		{CampaignStatusPaused, CampaignStatusCancelled},
	}

	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to CampaignStatus }{
		{CampaignStatusDraft, CampaignStatusActive},
		{CampaignStatusScheduled, CampaignStatusPaused},
		{CampaignStatusCompleted, CampaignStatusActive},
		{CampaignStatusCompleted, CampaignStatusCancelled},
		{CampaignStatusCancelled, CampaignStatusActive},
		{CampaignStatusCancelled, CampaignStatusDraft},
		{CampaignStatusActive, CampaignStatusDraft},
	}

	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestCampaignStatusTerminal(t *testing.T) {
	if !CampaignStatusCompleted.IsTerminal() || !CampaignStatusCancelled.IsTerminal() {
		t.Fatalf("completed and cancelled must be terminal")
	}
	for _, s := range []CampaignStatus{CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusActive, CampaignStatusPaused} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestValidCampaignStatus(t *testing.T) {
	if !ValidCampaignStatus(CampaignStatusPaused) {
		t.Fatalf("paused is a valid status")
	}
	if ValidCampaignStatus(CampaignStatus("archived")) {
		t.Fatalf("archived is not a valid status")
	}
}
