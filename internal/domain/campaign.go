package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// campaignTransitions holds the allowed status transitions.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusCompleted: {},
	CampaignStatusCancelled: {},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// ValidCampaignStatus reports whether the value is a known status.
func ValidCampaignStatus(s CampaignStatus) bool {
	_, ok := campaignTransitions[s]
	return ok
}

// PlatformType identifies the kind of connected platform account.
type PlatformType string

const (
	PlatformDiscord   PlatformType = "discord"
	PlatformTelegram  PlatformType = "telegram"
	PlatformOnlyFans  PlatformType = "onlyfans"
	PlatformTwitter   PlatformType = "twitter"
	PlatformInstagram PlatformType = "instagram"
)

// Platform is a connected platform account resolved from the external directory.
type Platform struct {
	ID       uuid.UUID
	ClientID uuid.UUID
	Type     PlatformType
	Handle   string
}

// Campaign models an automated DM campaign definition.
type Campaign struct {
	ID              uuid.UUID
	Name            string
	PlatformID      uuid.UUID
	Status          CampaignStatus
	TargetAudience  string
	MessageTemplate string
	ImageURL        *string
	StartDate       time.Time
	EndDate         *time.Time
	Frequency       int
	IsRecurring     bool
	TotalMessages   int64
	SentMessages    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CampaignCounters holds the per-campaign message counters.
type CampaignCounters struct {
	TotalMessages int64 `db:"total_messages"`
	SentMessages  int64 `db:"sent_messages"`
}

const (
	// MinFrequency and MaxFrequency bound sends per recipient per period.
	MinFrequency = 1
	MaxFrequency = 20
)
