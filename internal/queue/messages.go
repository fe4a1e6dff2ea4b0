package queue

import (
	"time"

	"github.com/google/uuid"
)

// DispatchTask instructs a send worker to attempt one queued message.
type DispatchTask struct {
	MessageID   uuid.UUID `json:"message_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	PlatformID  uuid.UUID `json:"platform_id"`
	RecipientID string    `json:"recipient_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// StatusMessage reports the outcome of a send attempt to downstream
// consumers (dashboards, audit sinks).
type StatusMessage struct {
	MessageID  uuid.UUID `json:"message_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	PlatformID uuid.UUID `json:"platform_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EngagementMessage carries an open/response/conversion signal pushed by a
// platform adapter.
type EngagementMessage struct {
	MessageID  uuid.UUID `json:"message_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}
