package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates lifecycle stages for an individual DM.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusOpened    MessageStatus = "opened"
	MessageStatusResponded MessageStatus = "responded"
	MessageStatusConverted MessageStatus = "converted"
	MessageStatusFailed    MessageStatus = "failed"
)

// messageRanks orders the success lattice. failed sits outside it.
var messageRanks = map[MessageStatus]int{
	MessageStatusQueued:    0,
	MessageStatusSending:   1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusOpened:    4,
	MessageStatusResponded: 5,
	MessageStatusConverted: 6,
}

// Rank returns the position of the status in the success lattice and
// whether the status belongs to it. failed has no rank.
func (s MessageStatus) Rank() (int, bool) {
	r, ok := messageRanks[s]
	return r, ok
}

// AtLeast reports whether the status has reached the given lattice stage.
// failed never satisfies any stage.
func (s MessageStatus) AtLeast(min MessageStatus) bool {
	r, ok := s.Rank()
	minRank, minOK := min.Rank()
	return ok && minOK && r >= minRank
}

// IsTerminal reports whether the message requires no further send attempt.
// A message is terminal once sent (or beyond) or failed.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusFailed || s.AtLeast(MessageStatusSent)
}

// Message represents one planned/attempted DM to a single recipient.
type Message struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	PlatformID  uuid.UUID
	RecipientID string
	Status      MessageStatus
	FailReason  *string
	QueuedAt    time.Time
	SentAt      *time.Time
	LastEventAt *time.Time
	UpdatedAt   time.Time
}

// EventKind identifies an engagement signal attributed to a sent message.
type EventKind string

const (
	EventOpen       EventKind = "open"
	EventResponse   EventKind = "response"
	EventConversion EventKind = "conversion"
)

// ImpliedStatus maps an engagement event to the minimum lattice stage
// it advances the message to.
func (k EventKind) ImpliedStatus() (MessageStatus, bool) {
	switch k {
	case EventOpen:
		return MessageStatusOpened, true
	case EventResponse:
		return MessageStatusResponded, true
	case EventConversion:
		return MessageStatusConverted, true
	default:
		return "", false
	}
}

// EngagementEvent records a single open/response/conversion signal.
type EngagementEvent struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	CampaignID uuid.UUID
	Kind       EventKind
	OccurredAt time.Time
}

// FailReasonCancelled marks messages failed by a campaign cancellation.
const FailReasonCancelled = "campaign_cancelled"
