package domain

import "github.com/google/uuid"

// MetricsSnapshot aggregates message state for a campaign at read time.
// It is derived from the message store on every request, never cached.
type MetricsSnapshot struct {
	CampaignID     uuid.UUID
	PlatformID     *uuid.UUID
	StatusCounts   map[MessageStatus]int64
	TotalMessages  int64
	SentMessages   int64
	OpenRate       float64
	ResponseRate   float64
	ConversionRate float64
}

// BuildMetricsSnapshot derives a snapshot from per-status counts.
// Rates use sent-or-beyond as denominator and are zero when no message
// has been sent.
func BuildMetricsSnapshot(campaignID uuid.UUID, platformID *uuid.UUID, counts map[MessageStatus]int64) MetricsSnapshot {
	snapshot := MetricsSnapshot{
		CampaignID:   campaignID,
		PlatformID:   platformID,
		StatusCounts: counts,
	}

	var sent, opened, responded, converted int64
	for status, n := range counts {
		snapshot.TotalMessages += n
		if status.AtLeast(MessageStatusSent) {
			sent += n
		}
		if status.AtLeast(MessageStatusOpened) {
			opened += n
		}
		if status.AtLeast(MessageStatusResponded) {
			responded += n
		}
		if status == MessageStatusConverted {
			converted += n
		}
	}

	snapshot.SentMessages = sent
	if sent > 0 {
		snapshot.OpenRate = float64(opened) / float64(sent)
		snapshot.ResponseRate = float64(responded) / float64(sent)
		snapshot.ConversionRate = float64(converted) / float64(sent)
	}

	return snapshot
}
