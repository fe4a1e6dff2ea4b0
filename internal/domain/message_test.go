package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestMessageStatusRankOrdering(t *testing.T) {
	ordered := []MessageStatus{
		MessageStatusQueued,
		MessageStatusSending,
		MessageStatusSent,
		MessageStatusDelivered,
		MessageStatusOpened,
		MessageStatusResponded,
		MessageStatusConverted,
	}

	for i := 1; i < len(ordered); i++ {
		prev, _ := ordered[i-1].Rank()
		cur, ok := ordered[i].Rank()
		if !ok {
			t.Fatalf("%s must have a rank", ordered[i])
		}
		if cur <= prev {
			t.Errorf("rank(%s)=%d not greater than rank(%s)=%d", ordered[i], cur, ordered[i-1], prev)
		}
	}

	if _, ok := MessageStatusFailed.Rank(); ok {
		t.Fatalf("failed must sit outside the success lattice")
	}
}

func TestMessageStatusAtLeast(t *testing.T) {
	if !MessageStatusConverted.AtLeast(MessageStatusSent) {
		t.Fatalf("converted is at least sent")
	}
	if MessageStatusSending.AtLeast(MessageStatusSent) {
		t.Fatalf("sending is not at least sent")
	}
	if MessageStatusFailed.AtLeast(MessageStatusQueued) {
		t.Fatalf("failed never satisfies a lattice stage")
	}
}

func TestMessageStatusTerminal(t *testing.T) {
	terminal := []MessageStatus{MessageStatusSent, MessageStatusDelivered, MessageStatusOpened, MessageStatusResponded, MessageStatusConverted, MessageStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []MessageStatus{MessageStatusQueued, MessageStatusSending} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestEventKindImpliedStatus(t *testing.T) {
	cases := map[EventKind]MessageStatus{
		EventOpen:       MessageStatusOpened,
		EventResponse:   MessageStatusResponded,
		EventConversion: MessageStatusConverted,
	}
	for kind, want := range cases {
		got, ok := kind.ImpliedStatus()
		if !ok || got != want {
			t.Errorf("implied status of %s: got %s, want %s", kind, got, want)
		}
	}
	if _, ok := EventKind("click").ImpliedStatus(); ok {
		t.Fatalf("unknown event kind must not imply a status")
	}
}

func TestBuildMetricsSnapshotRates(t *testing.T) {
	campaignID := uuid.New()
	counts := map[MessageStatus]int64{
		MessageStatusQueued:    3,
		MessageStatusSent:      2,
		MessageStatusOpened:    1,
		MessageStatusResponded: 1,
		MessageStatusConverted: 1,
		MessageStatusFailed:    1,
	}

	snap := BuildMetricsSnapshot(campaignID, nil, counts)
	if snap.TotalMessages != 9 {
		t.Fatalf("total: got %d, want 9", snap.TotalMessages)
	}
	if snap.SentMessages != 5 {
		t.Fatalf("sent-or-beyond: got %d, want 5", snap.SentMessages)
	}
	if snap.OpenRate != 3.0/5.0 {
		t.Errorf("open rate: got %v", snap.OpenRate)
	}
	if snap.ResponseRate != 2.0/5.0 {
		t.Errorf("response rate: got %v", snap.ResponseRate)
	}
	if snap.ConversionRate != 1.0/5.0 {
		t.Errorf("conversion rate: got %v", snap.ConversionRate)
	}
}

func TestBuildMetricsSnapshotZeroDenominator(t *testing.T) {
	snap := BuildMetricsSnapshot(uuid.New(), nil, map[MessageStatus]int64{
		MessageStatusQueued: 4,
		MessageStatusFailed: 2,
	})
	if snap.OpenRate != 0 || snap.ResponseRate != 0 || snap.ConversionRate != 0 {
		t.Fatalf("rates must be zero with no sent messages, got %+v", snap)
	}
}
