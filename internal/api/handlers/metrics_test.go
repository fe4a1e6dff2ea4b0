package handlers

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
)

func TestAllMetricsResponseKeyedByCampaignID(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	snapshots := map[uuid.UUID]domain.MetricsSnapshot{
		first: {
			CampaignID:   first,
			StatusCounts: map[domain.MessageStatus]int64{domain.MessageStatusSent: 3},
			SentMessages: 3,
			OpenRate:     0.5,
		},
		second: {
			CampaignID: second,
		},
	}

	resp := toAllMetricsResponse(snapshots)
	if len(resp) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp))
	}
	entry, ok := resp[first.String()]
	if !ok {
		t.Fatalf("no entry under key %s", first)
	}
	if entry.CampaignID != first || entry.SentMessages != 3 || entry.OpenRate != 0.5 {
		t.Fatalf("entry = %+v", entry)
	}

	// the wire format is an object keyed by campaign id
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded[second.String()]; !ok {
		t.Fatalf("serialized object missing key %s", second)
	}
}
