package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
)

// MessageStore persists DM message records in Scylla.
//
// messages_by_campaign is the source of truth; status transitions on it use
// lightweight transactions so that concurrent writers race through
// compare-and-swap rather than last-writer-wins. messages_by_status and
// messages_by_recipient are query indexes maintained alongside it.
type MessageStore struct {
	session *gocql.Session
}

// NewMessageStore creates a new message store.
func NewMessageStore(session *gocql.Session) *MessageStore {
	return &MessageStore{session: session}
}

// Create inserts a message record in queued state.
func (s *MessageStore) Create(ctx context.Context, record *domain.Message) error {
	bucket := bucketDate(record.QueuedAt)
	if err := s.session.Query(`INSERT INTO messages_by_campaign (campaign_id, bucket, message_id, platform_id, recipient_id, status, fail_reason, queued_at, sent_at, last_event_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucket, record.ID.String(), record.PlatformID.String(), record.RecipientID,
		string(record.Status), record.FailReason, record.QueuedAt, record.SentAt, record.LastEventAt, record.UpdatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: insert messages_by_campaign: %w", err)
	}

	if err := s.session.Query(`INSERT INTO messages_by_status (campaign_id, status, bucket, message_id, recipient_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), string(record.Status), bucket, record.ID.String(), record.RecipientID, record.UpdatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: insert messages_by_status: %w", err)
	}

	if err := s.session.Query(`INSERT INTO messages_by_recipient (campaign_id, recipient_id, queued_at, message_id, status)
		VALUES (?, ?, ?, ?, ?)`,
		record.CampaignID.String(), record.RecipientID, record.QueuedAt, record.ID.String(), string(record.Status),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: insert messages_by_recipient: %w", err)
	}

	return nil
}

// Get retrieves a message by id.
func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	iter := s.session.Query(`SELECT campaign_id, bucket, message_id, platform_id, recipient_id, status, fail_reason, queued_at, sent_at, last_event_at, updated_at
		FROM messages_by_campaign
		WHERE message_id = ? ALLOW FILTERING`, id.String()).WithContext(ctx).Iter()

	record, ok, err := scanMessage(iter)
	if err != nil {
		iter.Close()
		return nil, err
	}
	if cerr := iter.Close(); cerr != nil {
		return nil, fmt.Errorf("message store: get close: %w", cerr)
	}
	if !ok {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

// CompareAndSwapStatus applies from -> to only when the stored status still
// equals from. Index tables are refreshed after an applied swap.
func (s *MessageStore) CompareAndSwapStatus(ctx context.Context, msg *domain.Message, from, to domain.MessageStatus, failReason *string, at time.Time) (bool, error) {
	bucket := bucketDate(msg.QueuedAt)

	var sentAt *time.Time
	if to == domain.MessageStatusSent {
		sentAt = &at
	} else {
		sentAt = msg.SentAt
	}

	applied, err := s.session.Query(`UPDATE messages_by_campaign
		SET status = ?, fail_reason = ?, sent_at = ?, updated_at = ?
		WHERE campaign_id = ? AND bucket = ? AND message_id = ?
		IF status = ?`,
		string(to), failReason, sentAt, at,
		msg.CampaignID.String(), bucket, msg.ID.String(),
		string(from),
	).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("message store: cas %s->%s: %w", from, to, err)
	}
	if !applied {
		// refresh the caller's copy with whatever the winner wrote
		current, gerr := s.Get(ctx, msg.ID)
		if gerr != nil {
			return false, fmt.Errorf("message store: cas reread: %w", gerr)
		}
		*msg = *current
		return false, nil
	}

	if err := s.moveStatusIndex(ctx, msg, bucket, from, to, at); err != nil {
		return true, err
	}

	msg.Status = to
	msg.FailReason = failReason
	msg.SentAt = sentAt
	msg.UpdatedAt = at
	return true, nil
}

// AdvanceStatus raises the message to at least the given lattice stage,
// rank-max-wins under concurrent advances.
func (s *MessageStore) AdvanceStatus(ctx context.Context, id uuid.UUID, to domain.MessageStatus, at time.Time) (*domain.Message, bool, error) {
	for {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current.Status.AtLeast(to) || current.Status == domain.MessageStatusFailed {
			return current, false, nil
		}

		bucket := bucketDate(current.QueuedAt)
		applied, err := s.session.Query(`UPDATE messages_by_campaign
			SET status = ?, last_event_at = ?, updated_at = ?
			WHERE campaign_id = ? AND bucket = ? AND message_id = ?
			IF status = ?`,
			string(to), at, at,
			current.CampaignID.String(), bucket, current.ID.String(),
			string(current.Status),
		).WithContext(ctx).ScanCAS()
		if err != nil {
			return nil, false, fmt.Errorf("message store: advance to %s: %w", to, err)
		}
		if !applied {
			// Lost the race; re-read and re-evaluate against the new status.
			continue
		}

		if err := s.moveStatusIndex(ctx, current, bucket, current.Status, to, at); err != nil {
			return nil, true, err
		}

		current.Status = to
		current.LastEventAt = &at
		current.UpdatedAt = at
		return current, true, nil
	}
}

// Outstanding returns the latest non-terminal message for the pair.
func (s *MessageStore) Outstanding(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error) {
	latest, err := s.Latest(ctx, campaignID, recipientID)
	if err != nil {
		return nil, err
	}
	if latest.Status.IsTerminal() {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

// Latest returns the most recent message for the pair regardless of state.
func (s *MessageStore) Latest(ctx context.Context, campaignID uuid.UUID, recipientID string) (*domain.Message, error) {
	var messageIDStr string
	iter := s.session.Query(`SELECT message_id FROM messages_by_recipient
		WHERE campaign_id = ? AND recipient_id = ?
		ORDER BY queued_at DESC LIMIT 1`,
		campaignID.String(), recipientID).WithContext(ctx).Iter()

	if !iter.Scan(&messageIDStr) {
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("message store: latest close: %w", err)
		}
		return nil, repository.ErrNotFound
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("message store: latest close: %w", err)
	}

	messageID, err := uuid.Parse(messageIDStr)
	if err != nil {
		return nil, fmt.Errorf("message store: parse message_id: %w", err)
	}
	return s.Get(ctx, messageID)
}

// ListByCampaign lists messages for a campaign with pagination. Status and
// platform filters are applied within each fetched page.
func (s *MessageStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, filter repository.MessageFilter, limit int, pagingState []byte) ([]domain.Message, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT campaign_id, bucket, message_id, platform_id, recipient_id, status, fail_reason, queued_at, sent_at, last_event_at, updated_at
		FROM messages_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	messages := make([]domain.Message, 0, limit)
	for {
		record, ok, err := scanMessage(iter)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		if filter.PlatformID != nil && record.PlatformID != *filter.PlatformID {
			continue
		}
		messages = append(messages, *record)
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("message store: iter close: %w", err)
	}

	return messages, nextState, nil
}

// ListQueued returns up to limit queued messages for the campaign.
func (s *MessageStore) ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT message_id FROM messages_by_status
		WHERE campaign_id = ? AND status = ? LIMIT ?`,
		campaignID.String(), string(domain.MessageStatusQueued), limit).WithContext(ctx).Iter()

	var ids []uuid.UUID
	var idStr string
	for iter.Scan(&idStr) {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("message store: list queued close: %w", err)
	}

	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if err == repository.ErrNotFound {
				continue
			}
			return nil, err
		}
		messages = append(messages, *record)
	}
	return messages, nil
}

// CountByStatus aggregates per-status message counts for a campaign.
func (s *MessageStore) CountByStatus(ctx context.Context, campaignID uuid.UUID, platformID *uuid.UUID) (map[domain.MessageStatus]int64, error) {
	iter := s.session.Query(`SELECT status, platform_id FROM messages_by_campaign
		WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx).Iter()

	counts := make(map[domain.MessageStatus]int64)
	var statusStr, platformStr string
	for iter.Scan(&statusStr, &platformStr) {
		if platformID != nil && platformStr != platformID.String() {
			continue
		}
		counts[domain.MessageStatus(statusStr)]++
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("message store: count by status: %w", err)
	}
	return counts, nil
}

// FailNonTerminal fails every queued/sending message of the campaign.
func (s *MessageStore) FailNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string, at time.Time) (int64, error) {
	iter := s.session.Query(`SELECT campaign_id, bucket, message_id, platform_id, recipient_id, status, fail_reason, queued_at, sent_at, last_event_at, updated_at
		FROM messages_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx).Iter()

	var pending []domain.Message
	for {
		record, ok, err := scanMessage(iter)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if !record.Status.IsTerminal() {
			pending = append(pending, *record)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("message store: fail non-terminal scan: %w", err)
	}

	var failed int64
	for i := range pending {
		msg := pending[i]
		applied, err := s.CompareAndSwapStatus(ctx, &msg, msg.Status, domain.MessageStatusFailed, &reason, at)
		if err != nil {
			return failed, err
		}
		if applied {
			failed++
		}
	}
	return failed, nil
}

// DeleteByCampaign removes every message row and index entry for the campaign.
func (s *MessageStore) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.session.Query(`DELETE FROM messages_by_campaign WHERE campaign_id = ?`,
		campaignID.String()).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: delete messages_by_campaign: %w", err)
	}
	if err := s.session.Query(`DELETE FROM messages_by_status WHERE campaign_id = ?`,
		campaignID.String()).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: delete messages_by_status: %w", err)
	}
	if err := s.session.Query(`DELETE FROM messages_by_recipient WHERE campaign_id = ?`,
		campaignID.String()).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: delete messages_by_recipient: %w", err)
	}
	return nil
}

// AppendEvent appends an engagement event record.
func (s *MessageStore) AppendEvent(ctx context.Context, event domain.EngagementEvent) error {
	if err := s.session.Query(`INSERT INTO message_events (message_id, occurred_at, event_id, campaign_id, kind)
		VALUES (?, ?, ?, ?, ?)`,
		event.MessageID.String(), event.OccurredAt, event.ID.String(), event.CampaignID.String(), string(event.Kind),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: append event: %w", err)
	}
	return nil
}

func (s *MessageStore) moveStatusIndex(ctx context.Context, msg *domain.Message, bucket time.Time, from, to domain.MessageStatus, at time.Time) error {
	if from != to {
		if err := s.session.Query(`DELETE FROM messages_by_status WHERE campaign_id = ? AND status = ? AND bucket = ? AND message_id = ?`,
			msg.CampaignID.String(), string(from), bucket, msg.ID.String(),
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("message store: delete old status index: %w", err)
		}
		if err := s.session.Query(`INSERT INTO messages_by_status (campaign_id, status, bucket, message_id, recipient_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.CampaignID.String(), string(to), bucket, msg.ID.String(), msg.RecipientID, at,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("message store: insert new status index: %w", err)
		}
	}

	if err := s.session.Query(`UPDATE messages_by_recipient SET status = ?
		WHERE campaign_id = ? AND recipient_id = ? AND queued_at = ?`,
		string(to), msg.CampaignID.String(), msg.RecipientID, msg.QueuedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message store: update recipient index: %w", err)
	}
	return nil
}

func scanMessage(iter *gocql.Iter) (*domain.Message, bool, error) {
	var (
		campaignIDStr string
		bucket        time.Time
		idStr         string
		platformStr   string
		recipientID   string
		status        string
		failReason    *string
		queuedAt      time.Time
		sentAt        *time.Time
		lastEventAt   *time.Time
		updatedAt     time.Time
	)

	if !iter.Scan(&campaignIDStr, &bucket, &idStr, &platformStr, &recipientID, &status, &failReason, &queuedAt, &sentAt, &lastEventAt, &updatedAt) {
		return nil, false, nil
	}

	campaignID, err := uuid.Parse(campaignIDStr)
	if err != nil {
		return nil, false, fmt.Errorf("message store: parse campaign_id: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, false, fmt.Errorf("message store: parse message_id: %w", err)
	}
	platformID, err := uuid.Parse(platformStr)
	if err != nil {
		return nil, false, fmt.Errorf("message store: parse platform_id: %w", err)
	}

	record := &domain.Message{
		ID:          id,
		CampaignID:  campaignID,
		PlatformID:  platformID,
		RecipientID: recipientID,
		Status:      domain.MessageStatus(status),
		FailReason:  failReason,
		QueuedAt:    queuedAt,
		SentAt:      sentAt,
		LastEventAt: lastEventAt,
		UpdatedAt:   updatedAt,
	}
	return record, true, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
