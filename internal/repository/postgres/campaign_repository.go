package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, platform_id, status, target_audience, message_template,
	image_url, start_date, end_date, frequency, is_recurring, created_at, updated_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, platform_id, status, target_audience, message_template,
		image_url, start_date, end_date, frequency, is_recurring, created_at, updated_at
	) VALUES (
		:id, :name, :platform_id, :status, :target_audience, :message_template,
		:image_url, :start_date, :end_date, :frequency, :is_recurring, :created_at, :updated_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}

	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// Update updates campaign metadata.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		status = :status,
		target_audience = :target_audience,
		message_template = :message_template,
		image_url = :image_url,
		start_date = :start_date,
		end_date = :end_date,
		frequency = :frequency,
		is_recurring = :is_recurring,
		updated_at = :updated_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions the campaign status guarded by the expected value.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		next, id, expected)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from a lost race on status.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

// Delete removes the campaign row together with its counter row.
func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_statistics WHERE campaign_id = $1`, id); err != nil {
			return fmt.Errorf("campaign repo: delete statistics: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("campaign repo: delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("campaign repo: rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// List returns campaigns matching the filter.
func (r *CampaignRepository) List(ctx context.Context, filter repository.CampaignFilter) ([]*domain.Campaign, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, clause+"$"+strconv.Itoa(len(args)))
	}

	if filter.PlatformID != nil {
		add("platform_id = ", *filter.PlatformID)
	}
	if filter.ClientID != nil {
		add("platform_id IN (SELECT id FROM platforms WHERE client_id = ", *filter.ClientID)
		clauses[len(clauses)-1] += ")"
	}
	if filter.Status != nil {
		add("status = ", *filter.Status)
	}
	if filter.StartedAfter != nil {
		add("start_date >= ", *filter.StartedAfter)
	}
	if filter.StartedBefore != nil {
		add("start_date <= ", *filter.StartedBefore)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	q += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListByStatus returns campaigns filtered by status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

func campaignParams(campaign *domain.Campaign) map[string]any {
	return map[string]any{
		"id":               campaign.ID,
		"name":             campaign.Name,
		"platform_id":      campaign.PlatformID,
		"status":           campaign.Status,
		"target_audience":  campaign.TargetAudience,
		"message_template": campaign.MessageTemplate,
		"image_url":        campaign.ImageURL,
		"start_date":       campaign.StartDate,
		"end_date":         campaign.EndDate,
		"frequency":        campaign.Frequency,
		"is_recurring":     campaign.IsRecurring,
		"created_at":       campaign.CreatedAt,
		"updated_at":       campaign.UpdatedAt,
	}
}

type campaignRecord struct {
	ID              uuid.UUID      `db:"id"`
	Name            string         `db:"name"`
	PlatformID      uuid.UUID      `db:"platform_id"`
	Status          string         `db:"status"`
	TargetAudience  sql.NullString `db:"target_audience"`
	MessageTemplate string         `db:"message_template"`
	ImageURL        sql.NullString `db:"image_url"`
	StartDate       time.Time      `db:"start_date"`
	EndDate         sql.NullTime   `db:"end_date"`
	Frequency       int            `db:"frequency"`
	IsRecurring     bool           `db:"is_recurring"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:              r.ID,
		Name:            r.Name,
		PlatformID:      r.PlatformID,
		Status:          domain.CampaignStatus(r.Status),
		TargetAudience:  r.TargetAudience.String,
		MessageTemplate: r.MessageTemplate,
		StartDate:       r.StartDate,
		Frequency:       r.Frequency,
		IsRecurring:     r.IsRecurring,
		CreatedAt:       r.CreatedAt.Time,
		UpdatedAt:       r.UpdatedAt.Time,
	}
	if r.ImageURL.Valid {
		url := r.ImageURL.String
		campaign.ImageURL = &url
	}
	if r.EndDate.Valid {
		end := r.EndDate.Time
		campaign.EndDate = &end
	}
	return campaign
}
