package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/dm-campaign-engine/internal/domain"
	"github.com/acme/dm-campaign-engine/internal/repository"
)

// PlatformRepository implements repository.PlatformDirectory against the
// replicated platforms table. The directory's system of record is external.
type PlatformRepository struct {
	db *sqlx.DB
}

// NewPlatformRepository constructs the repository.
func NewPlatformRepository(db *sqlx.DB) *PlatformRepository {
	return &PlatformRepository{db: db}
}

// Get resolves a platform account by id.
func (r *PlatformRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT id, client_id, platform_type, handle FROM platforms WHERE id = $1`, id)

	var record platformRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("platform repo: get: %w", err)
	}

	platform := record.toDomain()
	return &platform, nil
}

type platformRecord struct {
	ID           uuid.UUID `db:"id"`
	ClientID     uuid.UUID `db:"client_id"`
	PlatformType string    `db:"platform_type"`
	Handle       string    `db:"handle"`
}

func (r platformRecord) toDomain() domain.Platform {
	return domain.Platform{
		ID:       r.ID,
		ClientID: r.ClientID,
		Type:     domain.PlatformType(r.PlatformType),
		Handle:   r.Handle,
	}
}
