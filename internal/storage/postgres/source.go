package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"video_notifier/internal/domain"
)

const sourceColumns = `
	s.id, s.service, s.raw_id, s.title, s.url,
	s.last_sync_at, s.last_item_published_at, s.sync_timeout_expires_at, s.created_at,
	EXISTS (SELECT 1 FROM subscriptions sub WHERE sub.source_id = s.id) AS subscribed`

type SourceStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db, now: time.Now}
}

// Upsert creates the source or refreshes its title and url.
func (s *SourceStore) Upsert(ctx context.Context, source *domain.Source) error {
	query := `
		INSERT INTO sources (id, service, raw_id, title, url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		source.ID,
		source.Service,
		source.RawID,
		source.Title,
		source.URL,
	)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", source.ID, err)
	}
	return nil
}

func (s *SourceStore) Get(ctx context.Context, id string) (*domain.Source, error) {
	var source domain.Source
	query := `SELECT ` + sourceColumns + ` FROM sources s WHERE s.id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &source, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return &source, nil
}

// DueForSync returns subscribed sources whose sync lease has expired, least recently synced first.
func (s *SourceStore) DueForSync(ctx context.Context, limit int) ([]domain.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources s
		WHERE s.sync_timeout_expires_at < $1
		  AND EXISTS (SELECT 1 FROM subscriptions sub WHERE sub.source_id = s.id)
		ORDER BY s.last_sync_at ASC NULLS FIRST, s.id
		LIMIT $2`

	var sources []domain.Source
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &sources, query, s.now(), limit); err != nil {
		return nil, fmt.Errorf("select sources due for sync: %w", err)
	}
	return sources, nil
}

func (s *SourceStore) ExtendSyncLease(ctx context.Context, ids []string, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE sources SET sync_timeout_expires_at = $1 WHERE id = ANY($2)`,
		until, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("extend sync lease: %w", err)
	}
	return nil
}

// ApplySync writes back the post-sync state of checked sources.
// A nil LastItemPublishedAt keeps the stored value.
func (s *SourceStore) ApplySync(ctx context.Context, changes []domain.SourceChange) error {
	query := `
		UPDATE sources SET
			title = COALESCE(NULLIF($2::text, ''), title),
			last_sync_at = $3,
			last_item_published_at = COALESCE($4, last_item_published_at)
		WHERE id = $1`

	exec := GetExecutor(ctx, s.db)
	for _, c := range changes {
		if _, err := exec.ExecContext(ctx, query, c.ID, c.Title, c.LastSyncAt, c.LastItemPublishedAt); err != nil {
			return fmt.Errorf("apply sync to source %s: %w", c.ID, err)
		}
	}
	return nil
}
