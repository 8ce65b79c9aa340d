package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"video_notifier/internal/domain"
)

type DestinationStore struct {
	db *sqlx.DB
	tm *TransactionManager
}

func NewDestinationStore(db *sqlx.DB) *DestinationStore {
	return &DestinationStore{db: db, tm: NewTransactionManager(db)}
}

// Upsert creates the destination or replaces its preferences.
func (s *DestinationStore) Upsert(ctx context.Context, d *domain.Destination) error {
	query := `
		INSERT INTO destinations (id, broadcast_id, hide_preview, muted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			broadcast_id = EXCLUDED.broadcast_id,
			hide_preview = EXCLUDED.hide_preview,
			muted = EXCLUDED.muted`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, d.ID, d.BroadcastID, d.HidePreview, d.Muted)
	if err != nil {
		return fmt.Errorf("upsert destination %s: %w", d.ID, err)
	}
	return nil
}

func (s *DestinationStore) Get(ctx context.Context, id string) (*domain.Destination, error) {
	var d domain.Destination
	query := `
		SELECT id, broadcast_id, hide_preview, muted, created_at
		FROM destinations
		WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get destination %s: %w", id, err)
	}
	return &d, nil
}

// Remove deletes the destination together with its subscriptions and obligations.
func (s *DestinationStore) Remove(ctx context.Context, id string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove destination %s: %w", id, err)
	}
	return nil
}

// UnlinkBroadcast detaches broadcastID from the destination, leaving the primary target active.
func (s *DestinationStore) UnlinkBroadcast(ctx context.Context, id, broadcastID string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE destinations SET broadcast_id = NULL, muted = FALSE WHERE id = $1 AND broadcast_id = $2`,
		id, broadcastID,
	)
	if err != nil {
		return fmt.Errorf("unlink broadcast %s from %s: %w", broadcastID, id, err)
	}
	return nil
}

// ChangeID moves a destination to the identifier assigned by the platform.
// Subscriptions and obligations follow the row; if newID is already known the
// two destinations are merged into newID.
func (s *DestinationStore) ChangeID(ctx context.Context, oldID, newID string) error {
	return s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		var exists bool
		err := sqlx.GetContext(ctx, exec, &exists,
			`SELECT EXISTS (SELECT 1 FROM destinations WHERE id = $1)`, newID)
		if err != nil {
			return fmt.Errorf("check destination %s: %w", newID, err)
		}

		if !exists {
			if _, err := exec.ExecContext(ctx, `UPDATE destinations SET id = $2 WHERE id = $1`, oldID, newID); err != nil {
				return fmt.Errorf("change destination id %s to %s: %w", oldID, newID, err)
			}
			return nil
		}

		merge := []string{
			`INSERT INTO subscriptions (destination_id, source_id, created_at)
			 SELECT $2, source_id, created_at FROM subscriptions WHERE destination_id = $1
			 ON CONFLICT DO NOTHING`,
			`INSERT INTO obligations (destination_id, item_id, next_attempt_at)
			 SELECT $2, item_id, next_attempt_at FROM obligations WHERE destination_id = $1
			 ON CONFLICT DO NOTHING`,
			`DELETE FROM destinations WHERE id = $1`,
		}
		for _, query := range merge {
			if _, err := exec.ExecContext(ctx, query, oldID, newID); err != nil {
				return fmt.Errorf("merge destination %s into %s: %w", oldID, newID, err)
			}
		}
		return nil
	})
}
