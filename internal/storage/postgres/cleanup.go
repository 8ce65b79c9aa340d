package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Cleaner garbage-collects rows that no longer take part in delivery.
type Cleaner struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewCleaner(db *sqlx.DB) *Cleaner {
	return &Cleaner{db: db, now: time.Now}
}

// CleanDestinations removes destinations with no subscriptions and nothing left to deliver.
func (c *Cleaner) CleanDestinations(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM destinations d
		WHERE NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.destination_id = d.id)
		  AND NOT EXISTS (SELECT 1 FROM obligations o WHERE o.destination_id = d.id)`

	return c.exec(ctx, "destinations", query)
}

// CleanSources removes sources nobody subscribes to.
func (c *Cleaner) CleanSources(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM sources src
		WHERE NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.source_id = src.id)`

	return c.exec(ctx, "sources", query)
}

// CleanItems removes items published before now-retention that have no pending obligations.
func (c *Cleaner) CleanItems(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM items i
		WHERE i.published_at < $1
		  AND NOT EXISTS (SELECT 1 FROM obligations o WHERE o.item_id = i.id)`

	return c.exec(ctx, "items", query, c.now().Add(-retention))
}

func (c *Cleaner) exec(ctx context.Context, table, query string, args ...any) (int64, error) {
	res, err := GetExecutor(ctx, c.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", table, err)
	}
	return res.RowsAffected()
}
