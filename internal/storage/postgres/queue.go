package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"video_notifier/internal/domain"
)

// Queue is the durable set of delivery obligations.
type Queue struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewQueue(db *sqlx.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue creates an obligation for every destination that does not already have one for itemID.
// It returns the number of obligations created.
func (q *Queue) Enqueue(ctx context.Context, destinationIDs []string, itemID string) (int64, error) {
	if len(destinationIDs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO obligations (destination_id, item_id)
		SELECT DISTINCT unnest($1::text[]), $2
		ON CONFLICT (destination_id, item_id) DO NOTHING`

	res, err := GetExecutor(ctx, q.db).ExecContext(ctx, query, pq.Array(destinationIDs), itemID)
	if err != nil {
		return 0, fmt.Errorf("enqueue item %s: %w", itemID, err)
	}
	return res.RowsAffected()
}

// DueBatch returns up to limit obligations that are eligible now, oldest item first,
// joined with the item content. Obligations of destinations in skip are not returned.
func (q *Queue) DueBatch(ctx context.Context, limit int, skip ...string) ([]domain.PendingDelivery, error) {
	query := `
		SELECT
			o.destination_id, o.item_id, o.next_attempt_at,
			i.id            AS "item.id",
			i.source_id     AS "item.source_id",
			i.published_at  AS "item.published_at",
			i.title         AS "item.title",
			i.url           AS "item.url",
			i.source_title  AS "item.source_title",
			i.previews      AS "item.previews",
			i.image_file_id AS "item.image_file_id",
			i.created_at    AS "item.created_at"
		FROM obligations o
		JOIN items i ON i.id = o.item_id
		WHERE o.next_attempt_at < $1
		  AND NOT (o.destination_id = ANY($2))
		ORDER BY i.published_at ASC, o.destination_id
		LIMIT $3`

	if skip == nil {
		skip = []string{}
	}

	var batch []domain.PendingDelivery
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, q.db), &batch, query, q.now(), pq.Array(skip), limit)
	if err != nil {
		return nil, fmt.Errorf("select due obligations: %w", err)
	}
	return batch, nil
}

// Reschedule makes the obligation eligible again after delay.
func (q *Queue) Reschedule(ctx context.Context, destinationID, itemID string, delay time.Duration) error {
	_, err := GetExecutor(ctx, q.db).ExecContext(ctx,
		`UPDATE obligations SET next_attempt_at = $3 WHERE destination_id = $1 AND item_id = $2`,
		destinationID, itemID, q.now().Add(delay),
	)
	if err != nil {
		return fmt.Errorf("reschedule %s/%s: %w", destinationID, itemID, err)
	}
	return nil
}

func (q *Queue) Remove(ctx context.Context, destinationID, itemID string) error {
	_, err := GetExecutor(ctx, q.db).ExecContext(ctx,
		`DELETE FROM obligations WHERE destination_id = $1 AND item_id = $2`,
		destinationID, itemID,
	)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", destinationID, itemID, err)
	}
	return nil
}

// Pending counts the obligations currently stored.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, q.db), &n, `SELECT COUNT(*) FROM obligations`); err != nil {
		return 0, fmt.Errorf("count obligations: %w", err)
	}
	return n, nil
}
