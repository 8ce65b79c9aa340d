package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type SubscriptionStore struct {
	db *sqlx.DB
}

func NewSubscriptionStore(db *sqlx.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) Subscribe(ctx context.Context, destinationID, sourceID string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO subscriptions (destination_id, source_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		destinationID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", destinationID, sourceID, err)
	}
	return nil
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, destinationID, sourceID string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM subscriptions WHERE destination_id = $1 AND source_id = $2`,
		destinationID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", destinationID, sourceID, err)
	}
	return nil
}

// DestinationsBySource maps each given source id to its subscribed destination ids.
// Sources without subscribers are absent from the result.
func (s *SubscriptionStore) DestinationsBySource(ctx context.Context, sourceIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(sourceIDs) == 0 {
		return result, nil
	}

	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx,
		`SELECT source_id, destination_id FROM subscriptions WHERE source_id = ANY($1) ORDER BY source_id, destination_id`,
		pq.Array(sourceIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID, destinationID string
		if err := rows.Scan(&sourceID, &destinationID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		result[sourceID] = append(result[sourceID], destinationID)
	}
	return result, rows.Err()
}
