package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"video_notifier/internal/domain"
)

const itemColumns = 7

type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

// ExistingIDs returns the subset of ids that are already stored.
func (s *ItemStore) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var existing []string
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &existing,
		`SELECT id FROM items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select existing items: %w", err)
	}
	return existing, nil
}

// InsertBatch stores new items and returns how many rows were created.
// Items that already exist are left untouched.
func (s *ItemStore) InsertBatch(ctx context.Context, items []domain.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO items (id, source_id, published_at, title, url, source_title, previews) VALUES ")
	args := make([]any, 0, len(items)*itemColumns)

	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 1; col <= itemColumns; col++ {
			if col > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*itemColumns + col))
		}
		sb.WriteString(")")

		previews := item.Previews
		if previews == nil {
			previews = pq.StringArray{}
		}
		args = append(args, item.ID, item.SourceID, item.PublishedAt, item.Title, item.URL, item.SourceTitle, previews)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert items: %w", err)
	}
	return res.RowsAffected()
}

func (s *ItemStore) Get(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	query := `
		SELECT id, source_id, published_at, title, url, source_title, previews, image_file_id, created_at
		FROM items
		WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return &item, nil
}

// SetImageHandle caches the resolved image handle on the item. An empty handle
// clears it.
func (s *ItemStore) SetImageHandle(ctx context.Context, id, handle string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE items SET image_file_id = NULLIF($2::text, '') WHERE id = $1`, id, handle)
	if err != nil {
		return fmt.Errorf("set image handle for %s: %w", id, err)
	}
	return nil
}
