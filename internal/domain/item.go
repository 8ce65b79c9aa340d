package domain

import (
	"time"

	"github.com/lib/pq"
)

type Item struct {
	ID          string         `db:"id"`
	SourceID    string         `db:"source_id"`
	PublishedAt time.Time      `db:"published_at"`
	Title       string         `db:"title"`
	URL         string         `db:"url"`
	SourceTitle string         `db:"source_title"`
	Previews    pq.StringArray `db:"previews"` // highest quality first
	ImageHandle *string        `db:"image_file_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

// HasPreview reports whether an image variant can be attempted at all.
func (i *Item) HasPreview() bool {
	return len(i.Previews) > 0
}

type Obligation struct {
	DestinationID string    `db:"destination_id"`
	ItemID        string    `db:"item_id"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
}

// PendingDelivery is a due obligation joined with its item content.
type PendingDelivery struct {
	Obligation
	Item Item `db:"item"`
}
