package domain

import (
	"strings"
	"time"
)

// ServiceYouTube is the only source type polled today.
const ServiceYouTube = "youtube"

// BuildID namespaces a service-local id so it is unique across source types.
func BuildID(service, rawID string) string {
	return service + ":" + rawID
}

// SplitID is the inverse of BuildID.
func SplitID(id string) (service, rawID string, ok bool) {
	return strings.Cut(id, ":")
}

type Source struct {
	ID                   string     `db:"id"`
	Service              string     `db:"service"`
	RawID                string     `db:"raw_id"`
	Title                string     `db:"title"`
	URL                  string     `db:"url"`
	LastSyncAt           *time.Time `db:"last_sync_at"`
	LastItemPublishedAt  *time.Time `db:"last_item_published_at"`
	SyncTimeoutExpiresAt time.Time  `db:"sync_timeout_expires_at"`
	Subscribed           bool       `db:"subscribed"`
	CreatedAt            time.Time  `db:"created_at"`
}

// SourceChange is the post-sync state written back for one checked source.
type SourceChange struct {
	ID                  string
	Title               string
	LastSyncAt          time.Time
	LastItemPublishedAt *time.Time
}

// Destination is a direct recipient, optionally linked to a broadcast target
// (e.g. a channel the recipient administers).
type Destination struct {
	ID          string    `db:"id"`
	BroadcastID *string   `db:"broadcast_id"`
	HidePreview bool      `db:"hide_preview"`
	Muted       bool      `db:"muted"`
	CreatedAt   time.Time `db:"created_at"`
}

// Targets returns the chat ids a delivery for this destination goes to, primary first.
// A muted destination keeps its linked broadcast silent.
func (d *Destination) Targets() []Target {
	targets := []Target{{ID: d.ID, Kind: TargetPrimary}}
	if d.BroadcastID != nil && !d.Muted {
		targets = append(targets, Target{ID: *d.BroadcastID, Kind: TargetBroadcast})
	}
	return targets
}

type TargetKind string

const (
	TargetPrimary   TargetKind = "primary"
	TargetBroadcast TargetKind = "broadcast"
)

type Target struct {
	ID   string
	Kind TargetKind
}

type Subscription struct {
	DestinationID string    `db:"destination_id"`
	SourceID      string    `db:"source_id"`
	CreatedAt     time.Time `db:"created_at"`
}
