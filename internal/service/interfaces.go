package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"video_notifier/internal/domain"
)

type SourceStore interface {
	DueForSync(ctx context.Context, limit int) ([]domain.Source, error)
	ExtendSyncLease(ctx context.Context, ids []string, until time.Time) error
	ApplySync(ctx context.Context, changes []domain.SourceChange) error
}

type ItemStore interface {
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
	InsertBatch(ctx context.Context, items []domain.Item) (int64, error)
	SetImageHandle(ctx context.Context, id, handle string) error
}

type SubscriptionStore interface {
	DestinationsBySource(ctx context.Context, sourceIDs []string) (map[string][]string, error)
}

type DestinationStore interface {
	Get(ctx context.Context, id string) (*domain.Destination, error)
	Remove(ctx context.Context, id string) error
	UnlinkBroadcast(ctx context.Context, id, broadcastID string) error
	ChangeID(ctx context.Context, oldID, newID string) error
}

type Queue interface {
	Enqueue(ctx context.Context, destinationIDs []string, itemID string) (int64, error)
	DueBatch(ctx context.Context, limit int, skip ...string) ([]domain.PendingDelivery, error)
	Reschedule(ctx context.Context, destinationID, itemID string, delay time.Duration) error
	Remove(ctx context.Context, destinationID, itemID string) error
}

type Cleaner interface {
	CleanDestinations(ctx context.Context) (int64, error)
	CleanSources(ctx context.Context) (int64, error)
	CleanItems(ctx context.Context, retention time.Duration) (int64, error)
}

// Source fetches items a channel published after a point in time.
type Source interface {
	Service() string
	FetchNewItems(ctx context.Context, source domain.Source, publishedAfter time.Time) ([]domain.Item, error)
}

type Transport interface {
	SendText(ctx context.Context, targetID, text string) (*domain.Receipt, error)
	SendImage(ctx context.Context, targetID, imageHandle, caption string) (*domain.Receipt, error)
}

// ImageResolver turns candidate preview urls into a handle reusable across sends.
type ImageResolver interface {
	Resolve(ctx context.Context, urls []string) (string, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishDelivery(ctx context.Context, record *domain.DeliveryRecord) error
	PublishCycle(ctx context.Context, summary *domain.CycleSummary) error
	Close() error
}

type Metrics interface {
	ObserveDelivery(outcome string, duration time.Duration)
	ObserveCycle(summary *domain.CycleSummary)
}

// Waker is notified when new obligations were enqueued.
type Waker interface {
	Notify()
}
