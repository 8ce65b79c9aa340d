package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"video_notifier/internal/config"
	"video_notifier/internal/domain"
	"video_notifier/internal/throttle"
)

// Stores groups the persistence a Checker works on.
type Stores struct {
	Sources       SourceStore
	Items         ItemStore
	Subscriptions SubscriptionStore
	Queue         Queue
	Cleaner       Cleaner
}

// Checker runs polling and cleanup cycles.
type Checker struct {
	clients   map[string]Source
	stores    Stores
	txManager TransactionManager
	waker     Waker
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
	poll      config.PollConfig
	cleanup   config.CleanupConfig
	fetchPool *throttle.Pool
	now       func() time.Time
}

func NewChecker(
	clients []Source,
	stores Stores,
	txManager TransactionManager,
	waker Waker,
	publisher Publisher,
	metrics Metrics,
	logger *slog.Logger,
	poll config.PollConfig,
	cleanup config.CleanupConfig,
	fetchConcurrency int,
) *Checker {
	byService := make(map[string]Source, len(clients))
	for _, client := range clients {
		byService[client.Service()] = client
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Checker{
		clients:   byService,
		stores:    stores,
		txManager: txManager,
		waker:     waker,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "checker"),
		poll:      poll,
		cleanup:   cleanup,
		fetchPool: throttle.NewPool(fetchConcurrency),
		now:       time.Now,
	}
}

type fetchResult struct {
	items []domain.Item
	err   error
}

// Check syncs every source that is due, batch by batch, until none is left.
func (c *Checker) Check(ctx context.Context) (*domain.CheckStats, error) {
	startTime := c.now()
	stats := &domain.CheckStats{CycleID: uuid.NewString()}
	logger := c.logger.With("cycle_id", stats.CycleID)
	logger.Info("check started", "batch_size", c.poll.BatchSize)

	for {
		due, err := c.stores.Sources.DueForSync(ctx, c.poll.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("select due sources: %w", err)
		}
		if len(due) == 0 {
			break
		}

		stats.Batches++
		created, err := c.checkBatch(ctx, due, stats, logger)
		if err != nil {
			return stats, err
		}
		if created > 0 && c.waker != nil {
			c.waker.Notify()
		}
	}

	stats.Duration = c.now().Sub(startTime)
	c.finish(ctx, stats.Summary(c.now()), logger)

	logger.Info("check completed",
		"batches", stats.Batches,
		"sources_checked", stats.SourcesChecked,
		"sources_skipped", stats.SourcesSkipped,
		"items_found", stats.ItemsFound,
		"obligations_created", stats.ObligationsCreated,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (c *Checker) checkBatch(ctx context.Context, due []domain.Source, stats *domain.CheckStats, logger *slog.Logger) (int, error) {
	now := c.now()

	ids := make([]string, len(due))
	for i, src := range due {
		ids[i] = src.ID
	}
	if err := c.stores.Sources.ExtendSyncLease(ctx, ids, now.Add(c.poll.SyncLease)); err != nil {
		return 0, fmt.Errorf("extend sync lease: %w", err)
	}

	results := c.fetch(ctx, due, now)

	var (
		changes []domain.SourceChange
		fetched []domain.Item
		seen    = make(map[string]bool)
	)
	for i, src := range due {
		r := results[i]
		if r.err != nil {
			stats.SourcesSkipped++
			logger.Warn("source skipped", "source_id", src.ID, "error", r.err)
			continue
		}
		stats.SourcesChecked++

		change := domain.SourceChange{ID: src.ID, LastSyncAt: now}
		for _, item := range r.items {
			if item.SourceID != src.ID {
				logger.Debug("discarding item of unknown source", "source_id", item.SourceID, "item_id", item.ID)
				continue
			}
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			fetched = append(fetched, item)

			if item.SourceTitle != "" {
				change.Title = item.SourceTitle
			}
			if latest := latestOf(change.LastItemPublishedAt, src.LastItemPublishedAt); item.PublishedAt.After(latest) {
				published := item.PublishedAt
				change.LastItemPublishedAt = &published
			}
		}
		changes = append(changes, change)
	}

	fresh, err := c.filterNew(ctx, fetched)
	if err != nil {
		return 0, fmt.Errorf("filter new items: %w", err)
	}
	stats.ItemsFound += len(fresh)

	fanOut, err := c.fanOut(ctx, fresh)
	if err != nil {
		return 0, fmt.Errorf("resolve subscribers: %w", err)
	}

	created := 0
	err = c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if len(changes) > 0 {
			if err := c.stores.Sources.ApplySync(txCtx, changes); err != nil {
				return fmt.Errorf("apply source changes: %w", err)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		if _, err := c.stores.Items.InsertBatch(txCtx, fresh); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		for _, item := range fresh {
			destinations := fanOut[item.SourceID]
			if len(destinations) == 0 {
				continue
			}
			n, err := c.stores.Queue.Enqueue(txCtx, destinations, item.ID)
			if err != nil {
				return fmt.Errorf("enqueue item %s: %w", item.ID, err)
			}
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	stats.ObligationsCreated += created
	logger.Debug("batch stored",
		"sources", len(due),
		"changes", len(changes),
		"new_items", len(fresh),
		"obligations", created,
	)
	return created, nil
}

// fetch queries every source through the fetch pool. A failed source only
// fails its own result.
func (c *Checker) fetch(ctx context.Context, due []domain.Source, now time.Time) []fetchResult {
	results := make([]fetchResult, len(due))

	var wg sync.WaitGroup
	for i := range due {
		src := due[i]
		client, ok := c.clients[src.Service]
		if !ok {
			results[i].err = fmt.Errorf("no client for service %q", src.Service)
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			after := c.windowStart(src, now)
			results[i].err = c.fetchPool.Do(ctx, func(ctx context.Context) error {
				items, err := client.FetchNewItems(ctx, src, after)
				results[i].items = items
				return err
			})
		}(i)
	}
	wg.Wait()

	return results
}

// windowStart is the earliest publish time still worth fetching for src.
func (c *Checker) windowStart(src domain.Source, now time.Time) time.Time {
	start := now.Add(-c.poll.Lookback)
	if src.LastSyncAt != nil && src.LastSyncAt.After(start) {
		start = *src.LastSyncAt
	}
	if src.LastItemPublishedAt != nil {
		if next := src.LastItemPublishedAt.Add(time.Second); next.After(start) {
			start = next
		}
	}
	return start
}

func (c *Checker) filterNew(ctx context.Context, items []domain.Item) ([]domain.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	existing, err := c.stores.Items.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	var fresh []domain.Item
	for _, item := range items {
		if !known[item.ID] {
			fresh = append(fresh, item)
		}
	}
	return fresh, nil
}

func (c *Checker) fanOut(ctx context.Context, items []domain.Item) (map[string][]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	sourceIDs := make([]string, 0, len(items))
	added := make(map[string]bool)
	for _, item := range items {
		if !added[item.SourceID] {
			added[item.SourceID] = true
			sourceIDs = append(sourceIDs, item.SourceID)
		}
	}
	return c.stores.Subscriptions.DestinationsBySource(ctx, sourceIDs)
}

// Clean removes unreferenced destinations, sources and expired items.
func (c *Checker) Clean(ctx context.Context) (*domain.CleanStats, error) {
	startTime := c.now()
	stats := &domain.CleanStats{CycleID: uuid.NewString()}
	logger := c.logger.With("cycle_id", stats.CycleID)

	var err error
	if stats.RemovedDestinations, err = c.stores.Cleaner.CleanDestinations(ctx); err != nil {
		return stats, err
	}
	if stats.RemovedSources, err = c.stores.Cleaner.CleanSources(ctx); err != nil {
		return stats, err
	}
	if stats.RemovedItems, err = c.stores.Cleaner.CleanItems(ctx, c.cleanup.ItemRetention); err != nil {
		return stats, err
	}

	stats.Duration = c.now().Sub(startTime)
	c.finish(ctx, stats.Summary(c.now()), logger)

	logger.Info("clean completed",
		"removed_destinations", stats.RemovedDestinations,
		"removed_sources", stats.RemovedSources,
		"removed_items", stats.RemovedItems,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (c *Checker) finish(ctx context.Context, summary *domain.CycleSummary, logger *slog.Logger) {
	c.metrics.ObserveCycle(summary)
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishCycle(ctx, summary); err != nil {
		logger.Warn("failed to publish cycle summary", "error", err)
	}
}

func latestOf(a, b *time.Time) time.Time {
	var latest time.Time
	if a != nil {
		latest = *a
	}
	if b != nil && b.After(latest) {
		latest = *b
	}
	return latest
}
