package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"video_notifier/internal/coalesce"
	"video_notifier/internal/config"
	"video_notifier/internal/domain"
	"video_notifier/internal/throttle"
)

// Outcome is the terminal state of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeRetryScheduled     Outcome = "retry_scheduled"
	OutcomeEscalated          Outcome = "escalated"
	OutcomeMigrated           Outcome = "migrated"
	OutcomeDestinationRemoved Outcome = "destination_removed"
	OutcomeBroadcastUnlinked  Outcome = "broadcast_unlinked"
	OutcomeDropped            Outcome = "dropped"
	// OutcomeFailed means bookkeeping failed; the lease makes the obligation due again.
	OutcomeFailed Outcome = "failed"
)

// Dispatcher drains due obligations and delivers them, one delivery per destination at a time.
type Dispatcher struct {
	queue        Queue
	destinations DestinationStore
	items        ItemStore
	transport    Transport
	images       ImageResolver
	publisher    Publisher
	metrics      Metrics
	logger       *slog.Logger
	config       config.DispatchConfig

	sendPool   *throttle.Pool
	imageCache *coalesce.Cache[string]
	active     *registry
	wake       chan struct{}
	inflight   sync.WaitGroup
	now        func() time.Time
}

func NewDispatcher(
	queue Queue,
	destinations DestinationStore,
	items ItemStore,
	transport Transport,
	images ImageResolver,
	publisher Publisher,
	metrics Metrics,
	logger *slog.Logger,
	cfg config.DispatchConfig,
) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Dispatcher{
		queue:        queue,
		destinations: destinations,
		items:        items,
		transport:    transport,
		images:       images,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger.With("component", "dispatcher"),
		config:       cfg,
		sendPool:     throttle.NewPool(cfg.SendConcurrency),
		imageCache:   coalesce.New[string](),
		active:       newRegistry(),
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Notify wakes the run loop. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run keeps dispatching until ctx is done. It is woken by Notify, by finished
// deliveries and by a periodic tick that picks up rescheduled obligations.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"batch_size", d.config.BatchSize,
		"max_in_flight", d.config.MaxInFlight,
		"idle_interval", d.config.IdleInterval,
	)
	defer d.inflight.Wait()

	ticker := time.NewTicker(d.config.IdleInterval)
	defer ticker.Stop()

	for {
		if _, err := d.fill(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Drain dispatches until nothing is due and no delivery is in flight.
// It must not be used while Run is active.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		started, err := d.fill(ctx)
		if err != nil {
			d.inflight.Wait()
			return err
		}
		if started == 0 && d.active.len() == 0 {
			return nil
		}
		d.inflight.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// fill starts deliveries for due obligations until the in-flight cap is reached.
func (d *Dispatcher) fill(ctx context.Context) (int, error) {
	if d.active.len() >= d.config.MaxInFlight {
		return 0, nil
	}

	batch, err := d.queue.DueBatch(ctx, d.config.BatchSize, d.active.ids()...)
	if err != nil {
		return 0, fmt.Errorf("fetch due batch: %w", err)
	}

	started := 0
	for _, pd := range batch {
		if d.active.len() >= d.config.MaxInFlight {
			break
		}
		if !d.active.acquire(pd.DestinationID) {
			continue
		}

		started++
		d.inflight.Add(1)
		go func(pd domain.PendingDelivery) {
			defer d.inflight.Done()
			defer d.Notify()
			defer d.active.release(pd.DestinationID)
			d.Deliver(ctx, pd)
		}(pd)
	}

	if len(batch) > 0 {
		d.logger.Debug("dispatch batch", "due", len(batch), "started", started)
	}
	return started, nil
}

// Deliver runs one obligation through the delivery state machine.
func (d *Dispatcher) Deliver(ctx context.Context, pd domain.PendingDelivery) Outcome {
	start := d.now()
	logger := d.logger.With("destination_id", pd.DestinationID, "item_id", pd.ItemID)

	outcome := d.deliver(ctx, pd, logger)
	d.metrics.ObserveDelivery(string(outcome), d.now().Sub(start))
	return outcome
}

func (d *Dispatcher) deliver(ctx context.Context, pd domain.PendingDelivery, logger *slog.Logger) Outcome {
	if err := d.queue.Reschedule(ctx, pd.DestinationID, pd.ItemID, d.config.Lease); err != nil {
		logger.Error("failed to lease obligation", "error", err)
		return OutcomeFailed
	}

	dest, err := d.destinations.Get(ctx, pd.DestinationID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("destination gone, dropping obligation")
		if err := d.queue.Remove(ctx, pd.DestinationID, pd.ItemID); err != nil {
			logger.Error("failed to drop obligation", "error", err)
			return OutcomeFailed
		}
		return OutcomeDropped
	}
	if err != nil {
		logger.Error("failed to load destination", "error", err)
		return OutcomeFailed
	}

	item := &pd.Item
	variant, handle := d.variant(ctx, item, dest, logger)

	var records []*domain.DeliveryRecord
	for _, target := range dest.Targets() {
		receipt, err := d.send(ctx, target.ID, item, variant, handle)
		if err != nil && variant == domain.VariantImage && rejectedContent(err) {
			logger.Warn("image rejected, sending text", "target_id", target.ID, "image_handle", handle, "error", err)
			d.dropImageHandle(ctx, item, logger)
			variant, handle = domain.VariantText, ""
			receipt, err = d.send(ctx, target.ID, item, variant, handle)
		}
		if err != nil {
			return d.fail(ctx, pd, dest, target, records, err, logger)
		}
		logger.Debug("sent", "target_id", target.ID, "variant", variant, "message_id", receipt.MessageID)

		if variant == domain.VariantImage && receipt.ImageID != "" && receipt.ImageID != handle {
			handle = receipt.ImageID
			if err := d.items.SetImageHandle(ctx, item.ID, handle); err != nil {
				logger.Warn("failed to cache image handle", "error", err)
			}
		}

		records = append(records, &domain.DeliveryRecord{
			ID:            uuid.NewString(),
			DestinationID: dest.ID,
			TargetID:      target.ID,
			ItemID:        item.ID,
			SourceID:      item.SourceID,
			Variant:       variant,
			DeliveredAt:   d.now(),
		})
	}

	if err := d.queue.Remove(ctx, pd.DestinationID, pd.ItemID); err != nil {
		logger.Error("failed to remove delivered obligation", "error", err)
		return OutcomeFailed
	}

	d.publish(ctx, records, logger)

	logger.Info("delivered", "variant", variant, "targets", len(records))
	return OutcomeDelivered
}

// variant picks the message form. Image resolution failures fall back to text.
func (d *Dispatcher) variant(ctx context.Context, item *domain.Item, dest *domain.Destination, logger *slog.Logger) (domain.Variant, string) {
	if !item.HasPreview() || dest.HidePreview {
		return domain.VariantText, ""
	}
	if item.ImageHandle != nil && *item.ImageHandle != "" {
		return domain.VariantImage, *item.ImageHandle
	}

	handle, err := d.imageCache.Resolve(ctx, item.ID, func(ctx context.Context) (string, error) {
		handle, err := d.images.Resolve(ctx, item.Previews)
		if err != nil {
			return "", err
		}
		if err := d.items.SetImageHandle(ctx, item.ID, handle); err != nil {
			logger.Warn("failed to cache image handle", "error", err)
		}
		return handle, nil
	})
	if err != nil {
		logger.Warn("image unavailable, sending text", "error", err)
		return domain.VariantText, ""
	}

	item.ImageHandle = &handle
	return domain.VariantImage, handle
}

// dropImageHandle forgets a handle the transport refused so the next delivery
// of the item resolves the image again.
func (d *Dispatcher) dropImageHandle(ctx context.Context, item *domain.Item, logger *slog.Logger) {
	item.ImageHandle = nil
	if err := d.items.SetImageHandle(ctx, item.ID, ""); err != nil {
		logger.Warn("failed to clear image handle", "error", err)
	}
}

func rejectedContent(err error) bool {
	var de *domain.DeliveryError
	return errors.As(err, &de) && de.Reason == domain.ReasonBadContent
}

func (d *Dispatcher) publish(ctx context.Context, records []*domain.DeliveryRecord, logger *slog.Logger) {
	if d.publisher == nil {
		return
	}
	for _, record := range records {
		if err := d.publisher.PublishDelivery(ctx, record); err != nil {
			logger.Warn("failed to publish delivery record", "target_id", record.TargetID, "error", err)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, targetID string, item *domain.Item, variant domain.Variant, handle string) (*domain.Receipt, error) {
	var receipt *domain.Receipt
	err := d.sendPool.Do(ctx, func(ctx context.Context) error {
		var err error
		if variant == domain.VariantImage {
			receipt, err = d.transport.SendImage(ctx, targetID, handle, renderCaption(item))
		} else {
			receipt, err = d.transport.SendText(ctx, targetID, renderText(item))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		receipt = &domain.Receipt{TargetID: targetID}
	}
	return receipt, nil
}

// fail applies the classified reaction to a failed send. sent holds the
// records of targets already reached in this attempt.
func (d *Dispatcher) fail(ctx context.Context, pd domain.PendingDelivery, dest *domain.Destination, target domain.Target, sent []*domain.DeliveryRecord, sendErr error, logger *slog.Logger) Outcome {
	class := Classify(sendErr)
	logger = logger.With("target_id", target.ID, "class", class.String(), "error", sendErr)

	switch class {
	case Permanent:
		if target.Kind == domain.TargetBroadcast {
			if err := d.destinations.UnlinkBroadcast(ctx, dest.ID, target.ID); err != nil {
				logger.Error("failed to unlink broadcast", "unlink_error", err)
				return OutcomeFailed
			}
			if err := d.queue.Remove(ctx, pd.DestinationID, pd.ItemID); err != nil {
				logger.Error("failed to remove obligation", "remove_error", err)
				return OutcomeFailed
			}
			d.publish(ctx, sent, logger)
			logger.Warn("broadcast target unreachable, unlinked")
			return OutcomeBroadcastUnlinked
		}
		if err := d.destinations.Remove(ctx, dest.ID); err != nil {
			logger.Error("failed to remove destination", "remove_error", err)
			return OutcomeFailed
		}
		logger.Warn("destination unreachable, removed")
		return OutcomeDestinationRemoved

	case Migration:
		if target.Kind == domain.TargetPrimary {
			var de *domain.DeliveryError
			errors.As(sendErr, &de)
			if err := d.destinations.ChangeID(ctx, dest.ID, de.MigrateTo); err != nil {
				logger.Error("failed to migrate destination", "migrate_error", err)
				return OutcomeFailed
			}
			if err := d.queue.Reschedule(ctx, de.MigrateTo, pd.ItemID, 0); err != nil {
				logger.Error("failed to requeue migrated obligation", "reschedule_error", err)
				return OutcomeFailed
			}
			logger.Info("destination migrated", "new_destination_id", de.MigrateTo)
			return OutcomeMigrated
		}
		return d.reschedule(ctx, pd, d.config.RetryDelay, OutcomeRetryScheduled, logger)

	case Escalated:
		return d.reschedule(ctx, pd, d.config.EscalatedDelay, OutcomeEscalated, logger)

	default:
		return d.reschedule(ctx, pd, d.config.RetryDelay, OutcomeRetryScheduled, logger)
	}
}

func (d *Dispatcher) reschedule(ctx context.Context, pd domain.PendingDelivery, delay time.Duration, outcome Outcome, logger *slog.Logger) Outcome {
	if err := d.queue.Reschedule(ctx, pd.DestinationID, pd.ItemID, delay); err != nil {
		logger.Error("failed to reschedule obligation", "reschedule_error", err)
		return OutcomeFailed
	}
	logger.Warn("delivery failed, retry scheduled", "delay", delay)
	return outcome
}

type nopMetrics struct{}

func (nopMetrics) ObserveDelivery(string, time.Duration) {}
func (nopMetrics) ObserveCycle(*domain.CycleSummary) {}
