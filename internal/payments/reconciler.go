package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"socheath/backend/internal/models"
)

// BillNumber renders the per-attempt bill reference. The sequence carries
// uniqueness across orders, the timestamp across attempts for one order.
func BillNumber(seq int64, at time.Time) string {
	return fmt.Sprintf("ORDER_%05d_%d", seq, at.UnixMilli())
}

// OrderStore is the slice of the repository the reconciler needs: a
// compare-and-set that marks the order paid only if it is not already.
type OrderStore interface {
	MarkOrderPaid(ctx context.Context, orderID, transactionHash string) (models.Order, bool, error)
}

// Notifier relays a human-readable confirmation; failures are operator
// noise, never payment failures.
type Notifier interface {
	NotifyOrderPaid(ctx context.Context, order models.Order, res Result) error
}

// EventPublisher emits order lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, order models.Order) error
}

// DedupStore guards the notification side effect across processes.
type DedupStore interface {
	AcquireNotifyOnce(ctx context.Context, orderID string) (bool, error)
}

// Reconciler finalizes confirmed payments. Idempotency lives in the store's
// compare-and-set; everything after the CAS is best-effort.
type Reconciler struct {
	store    OrderStore
	notifier Notifier
	events   EventPublisher
	dedup    DedupStore
	logger   *slog.Logger
}

func NewReconciler(store OrderStore, notifier Notifier, events EventPublisher, dedup DedupStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		notifier: notifier,
		events:   events,
		dedup:    dedup,
		logger:   logger,
	}
}

// Finalize durably marks the order paid and fires the downstream side
// effects at most once. A second call with the same result returns the
// stored order unchanged and fires nothing.
func (r *Reconciler) Finalize(ctx context.Context, orderID string, res Result) (models.Order, bool, error) {
	if !res.Confirmed() {
		return models.Order{}, false, fmt.Errorf("finalize requires a confirmed result, got %s", res.Outcome)
	}

	order, confirmedNow, err := r.store.MarkOrderPaid(ctx, orderID, res.Hash)
	if err != nil {
		return models.Order{}, false, fmt.Errorf("mark order paid: %w", err)
	}
	if !confirmedNow {
		return order, false, nil
	}

	r.logger.Info("order_reconciled", "order_id", order.ID, "hash", res.Hash, "amount", res.Amount.String(), "currency", res.Currency)
	r.dispatch(ctx, order, res)
	return order, true, nil
}

func (r *Reconciler) dispatch(ctx context.Context, order models.Order, res Result) {
	if r.dedup != nil {
		acquired, err := r.dedup.AcquireNotifyOnce(ctx, order.ID)
		if err != nil {
			r.logger.Warn("order_notify_dedup_failed", "order_id", order.ID, "error", err)
		} else if !acquired {
			return
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyOrderPaid(ctx, order, res); err != nil {
			r.logger.Warn("order_notify_failed", "order_id", order.ID, "error", err)
		}
	}
	if r.events != nil {
		if err := r.events.PublishOrderPaid(ctx, order); err != nil {
			r.logger.Warn("order_event_publish_failed", "order_id", order.ID, "error", err)
		}
	}
}
