package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpral/alertd/internal/metrics"
	"github.com/rpral/alertd/pkg/models"
)

// Reconciler converts provider-acknowledged push deliveries into a final
// delivered, error, or not_registered outcome by polling the provider's
// receipt endpoint. It is designed to be driven by an external trigger on a
// fixed cadence.
type Reconciler struct {
	store Store
	push  PushSender
	log   *slog.Logger
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Store  Store
	Push   PushSender
	Logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	return &Reconciler{
		store: opts.Store,
		push:  opts.Push,
		log:   opts.Logger.With("component", "receipt_reconciler"),
	}
}

// PollReceipts finalizes every sent push delivery the provider has a receipt
// for. Rows missing from the provider's response stay in sent and are picked
// up on the next cycle, which also makes repeated runs idempotent: finalized
// rows no longer match the pending query.
func (r *Reconciler) PollReceipts(ctx context.Context) (*models.ReceiptPollResult, error) {
	pending, err := r.store.ListPendingPushReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipts: %w", err)
	}
	if len(pending) == 0 {
		return &models.ReceiptPollResult{}, nil
	}

	receiptIDs := make([]string, len(pending))
	for i, p := range pending {
		receiptIDs[i] = p.ExpoReceiptID
	}

	receipts, err := r.push.Receipts(ctx, receiptIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to poll push receipts: %w", err)
	}

	result := &models.ReceiptPollResult{Polled: len(pending)}
	now := time.Now().UTC()
	for _, p := range pending {
		receipt, ok := receipts[p.ExpoReceiptID]
		if !ok {
			continue
		}

		var status models.DeliveryStatus
		meta := models.DeliveryStatusMeta{ReceiptCheckedAt: &now}
		switch {
		case receipt.Delivered():
			status = models.DeliveryStatusDelivered
			meta.DeliveredAt = &now
		case receipt.DeviceNotRegistered():
			status = models.DeliveryStatusNotRegistered
			meta.ErrorMessage = string(models.PushErrorDeviceNotRegistered)
			meta.FailedAt = &now
		default:
			status = models.DeliveryStatusError
			meta.ErrorMessage = receipt.Message
			meta.FailedAt = &now
		}

		if err := r.store.UpdateDeliveryStatus(ctx, p.DeliveryID, status, meta); err != nil {
			r.log.Error("failed to finalize delivery", "delivery_id", p.DeliveryID, "error", err)
			continue
		}
		metrics.IncDelivery(models.DeliveryChannelPush, status)
		result.Updated++

		if status == models.DeliveryStatusNotRegistered {
			if err := r.store.ClearPushToken(ctx, p.SubscriptionID); err != nil {
				r.log.Error("failed to clear stale push token",
					"subscription_id", p.SubscriptionID, "error", err)
			} else {
				r.log.Info("cleared stale push token", "subscription_id", p.SubscriptionID)
			}
		}
	}

	metrics.IncReceiptPoll(result.Polled)
	r.log.Info("receipt poll complete", "polled", result.Polled, "updated", result.Updated)
	return result, nil
}
