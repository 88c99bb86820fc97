// Package dispatch implements the alert fan-out orchestrator and the push
// receipt reconciler. Both operate against narrow interfaces so the provider
// clients and the store can be substituted in tests.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpral/alertd/internal/core"
	"github.com/rpral/alertd/internal/metrics"
	"github.com/rpral/alertd/pkg/models"
)

// ErrAlertNotDispatchable is returned when dispatch is invoked on an alert
// that already left draft or pending. Dispatch does not serialize concurrent
// invocations for the same alert beyond this status gate.
var ErrAlertNotDispatchable = errors.New("alert is not in a dispatchable state")

// Store is the persistence surface the orchestrator and reconciler need.
// *sqlite.DB satisfies it.
type Store interface {
	GetAlert(ctx context.Context, alertID models.AlertID) (*models.Alert, error)
	SetAlertStatus(ctx context.Context, alertID models.AlertID, status models.AlertStatus, actorID models.UserID) (*models.Alert, error)
	ListActiveSubscriptions(ctx context.Context, channel models.AlertChannel) ([]*models.AlertSubscription, error)
	CreateDeliveries(ctx context.Context, alertID models.AlertID, inputs []models.NewDelivery) ([]*models.AlertDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, deliveryID models.DeliveryID, status models.DeliveryStatus, meta models.DeliveryStatusMeta) error
	ListPendingPushReceipts(ctx context.Context) ([]models.PendingReceipt, error)
	ClearPushToken(ctx context.Context, subscriptionID models.SubscriptionID) error
}

// PushSender is the push provider surface used for fan-out and receipt
// polling.
type PushSender interface {
	Chunk(messages []models.PushMessage) [][]models.PushMessage
	Send(ctx context.Context, batch []models.PushMessage) ([]models.PushTicket, error)
	Receipts(ctx context.Context, receiptIDs []string) (map[string]models.PushReceipt, error)
}

// SMSSender is the SMS provider surface used for fan-out.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (*models.SMSResult, error)
}

// Outcome records how one delivery row fared within a single dispatch
// invocation.
type Outcome struct {
	DeliveryID models.DeliveryID
	Channel    models.DeliveryChannel
	Status     models.DeliveryStatus
	Err        string
}

// Dispatcher fans a single alert out to every eligible subscriber across the
// push and SMS channels, maintaining the per-recipient delivery ledger and
// the alert's status machine.
type Dispatcher struct {
	store Store
	push  PushSender
	sms   SMSSender
	log   *slog.Logger
}

// Options configures a Dispatcher.
type Options struct {
	Store  Store
	Push   PushSender
	SMS    SMSSender
	Logger *slog.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		store: opts.Store,
		push:  opts.Push,
		sms:   opts.SMS,
		log:   opts.Logger.With("component", "dispatcher"),
	}
}

// Dispatch runs the full fan-out for one alert on behalf of an operator.
//
// Ledger rows for every (subscription, channel) pair are created before any
// send is attempted, so a crash mid-dispatch still leaves a complete record
// of attempted deliveries. Per-recipient provider rejections are downgraded
// to ledger statuses and never abort the run; an orchestration-level failure
// (store or provider unreachable outside the per-recipient boundaries) flips
// the alert to failed and propagates.
func (d *Dispatcher) Dispatch(ctx context.Context, alertID models.AlertID, actorID models.UserID) (*models.Alert, error) {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if !alert.Status.Dispatchable() {
		return nil, fmt.Errorf("%w: status %s", ErrAlertNotDispatchable, alert.Status)
	}

	if _, err := d.store.SetAlertStatus(ctx, alertID, models.AlertStatusDispatching, actorID); err != nil {
		return nil, fmt.Errorf("failed to mark alert dispatching: %w", err)
	}

	result, err := d.fanOut(ctx, alert)
	if err != nil {
		return nil, d.fail(ctx, alertID, actorID, err)
	}

	// The final transition is still inside the failure boundary: an alert
	// must never strand in dispatching, a state nothing can leave.
	updated, err := d.store.SetAlertStatus(ctx, alertID, models.AlertStatusSent, actorID)
	if err != nil {
		return nil, d.fail(ctx, alertID, actorID, fmt.Errorf("failed to mark alert sent: %w", err))
	}

	sent, failed := summarize(result)
	d.log.Info("alert dispatched",
		"alert_id", alertID,
		"severity", alert.Severity,
		"deliveries", len(result),
		"sent", sent,
		"failed", failed,
	)
	metrics.IncDispatch(models.AlertStatusSent)
	return updated, nil
}

// fail records an orchestration-scoped failure: the alert is moved to failed
// and the original error propagates to the caller.
func (d *Dispatcher) fail(ctx context.Context, alertID models.AlertID, actorID models.UserID, err error) error {
	d.log.Error("dispatch failed", "alert_id", alertID, "error", err)
	metrics.IncDispatch(models.AlertStatusFailed)
	if _, statusErr := d.store.SetAlertStatus(ctx, alertID, models.AlertStatusFailed, actorID); statusErr != nil {
		d.log.Error("failed to mark alert failed", "alert_id", alertID, "error", statusErr)
	}
	return err
}

// fanOut performs eligibility selection, ledger creation, and both channel
// fan-outs. Errors returned here are orchestration-scoped.
func (d *Dispatcher) fanOut(ctx context.Context, alert *models.Alert) ([]Outcome, error) {
	eligible, err := core.EligibleSubscriptions(ctx, d.store, models.SubscriptionFilter{
		Channel:       alert.Channel,
		AlertSeverity: alert.Severity,
	})
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		d.log.Info("no eligible subscribers", "alert_id", alert.ID, "severity", alert.Severity)
		return nil, nil
	}

	var (
		inputs   []models.NewDelivery
		pushSubs []*models.AlertSubscription
		smsSubs  []*models.AlertSubscription
	)
	for _, sub := range eligible {
		if alert.Channel.IncludesPush() && sub.PushTarget() {
			inputs = append(inputs, models.NewDelivery{
				SubscriptionID: sub.ID,
				Channel:        models.DeliveryChannelPush,
				RecipientToken: sub.ExpoPushToken,
			})
			pushSubs = append(pushSubs, sub)
		}
		if alert.Channel.IncludesSMS() && sub.SMSTarget() {
			inputs = append(inputs, models.NewDelivery{
				SubscriptionID: sub.ID,
				Channel:        models.DeliveryChannelSMS,
				RecipientPhone: sub.PhoneNumber,
			})
			smsSubs = append(smsSubs, sub)
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	deliveries, err := d.store.CreateDeliveries(ctx, alert.ID, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery records: %w", err)
	}
	byRecipient := make(map[string]*models.AlertDelivery, len(deliveries))
	for _, delivery := range deliveries {
		byRecipient[recipientKey(delivery.SubscriptionID, delivery.Channel)] = delivery
	}

	var outcomes []Outcome
	pushOutcomes, err := d.sendPush(ctx, alert, pushSubs, byRecipient)
	if err != nil {
		return nil, err
	}
	outcomes = append(outcomes, pushOutcomes...)
	smsOutcomes, err := d.sendSMS(ctx, alert, smsSubs, byRecipient)
	if err != nil {
		return nil, err
	}
	outcomes = append(outcomes, smsOutcomes...)
	return outcomes, nil
}

// sendPush batches all push-eligible recipients into provider-size chunks and
// records one outcome per ticket. A chunk-level provider failure is
// orchestration-scoped and propagates.
func (d *Dispatcher) sendPush(ctx context.Context, alert *models.Alert, subs []*models.AlertSubscription, byRecipient map[string]*models.AlertDelivery) ([]Outcome, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	messages := make([]models.PushMessage, len(subs))
	for i, sub := range subs {
		msg := models.PushMessage{
			To:       sub.ExpoPushToken,
			Title:    alert.Title,
			Body:     alert.LocalizedBody(sub.PreferredLocale),
			Priority: models.PushPriorityNormal,
			Data: map[string]string{
				"alert_id": string(alert.ID),
				"severity": string(alert.Severity),
			},
		}
		if alert.Severity == models.AlertSeverityCritical {
			msg.Sound = "default"
			msg.Priority = models.PushPriorityHigh
		}
		messages[i] = msg
	}

	var outcomes []Outcome
	offset := 0
	for _, chunk := range d.push.Chunk(messages) {
		tickets, err := d.push.Send(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("push batch send failed: %w", err)
		}

		now := time.Now().UTC()
		for i, ticket := range tickets {
			sub := subs[offset+i]
			delivery, ok := byRecipient[recipientKey(sub.ID, models.DeliveryChannelPush)]
			if !ok {
				continue
			}

			outcome := Outcome{DeliveryID: delivery.ID, Channel: models.DeliveryChannelPush}
			if ticket.Accepted() {
				outcome.Status = models.DeliveryStatusSent
				err = d.store.UpdateDeliveryStatus(ctx, delivery.ID, models.DeliveryStatusSent, models.DeliveryStatusMeta{
					ExpoReceiptID: ticket.ReceiptID,
					SentAt:        &now,
				})
			} else {
				outcome.Status = models.DeliveryStatusError
				outcome.Err = ticket.Message
				err = d.store.UpdateDeliveryStatus(ctx, delivery.ID, models.DeliveryStatusError, models.DeliveryStatusMeta{
					ErrorMessage: ticket.Message,
					FailedAt:     &now,
				})
			}
			if err != nil {
				return nil, fmt.Errorf("failed to update push delivery %s: %w", delivery.ID, err)
			}
			metrics.IncDelivery(models.DeliveryChannelPush, outcome.Status)
			outcomes = append(outcomes, outcome)
		}
		offset += len(chunk)
	}
	return outcomes, nil
}

// sendSMS attempts every SMS-eligible recipient sequentially to respect
// provider rate limits. One recipient's provider rejection never aborts the
// loop; a ledger write failure is orchestration-scoped, same as the push
// path, since a silently stale row breaks the audit trail.
func (d *Dispatcher) sendSMS(ctx context.Context, alert *models.Alert, subs []*models.AlertSubscription, byRecipient map[string]*models.AlertDelivery) ([]Outcome, error) {
	var outcomes []Outcome
	for _, sub := range subs {
		delivery, ok := byRecipient[recipientKey(sub.ID, models.DeliveryChannelSMS)]
		if !ok {
			continue
		}

		body := fmt.Sprintf("%s: %s", alert.Title, alert.LocalizedBody(sub.PreferredLocale))
		now := time.Now().UTC()
		outcome := Outcome{DeliveryID: delivery.ID, Channel: models.DeliveryChannelSMS}

		result, err := d.sms.Send(ctx, sub.PhoneNumber, body)
		var updateErr error
		if err != nil {
			outcome.Status = models.DeliveryStatusFailed
			outcome.Err = err.Error()
			updateErr = d.store.UpdateDeliveryStatus(ctx, delivery.ID, models.DeliveryStatusFailed, models.DeliveryStatusMeta{
				ErrorMessage: err.Error(),
				FailedAt:     &now,
			})
		} else {
			outcome.Status = models.DeliveryStatusSent
			updateErr = d.store.UpdateDeliveryStatus(ctx, delivery.ID, models.DeliveryStatusSent, models.DeliveryStatusMeta{
				TwilioSID: result.SID,
				SentAt:    &now,
			})
		}
		if updateErr != nil {
			return nil, fmt.Errorf("failed to update sms delivery %s: %w", delivery.ID, updateErr)
		}
		metrics.IncDelivery(models.DeliveryChannelSMS, outcome.Status)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func recipientKey(subID models.SubscriptionID, channel models.DeliveryChannel) string {
	return string(subID) + ":" + string(channel)
}

func summarize(outcomes []Outcome) (sent, failed int) {
	for _, o := range outcomes {
		if o.Status == models.DeliveryStatusSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}
