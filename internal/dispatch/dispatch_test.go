package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpral/alertd/internal/core"
	"github.com/rpral/alertd/pkg/models"
)

// fakeStore is a map-backed Store that mirrors the status-filtered query
// semantics of the sqlite layer.
type fakeStore struct {
	alerts        map[models.AlertID]*models.Alert
	subs          []*models.AlertSubscription
	deliveries    map[models.DeliveryID]*models.AlertDelivery
	order         []models.DeliveryID
	statusHistory map[models.DeliveryID][]models.DeliveryStatus
	clearedTokens []models.SubscriptionID
	nextID        int

	listSubsErr  error
	setStatusErr map[models.AlertStatus]error
	updateErrs   map[models.DeliveryID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		alerts:        make(map[models.AlertID]*models.Alert),
		deliveries:    make(map[models.DeliveryID]*models.AlertDelivery),
		statusHistory: make(map[models.DeliveryID][]models.DeliveryStatus),
	}
}

func (s *fakeStore) GetAlert(_ context.Context, alertID models.AlertID) (*models.Alert, error) {
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *alert
	return &copied, nil
}

func (s *fakeStore) SetAlertStatus(_ context.Context, alertID models.AlertID, status models.AlertStatus, actorID models.UserID) (*models.Alert, error) {
	if err := s.setStatusErr[status]; err != nil {
		return nil, err
	}
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	alert.Status = status
	if status == models.AlertStatusDispatching || status == models.AlertStatusSent {
		alert.DispatchedBy = actorID
	}
	copied := *alert
	return &copied, nil
}

func (s *fakeStore) ListActiveSubscriptions(_ context.Context, channel models.AlertChannel) ([]*models.AlertSubscription, error) {
	if s.listSubsErr != nil {
		return nil, s.listSubsErr
	}
	var out []*models.AlertSubscription
	for _, sub := range s.subs {
		if !sub.IsActive {
			continue
		}
		if channel != "" && channel != models.AlertChannelBoth && !sub.Channels.Intersects(channel) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *fakeStore) CreateDeliveries(_ context.Context, alertID models.AlertID, inputs []models.NewDelivery) ([]*models.AlertDelivery, error) {
	out := make([]*models.AlertDelivery, 0, len(inputs))
	for _, in := range inputs {
		s.nextID++
		delivery := &models.AlertDelivery{
			ID:             models.DeliveryID(fmt.Sprintf("d%d", s.nextID)),
			AlertID:        alertID,
			SubscriptionID: in.SubscriptionID,
			Channel:        in.Channel,
			RecipientToken: in.RecipientToken,
			RecipientPhone: in.RecipientPhone,
			Status:         models.DeliveryStatusPending,
		}
		s.deliveries[delivery.ID] = delivery
		s.order = append(s.order, delivery.ID)
		s.statusHistory[delivery.ID] = []models.DeliveryStatus{models.DeliveryStatusPending}
		out = append(out, delivery)
	}
	return out, nil
}

func (s *fakeStore) UpdateDeliveryStatus(_ context.Context, deliveryID models.DeliveryID, status models.DeliveryStatus, meta models.DeliveryStatusMeta) error {
	if err := s.updateErrs[deliveryID]; err != nil {
		return err
	}
	delivery, ok := s.deliveries[deliveryID]
	if !ok {
		return sql.ErrNoRows
	}
	delivery.Status = status
	if meta.ExpoReceiptID != "" {
		delivery.ExpoReceiptID = meta.ExpoReceiptID
	}
	if meta.TwilioSID != "" {
		delivery.TwilioSID = meta.TwilioSID
	}
	if meta.ErrorMessage != "" {
		delivery.ErrorMessage = meta.ErrorMessage
	}
	if meta.SentAt != nil {
		delivery.SentAt = meta.SentAt
	}
	if meta.DeliveredAt != nil {
		delivery.DeliveredAt = meta.DeliveredAt
	}
	if meta.FailedAt != nil {
		delivery.FailedAt = meta.FailedAt
	}
	if meta.ReceiptCheckedAt != nil {
		delivery.ReceiptCheckedAt = meta.ReceiptCheckedAt
	}
	s.statusHistory[deliveryID] = append(s.statusHistory[deliveryID], status)
	return nil
}

func (s *fakeStore) ListPendingPushReceipts(_ context.Context) ([]models.PendingReceipt, error) {
	var out []models.PendingReceipt
	for _, id := range s.order {
		d := s.deliveries[id]
		if d.Channel == models.DeliveryChannelPush && d.Status == models.DeliveryStatusSent && d.ExpoReceiptID != "" {
			out = append(out, models.PendingReceipt{
				DeliveryID:     d.ID,
				ExpoReceiptID:  d.ExpoReceiptID,
				SubscriptionID: d.SubscriptionID,
			})
		}
	}
	return out, nil
}

func (s *fakeStore) ClearPushToken(_ context.Context, subscriptionID models.SubscriptionID) error {
	s.clearedTokens = append(s.clearedTokens, subscriptionID)
	return nil
}

func (s *fakeStore) deliveryFor(subID models.SubscriptionID, channel models.DeliveryChannel) *models.AlertDelivery {
	for _, d := range s.deliveries {
		if d.SubscriptionID == subID && d.Channel == channel {
			return d
		}
	}
	return nil
}

// fakePush returns canned tickets per token. chunkSize lets tests exercise
// multi-batch sends with small recipient counts.
type fakePush struct {
	chunkSize int
	tickets   map[string]models.PushTicket
	receipts  map[string]models.PushReceipt

	sendCalls    [][]string
	receiptCalls [][]string
	sendErr      error
}

func (p *fakePush) Chunk(messages []models.PushMessage) [][]models.PushMessage {
	size := p.chunkSize
	if size <= 0 {
		size = 100
	}
	var chunks [][]models.PushMessage
	for len(messages) > 0 {
		n := size
		if len(messages) < n {
			n = len(messages)
		}
		chunks = append(chunks, messages[:n])
		messages = messages[n:]
	}
	return chunks
}

func (p *fakePush) Send(_ context.Context, batch []models.PushMessage) ([]models.PushTicket, error) {
	tokens := make([]string, len(batch))
	for i, msg := range batch {
		tokens[i] = msg.To
	}
	p.sendCalls = append(p.sendCalls, tokens)
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	tickets := make([]models.PushTicket, len(batch))
	for i, msg := range batch {
		if t, ok := p.tickets[msg.To]; ok {
			tickets[i] = t
		} else {
			tickets[i] = models.PushTicket{Status: models.PushStatusOK, ReceiptID: "r-" + msg.To}
		}
	}
	return tickets, nil
}

func (p *fakePush) Receipts(_ context.Context, ids []string) (map[string]models.PushReceipt, error) {
	p.receiptCalls = append(p.receiptCalls, ids)
	out := make(map[string]models.PushReceipt)
	for _, id := range ids {
		if r, ok := p.receipts[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// fakeSMS records every attempted send and fails the phone numbers listed in
// failWith.
type fakeSMS struct {
	failWith map[string]error
	calls    []string
}

func (s *fakeSMS) Send(_ context.Context, to, _ string) (*models.SMSResult, error) {
	s.calls = append(s.calls, to)
	if err, ok := s.failWith[to]; ok {
		return nil, err
	}
	return &models.SMSResult{SID: "SM-" + to, Status: "queued"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seedAlert(store *fakeStore, severity models.AlertSeverity, channel models.AlertChannel) *models.Alert {
	alert := &models.Alert{
		ID:       "alert-1",
		Severity: severity,
		Channel:  channel,
		Title:    "Storm Warning",
		Body:     "Seek shelter",
		BodyES:   "Busque refugio",
		Status:   models.AlertStatusDraft,
	}
	store.alerts[alert.ID] = alert
	return alert
}

func TestDispatchFanOut(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityWarning, models.AlertChannelBoth)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", ExpoPushToken: "tok1", PhoneNumber: "+15550001", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelBoth, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
		{ID: "sub2", UserID: "u2", ExpoPushToken: "tok2", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelPush, SeverityThreshold: models.AlertSeverityCritical, IsActive: true},
		{ID: "sub3", UserID: "u3", PhoneNumber: "+15550003", PreferredLocale: models.AlertLocaleES, Channels: models.AlertChannelSMS, SeverityThreshold: models.AlertSeverityWarning, IsActive: true},
	}
	push := &fakePush{tickets: map[string]models.PushTicket{
		"tok1": {Status: models.PushStatusOK, ReceiptID: "R1"},
	}}
	sms := &fakeSMS{failWith: map[string]error{
		"+15550001": errors.New("invalid number"),
	}}

	d := New(Options{Store: store, Push: push, SMS: sms, Logger: testLogger()})
	updated, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, updated.Status)
	assert.Equal(t, models.UserID("staff-1"), updated.DispatchedBy)

	// Threshold critical excludes sub2; sub1 gets push and sms, sub3 sms only.
	require.Len(t, store.deliveries, 3)
	assert.Nil(t, store.deliveryFor("sub2", models.DeliveryChannelPush))

	pushRow := store.deliveryFor("sub1", models.DeliveryChannelPush)
	require.NotNil(t, pushRow)
	assert.Equal(t, models.DeliveryStatusSent, pushRow.Status)
	assert.Equal(t, "R1", pushRow.ExpoReceiptID)
	require.NotNil(t, pushRow.SentAt)

	smsRow := store.deliveryFor("sub1", models.DeliveryChannelSMS)
	require.NotNil(t, smsRow)
	assert.Equal(t, models.DeliveryStatusFailed, smsRow.Status)
	assert.Equal(t, "invalid number", smsRow.ErrorMessage)
	require.NotNil(t, smsRow.FailedAt)

	// A failure earlier in the sequential loop does not skip later recipients.
	sub3Row := store.deliveryFor("sub3", models.DeliveryChannelSMS)
	require.NotNil(t, sub3Row)
	assert.Equal(t, models.DeliveryStatusSent, sub3Row.Status)
	assert.Equal(t, "SM-+15550003", sub3Row.TwilioSID)
	assert.Equal(t, []string{"+15550001", "+15550003"}, sms.calls)
}

func TestDispatchLocalizedBodies(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityCritical, models.AlertChannelPush)
	store.subs = []*models.AlertSubscription{
		{ID: "sub-es", UserID: "u1", ExpoPushToken: "tok-es", PreferredLocale: models.AlertLocaleES, Channels: models.AlertChannelPush, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}
	var captured []models.PushMessage
	push := &capturingPush{fakePush: &fakePush{}, captured: &captured}

	d := New(Options{Store: store, Push: push, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)

	require.Len(t, captured, 1)
	assert.Equal(t, "Busque refugio", captured[0].Body)
	assert.Equal(t, models.PushPriorityHigh, captured[0].Priority)
	assert.Equal(t, "default", captured[0].Sound)
	assert.Equal(t, string(alert.ID), captured[0].Data["alert_id"])
}

type capturingPush struct {
	*fakePush
	captured *[]models.PushMessage
}

func (p *capturingPush) Send(ctx context.Context, batch []models.PushMessage) ([]models.PushTicket, error) {
	*p.captured = append(*p.captured, batch...)
	return p.fakePush.Send(ctx, batch)
}

func TestDispatchMultipleChunks(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	for i := 0; i < 5; i++ {
		store.subs = append(store.subs, &models.AlertSubscription{
			ID:                models.SubscriptionID(fmt.Sprintf("sub%d", i)),
			UserID:            models.UserID(fmt.Sprintf("u%d", i)),
			ExpoPushToken:     fmt.Sprintf("tok%d", i),
			PreferredLocale:   models.AlertLocaleEN,
			Channels:          models.AlertChannelPush,
			SeverityThreshold: models.AlertSeverityInfo,
			IsActive:          true,
		})
	}
	push := &fakePush{chunkSize: 2}

	d := New(Options{Store: store, Push: push, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)

	require.Len(t, push.sendCalls, 3)
	// Receipt ids must land on the row of the token they were issued for,
	// even across batch boundaries.
	for i := 0; i < 5; i++ {
		row := store.deliveryFor(models.SubscriptionID(fmt.Sprintf("sub%d", i)), models.DeliveryChannelPush)
		require.NotNil(t, row)
		assert.Equal(t, models.DeliveryStatusSent, row.Status)
		assert.Equal(t, fmt.Sprintf("r-tok%d", i), row.ExpoReceiptID)
	}
}

func TestDispatchRejectedTicket(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", ExpoPushToken: "tok1", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelPush, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}
	push := &fakePush{tickets: map[string]models.PushTicket{
		"tok1": {Status: models.PushStatusError, Message: "token malformed"},
	}}

	d := New(Options{Store: store, Push: push, SMS: &fakeSMS{}, Logger: testLogger()})
	updated, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, updated.Status)

	row := store.deliveryFor("sub1", models.DeliveryChannelPush)
	require.NotNil(t, row)
	assert.Equal(t, models.DeliveryStatusError, row.Status)
	assert.Equal(t, "token malformed", row.ErrorMessage)
}

func TestDispatchNoEligibleSubscribers(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityCritical, models.AlertChannelBoth)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", PhoneNumber: "+15550001", Channels: models.AlertChannelSMS, SeverityThreshold: models.AlertSeverityInfo, IsActive: false},
	}
	push := &fakePush{}
	sms := &fakeSMS{}

	d := New(Options{Store: store, Push: push, SMS: sms, Logger: testLogger()})
	updated, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, updated.Status)
	assert.Empty(t, store.deliveries)
	assert.Empty(t, push.sendCalls)
	assert.Empty(t, sms.calls)
}

func TestDispatchAlertNotFound(t *testing.T) {
	d := New(Options{Store: newFakeStore(), Push: &fakePush{}, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), "missing", "staff-1")
	assert.ErrorIs(t, err, core.ErrAlertNotFound)
}

func TestDispatchAlreadyDispatched(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	alert.Status = models.AlertStatusSent

	d := New(Options{Store: store, Push: &fakePush{}, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	assert.ErrorIs(t, err, ErrAlertNotDispatchable)
	assert.Equal(t, models.AlertStatusSent, store.alerts[alert.ID].Status)
}

func TestDispatchOrchestrationFailure(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	store.listSubsErr = errors.New("store unreachable")

	d := New(Options{Store: store, Push: &fakePush{}, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.Error(t, err)
	assert.Equal(t, models.AlertStatusFailed, store.alerts[alert.ID].Status)
}

func TestDispatchChunkSendFailure(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", ExpoPushToken: "tok1", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelPush, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}
	push := &fakePush{sendErr: errors.New("provider outage")}

	d := New(Options{Store: store, Push: push, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.Error(t, err)
	assert.Equal(t, models.AlertStatusFailed, store.alerts[alert.ID].Status)

	// The ledger row exists even though the send never completed.
	row := store.deliveryFor("sub1", models.DeliveryChannelPush)
	require.NotNil(t, row)
	assert.Equal(t, models.DeliveryStatusPending, row.Status)
}

func TestDispatchMarkSentFailure(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelPush)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", ExpoPushToken: "tok1", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelPush, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}
	store.setStatusErr = map[models.AlertStatus]error{
		models.AlertStatusSent: errors.New("write conn lost"),
	}

	d := New(Options{Store: store, Push: &fakePush{}, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.Error(t, err)

	// The alert must not strand in dispatching, which nothing can leave.
	assert.Equal(t, models.AlertStatusFailed, store.alerts[alert.ID].Status)
	// The fan-out itself completed before the final transition broke.
	row := store.deliveryFor("sub1", models.DeliveryChannelPush)
	require.NotNil(t, row)
	assert.Equal(t, models.DeliveryStatusSent, row.Status)
}

func TestDispatchSMSLedgerWriteFailure(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityInfo, models.AlertChannelSMS)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", PhoneNumber: "+15550001", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelSMS, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}
	sms := &fakeSMS{}
	// The fake hands the first created row the id d1; its status write fails
	// after the provider send succeeds.
	store.updateErrs = map[models.DeliveryID]error{"d1": errors.New("write conn lost")}

	d := New(Options{Store: store, Push: &fakePush{}, SMS: sms, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.Error(t, err)
	assert.Equal(t, []string{"+15550001"}, sms.calls)
	assert.Equal(t, models.AlertStatusFailed, store.alerts[alert.ID].Status)
}

func TestDispatchStatusNeverRegresses(t *testing.T) {
	store := newFakeStore()
	alert := seedAlert(store, models.AlertSeverityWarning, models.AlertChannelBoth)
	store.subs = []*models.AlertSubscription{
		{ID: "sub1", UserID: "u1", ExpoPushToken: "tok1", PhoneNumber: "+15550001", PreferredLocale: models.AlertLocaleEN, Channels: models.AlertChannelBoth, SeverityThreshold: models.AlertSeverityInfo, IsActive: true},
	}

	d := New(Options{Store: store, Push: &fakePush{}, SMS: &fakeSMS{}, Logger: testLogger()})
	_, err := d.Dispatch(context.Background(), alert.ID, "staff-1")
	require.NoError(t, err)

	rank := map[models.DeliveryStatus]int{
		models.DeliveryStatusPending: 0,
		models.DeliveryStatusSent:    1,
		models.DeliveryStatusFailed:  1,
		models.DeliveryStatusError:   1,
	}
	for id, history := range store.statusHistory {
		for i := 1; i < len(history); i++ {
			assert.GreaterOrEqual(t, rank[history[i]], rank[history[i-1]], "delivery %s regressed: %v", id, history)
		}
	}
}
