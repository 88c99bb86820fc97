// Package metrics exposes Prometheus counters for the dispatch pipeline via
// VictoriaMetrics' default registry.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/rpral/alertd/pkg/models"
)

// IncDispatch records the outcome of one dispatch invocation. Outcome is the
// alert's resulting status (sent or failed).
func IncDispatch(outcome models.AlertStatus) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`alertd_dispatches_total{outcome=%q}`, outcome)).Inc()
}

// IncDelivery records one delivery row reaching a status during dispatch or
// reconciliation.
func IncDelivery(channel models.DeliveryChannel, status models.DeliveryStatus) {
	metrics.GetOrCreateCounter(
		fmt.Sprintf(`alertd_deliveries_total{channel=%q,status=%q}`, channel, status),
	).Inc()
}

// IncReceiptPoll records one reconciler run and how many receipts it
// inspected.
func IncReceiptPoll(polled int) {
	metrics.GetOrCreateCounter(`alertd_receipt_polls_total`).Inc()
	metrics.GetOrCreateCounter(`alertd_receipts_polled_total`).Add(polled)
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}
