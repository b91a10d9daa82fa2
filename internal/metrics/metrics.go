// Package metrics exposes ledger and service counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimpers/betchya/internal/domain"
)

// Namespace prefixes every metric name.
const Namespace = "betchya"

// Metrics holds the collectors. Construct with New; the zero value is not
// usable.
type Metrics struct {
	registry *prometheus.Registry

	TxApplied     *prometheus.CounterVec
	TxRejected    *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	LedgerVersion prometheus.Gauge
	BetCount      prometheus.Gauge
	EscrowHeld    prometheus.Gauge
	BreakerState  prometheus.Gauge
	PublishErrors *prometheus.CounterVec
	OraclePrice   prometheus.Gauge
	ArchivedTotal *prometheus.CounterVec
	WSClients     prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TxApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "tx_applied_total", Help: "Transactions committed, by op.",
		}, []string{"op"}),
		TxRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "tx_rejected_total", Help: "Transactions rejected, by op and reason.",
		}, []string{"op", "reason"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "tx_apply_seconds", Help: "Time from sequencer lock to journal commit.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		LedgerVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "ledger_version", Help: "Number of committed transactions.",
		}),
		BetCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "bets", Help: "Bets created.",
		}),
		EscrowHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "escrow_held", Help: "Value held in escrow (may lose precision above 2^53).",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "breaker_state", Help: "0 started, 1 only-withdrawal, 2 stopped.",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "publish_errors_total", Help: "Post-commit fan-out failures, by sink.",
		}, []string{"sink"}),
		OraclePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "oracle_price", Help: "Last price observed by the price judge.",
		}),
		ArchivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "archived_records_total", Help: "Rows copied to cold storage, by kind.",
		}, []string{"kind"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "ws_clients", Help: "Connected websocket clients.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "http_requests_total", Help: "HTTP requests, by method and status.",
		}, []string{"method", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TxApplied, m.TxRejected, m.ApplyDuration,
		m.LedgerVersion, m.BetCount, m.EscrowHeld, m.BreakerState,
		m.PublishErrors, m.OraclePrice, m.ArchivedTotal, m.WSClients, m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveApplied records a committed transaction.
func (m *Metrics) ObserveApplied(op domain.Op, took time.Duration) {
	m.TxApplied.WithLabelValues(op.String()).Inc()
	m.ApplyDuration.Observe(took.Seconds())
}

// ObserveRejected records a rejected transaction under a stable reason label.
func (m *Metrics) ObserveRejected(op domain.Op, err error) {
	m.TxRejected.WithLabelValues(op.String(), Reason(err)).Inc()
}

// ObserveState copies the ledger summary into gauges.
func (m *Metrics) ObserveState(version, bets uint64, held domain.Amount, breaker domain.BreakerState) {
	m.LedgerVersion.Set(float64(version))
	m.BetCount.Set(float64(bets))
	m.EscrowHeld.Set(held.Float64())
	m.BreakerState.Set(float64(breaker))
}

var reasons = []struct {
	err   error
	label string
}{
	{domain.ErrNotAuthorized, "not_authorized"},
	{domain.ErrInvalidStage, "invalid_stage"},
	{domain.ErrAmountMismatch, "amount_mismatch"},
	{domain.ErrEmptyDescription, "empty_description"},
	{domain.ErrAlreadyWithdrawn, "already_withdrawn"},
	{domain.ErrNotEntitled, "not_entitled"},
	{domain.ErrBreakerBlocked, "breaker_blocked"},
	{domain.ErrInvalidParticipants, "invalid_participants"},
	{domain.ErrInvalidResult, "invalid_result"},
	{domain.ErrInsufficientFunds, "insufficient_funds"},
	{domain.ErrBadNonce, "bad_nonce"},
	{domain.ErrBadSignature, "bad_signature"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrOverflow, "overflow"},
	{domain.ErrReentrantCall, "reentrant"},
}

// Reason maps an error to a bounded label value.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "internal"
}
