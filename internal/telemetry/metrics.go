// Package telemetry registra las métricas Prometheus del bot.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	EventsNormalized   *prometheus.CounterVec
	EventsDeduplicated *prometheus.CounterVec
	AdmissionsDenied   *prometheus.CounterVec
	CommandRuns        *prometheus.CounterVec
	ActionFailures     *prometheus.CounterVec
	GiftBatchesFlushed prometheus.Counter
	ReconnectAttempts  *prometheus.CounterVec
	BusDrops           *prometheus.CounterVec
	RefundsIssued      prometheus.Counter

	ActiveRuns prometheus.Gauge

	// segundos
	ActionDuration *prometheus.HistogramVec
)

// Init registra las métricas una sola vez.
func Init() {
	once.Do(func() {
		EventsNormalized = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_events_normalized_total", Help: "Events produced by the normalizer"}, []string{"platform", "kind"})
		EventsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_events_deduplicated_total", Help: "Raw events dropped as duplicates"}, []string{"platform"})
		AdmissionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_admissions_denied_total", Help: "Events denied by the admission gate"}, []string{"reason"})
		CommandRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_command_runs_total", Help: "Command runs by outcome"}, []string{"outcome"})
		ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_action_failures_total", Help: "Failed actions by kind"}, []string{"kind"})
		GiftBatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_gift_batches_flushed_total", Help: "Mass gift batches flushed by the reconciler"})
		ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_reconnect_attempts_total", Help: "Platform reconnect attempts"}, []string{"platform"})
		BusDrops = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_bus_drops_total", Help: "Events dropped by slow bus subscribers"}, []string{"topic"})
		RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_refunds_issued_total", Help: "Command costs refunded to participants"})
		ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_active_runs", Help: "Command runs currently executing"})
		ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "streambot_action_duration_seconds", Help: "Action execution duration seconds", Buckets: prometheus.DefBuckets}, []string{"kind"})
	})
}

func IncNormalized(platform, kind string) {
	if EventsNormalized != nil {
		EventsNormalized.WithLabelValues(platform, kind).Inc()
	}
}

func IncDeduplicated(platform string) {
	if EventsDeduplicated != nil {
		EventsDeduplicated.WithLabelValues(platform).Inc()
	}
}

func IncDenied(reason string) {
	if AdmissionsDenied != nil {
		AdmissionsDenied.WithLabelValues(reason).Inc()
	}
}

func IncCommandRun(outcome string) {
	if CommandRuns != nil {
		CommandRuns.WithLabelValues(outcome).Inc()
	}
}

func IncActionFailure(kind string) {
	if ActionFailures != nil {
		ActionFailures.WithLabelValues(kind).Inc()
	}
}

func IncGiftBatch() {
	if GiftBatchesFlushed != nil {
		GiftBatchesFlushed.Inc()
	}
}

func IncReconnect(platform string) {
	if ReconnectAttempts != nil {
		ReconnectAttempts.WithLabelValues(platform).Inc()
	}
}

func IncBusDrop(topic string) {
	if BusDrops != nil {
		BusDrops.WithLabelValues(topic).Inc()
	}
}

func IncRefund() {
	if RefundsIssued != nil {
		RefundsIssued.Inc()
	}
}

// AddActiveRuns suma delta (positivo o negativo) al gauge de ejecuciones activas.
func AddActiveRuns(delta float64) {
	if ActiveRuns != nil {
		ActiveRuns.Add(delta)
	}
}

func ObserveAction(kind string, d time.Duration) {
	if ActionDuration != nil {
		ActionDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}
