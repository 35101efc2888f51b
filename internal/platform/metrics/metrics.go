// Package metrics holds the wallet's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "open_wallet"

type Metrics struct {
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	commandRetriesTotal *prometheus.CounterVec
	replaysTotal        *prometheus.CounterVec

	outboxPublishTotal  *prometheus.CounterVec
	outboxAlertsTotal   prometheus.Counter
	outboxPending       prometheus.Gauge
	outboxOldestAge     prometheus.Gauge
	cleanupRunsTotal    *prometheus.CounterVec
	cleanupDeletedTotal prometheus.Counter
	cleanupLastDeleted  prometheus.Gauge
	cleanupLastRunUnix  prometheus.Gauge

	inboxTotal     *prometheus.CounterVec
	reconcileTotal *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "commands_total",
				Help:      "Wallet commands by command and result code.",
			},
			[]string{"command", "result"},
		),
		commandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "command_duration_seconds",
				Help:      "Wall time of wallet commands including retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		commandRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "command_retries_total",
				Help:      "Whole-command retries by command and reason.",
			},
			[]string{"command", "reason"},
		),
		replaysTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "idempotent_replays_total",
				Help:      "Commands answered from a stored idempotency record.",
			},
			[]string{"command"},
		),
		outboxPublishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "publish_total",
				Help:      "Outbox publish attempts by result.",
			},
			[]string{"result"},
		),
		outboxAlertsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "alerts_total",
				Help:      "Outbox rows that exhausted their attempt budget.",
			},
		),
		outboxPending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "pending",
				Help:      "Current count of unpublished outbox rows.",
			},
		),
		outboxOldestAge: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "oldest_pending_age_seconds",
				Help:      "Age of the oldest unpublished outbox row.",
			},
		),
		cleanupRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox_retention",
				Name:      "cleanup_runs_total",
				Help:      "Total cleanup runs partitioned by result.",
			},
			[]string{"result"},
		),
		cleanupDeletedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox_retention",
				Name:      "cleanup_deleted_total",
				Help:      "Total number of published outbox rows deleted.",
			},
		),
		cleanupLastDeleted: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox_retention",
				Name:      "cleanup_last_deleted",
				Help:      "Number of rows deleted in the most recent cleanup run.",
			},
		),
		cleanupLastRunUnix: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox_retention",
				Name:      "cleanup_last_run_unix",
				Help:      "Unix time of the most recent cleanup run.",
			},
		),
		inboxTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inbox",
				Name:      "messages_total",
				Help:      "Inbound messages by event type and result.",
			},
			[]string{"event_type", "result"},
		),
		reconcileTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "rows_total",
				Help:      "Reconciliation row outcomes by worker and result.",
			},
			[]string{"worker", "result"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balance_cache",
				Name:      "lookups_total",
				Help:      "Balance cache lookups by result.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveCommand(command, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCommandRetry(command, reason string) {
	if m == nil {
		return
	}
	m.commandRetriesTotal.WithLabelValues(command, reason).Inc()
}

func (m *Metrics) ObserveReplay(command string) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveOutboxPublish(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.outboxPublishTotal.WithLabelValues("success").Inc()
		return
	}
	m.outboxPublishTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) ObserveOutboxAlert() {
	if m == nil {
		return
	}
	m.outboxAlertsTotal.Inc()
}

func (m *Metrics) SetOutboxBacklog(pending int64, oldest *time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	if oldest == nil {
		m.outboxOldestAge.Set(0)
		return
	}
	m.outboxOldestAge.Set(now.Sub(*oldest).Seconds())
}

func (m *Metrics) ObserveOutboxCleanup(deleted int64, err error) {
	if m == nil {
		return
	}
	m.cleanupLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.cleanupLastDeleted.Set(float64(deleted))
	if err != nil {
		m.cleanupRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRunsTotal.WithLabelValues("success").Inc()
	if deleted > 0 {
		m.cleanupDeletedTotal.Add(float64(deleted))
	}
}

func (m *Metrics) ObserveInbox(eventType, result string) {
	if m == nil {
		return
	}
	m.inboxTotal.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObserveReconcile(worker, result string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(worker, result).Inc()
}

func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}
