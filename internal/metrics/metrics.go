package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_events_ingested_total",
		Help: "Delivery events accepted from provider webhooks",
	}, []string{"provider", "type"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_events_rejected_total",
		Help: "Webhook payloads rejected at the boundary",
	}, []string{"provider", "reason"})

	DedupHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_dedup_hits_total",
		Help: "Duplicate delivery events dropped",
	}, []string{"provider", "store"})

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_gate_decisions_total",
		Help: "Execution gate decisions by reason",
	}, []string{"allowed", "reason"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_transitions_total",
		Help: "Health state transitions",
	}, []string{"entity_type", "to"})

	HealingGraduations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_healing_graduations_total",
		Help: "Recovery phase graduations",
	}, []string{"to_phase"})

	HealingRelapses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthstack_healing_relapses_total",
		Help: "Bounces during restricted_send or warm_recovery",
	})

	ProviderCommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_provider_command_failures_total",
		Help: "Provider commands that exhausted retries",
	}, []string{"command"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "healthstack_event_processing_duration_seconds",
		Help:    "Time spent applying one delivery event",
		Buckets: prometheus.DefBuckets,
	})

	CronJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthstack_cron_job_runs_total",
		Help: "Scheduled job executions by outcome",
	}, []string{"job", "status"})

	GateSnapshotMailboxes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "healthstack_gate_snapshot_mailboxes",
		Help: "Mailboxes held in the execution gate snapshot",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
