package metrics

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/pkg/circuitbreaker"
)

// Metrics holds the curator's collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	RecordsSubmitted prometheus.Counter
	RecordsAccepted  prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	Paraphrases      prometheus.Counter
	FlushDuration    prometheus.Histogram
	FlushBatchSize   prometheus.Histogram
	FlushErrors      prometheus.Counter
	JudgeAttempts    *prometheus.CounterVec
	LLMTokensUsed    *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	RunsActive       prometheus.Gauge
	RunsTotal        *prometheus.CounterVec
	Checkpoints      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RecordsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_records_submitted_total",
			Help: "Records submitted to the scoring pool",
		}),
		RecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_records_accepted_total",
			Help: "Records that passed every gate",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_records_rejected_total",
			Help: "Records rejected, by stage or score dimension",
		}, []string{"stage"}),
		Paraphrases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_paraphrases_generated_total",
			Help: "Paraphrases returned by the generator",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_pool_flush_duration_seconds",
			Help:    "Time spent scoring one pool batch",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		FlushBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_pool_flush_batch_size",
			Help:    "Records per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_pool_flush_errors_total",
			Help: "Batches dropped because scoring failed",
		}),
		JudgeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_judge_attempts_total",
			Help: "Judge round-trips by parse outcome",
		}, []string{"outcome"}),
		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_llm_tokens_used_total",
			Help: "LLM tokens used",
		}, []string{"model", "type"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curator_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curator_runs_active",
			Help: "Curation runs in progress",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_runs_total",
			Help: "Finished curation runs by status",
		}, []string{"status"}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_checkpoints_total",
			Help: "Checkpoint log writes",
		}),
	}

	m.registry.MustRegister(
		m.RecordsSubmitted,
		m.RecordsAccepted,
		m.RecordsRejected,
		m.Paraphrases,
		m.FlushDuration,
		m.FlushBatchSize,
		m.FlushErrors,
		m.JudgeAttempts,
		m.LLMTokensUsed,
		m.BreakerState,
		m.RunsActive,
		m.RunsTotal,
		m.Checkpoints,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handle updates collectors from curation events.
func (m *Metrics) Handle(_ context.Context, e events.Event) {
	switch e.Kind {
	case events.KindSubmitted:
		m.RecordsSubmitted.Inc()
	case events.KindAccepted:
		m.RecordsAccepted.Inc()
	case events.KindRejected:
		m.RecordsRejected.WithLabelValues(e.Stage).Inc()
	case events.KindParaphrase:
		m.Paraphrases.Inc()
	case events.KindCheckpoint:
		m.Checkpoints.Inc()
	case events.KindFlushed:
		m.FlushDuration.Observe(e.Duration.Seconds())
		m.FlushBatchSize.Observe(float64(e.Batch))
		if e.Error != "" {
			m.FlushErrors.Inc()
		}
	case events.KindRunStarted:
		m.RunsActive.Inc()
	case events.KindRunFinished:
		m.RunsActive.Dec()
		status := "succeeded"
		if e.Error != "" {
			status = "failed"
		}
		m.RunsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveJudgeAttempt is meant for judge.Options.OnAttempt.
func (m *Metrics) ObserveJudgeAttempt(err error) {
	outcome := "valid"
	if err != nil {
		outcome = "invalid"
	}
	m.JudgeAttempts.WithLabelValues(outcome).Inc()
}

// ObserveUsage is meant for llm.WithUsageObserver.
func (m *Metrics) ObserveUsage(model string, promptTokens, completionTokens int) {
	m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// ObserveBreaker is meant for circuitbreaker.Config.OnStateChange.
func (m *Metrics) ObserveBreaker(name string, _, to circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}

func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
