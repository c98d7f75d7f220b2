package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Prom is the private Prometheus registry the scheduler exposes at
// /metrics, shared by the Trigger API router and the scheduler
// process's health server.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Evaluator (C3)
	EvaluatorCycleDuration *prometheus.HistogramVec
	EvaluatorCandidates    prometheus.Gauge
	ManifestsEnqueued      *prometheus.CounterVec

	// Dispatcher (C4)
	DispatchQueueDepth   prometheus.Gauge
	DispatchGroupActive  *prometheus.GaugeVec
	DispatchGlobalActive prometheus.Gauge
	DispatchedTotal      *prometheus.CounterVec

	// Executor (C6)
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionResults   *prometheus.CounterVec
	ExecutionsInFlight prometheus.Gauge

	// Reaper / dead-letter (C7)
	DeadLetteredTotal prometheus.Counter

	// Alert hook (C10)
	AlertsSentTotal      *prometheus.CounterVec
	AlertsDebouncedTotal *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scheduler",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scheduler",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		EvaluatorCycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scheduler",
				Subsystem: "evaluator",
				Name:      "cycle_duration_seconds",
				Help:      "Evaluator tick duration, including reap and enqueue phases.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"leader"}, // leader=true|false
		),
		EvaluatorCandidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Subsystem: "evaluator",
				Name:      "candidates",
				Help:      "Enabled manifests considered on the most recent evaluator tick.",
			},
		),
		ManifestsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "evaluator",
				Name:      "manifests_enqueued_total",
				Help:      "WorkQueue rows created by the evaluator, by schedule_type.",
			},
			[]string{"schedule_type"},
		),

		DispatchQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Subsystem: "dispatcher",
				Name:      "queue_depth",
				Help:      "status=queued WorkQueue rows at the start of the most recent dispatch cycle.",
			},
		),
		DispatchGroupActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Subsystem: "dispatcher",
				Name:      "group_active",
				Help:      "Active executions per manifest group.",
			},
			[]string{"group"},
		),
		DispatchGlobalActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Subsystem: "dispatcher",
				Name:      "global_active",
				Help:      "Total active executions across all groups.",
			},
		),
		DispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "dispatcher",
				Name:      "dispatched_total",
				Help:      "WorkQueue entries dispatched, by outcome.",
			},
			[]string{"outcome"}, // outcome=dispatched|skipped_group|error
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scheduler",
				Subsystem: "executor",
				Name:      "duration_seconds",
				Help:      "Execution duration by workflow and result.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"workflow", "result"}, // result=completed|failed
		),
		ExecutionResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "executor",
				Name:      "results_total",
				Help:      "Execution outcomes by workflow and result.",
			},
			[]string{"workflow", "result"},
		),
		ExecutionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scheduler",
				Subsystem: "executor",
				Name:      "in_flight",
				Help:      "Currently running executions in this process.",
			},
		),

		DeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "reaper",
				Name:      "dead_lettered_total",
				Help:      "Manifests promoted to dead-letter.",
			},
		),

		AlertsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "alert",
				Name:      "sent_total",
				Help:      "Alerts sent, by sender and outcome.",
			},
			[]string{"sender", "outcome"},
		),
		AlertsDebouncedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scheduler",
				Subsystem: "alert",
				Name:      "debounced_total",
				Help:      "Alerts suppressed by the debounce window, by workflow.",
			},
			[]string{"workflow"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.EvaluatorCycleDuration, p.EvaluatorCandidates, p.ManifestsEnqueued,
		p.DispatchQueueDepth, p.DispatchGroupActive, p.DispatchGlobalActive, p.DispatchedTotal,
		p.ExecutionDuration, p.ExecutionResults, p.ExecutionsInFlight,
		p.DeadLetteredTotal,
		p.AlertsSentTotal, p.AlertsDebouncedTotal,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
