// Package alert implements the failure-path alert hook (C10) spec.md
// §4.10 describes: a windowed evaluation over recent failures per
// workflow, a debounce cooldown, and fan-out to registered senders.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chainsharp/scheduler/internal/cache"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/executor"
	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/store"
)

// Config is one workflow's alert configuration, per spec.md §4.10:
// "{time_window, minimum_failures, exception_filters[], step_filters[],
// custom_filters[]}".
type Config struct {
	WorkflowName     string
	TimeWindow       time.Duration
	MinimumFailures  int
	ExceptionFilters []string
	StepFilters      []string
	CustomFilters    []func(execution.Metadata) bool
	CooldownPeriod   time.Duration
}

// Context is the payload handed to every Sender once a configuration's
// condition is met: "failure count, frequency maps, first-failure
// instant, last-success instant, sample failed inputs".
type Context struct {
	WorkflowName       string
	FailureCount       int
	ExceptionFrequency map[string]int
	StepFrequency      map[string]int
	FirstFailure       time.Time
	LastSuccess        *time.Time
	SampleFailedInputs []json.RawMessage
}

// Sender delivers an alert somewhere. Errors from one sender are
// logged; other senders still fire (spec.md §4.10).
type Sender interface {
	Send(ctx context.Context, ac Context) error
}

// sampleLimit bounds how many failed inputs an AlertContext carries,
// keeping the Slack/log payload bounded for workflows that fail a lot.
const sampleLimit = 5

// debounceStore is the minimal shape the cooldown tracking needs;
// *cache.Cache satisfies it for single-replica deployments and
// *RedisDebounce satisfies it for multi-replica ones where the
// cooldown must be shared across processes.
type debounceStore interface {
	Get(key string) (any, bool)
	Set(key string, val any)
}

// Option configures a Hook beyond its required constructor arguments.
type Option func(*Hook)

// WithDebounceFactory overrides how a per-workflow cooldown store is
// built from its configured period. The default builds an in-memory
// cache.Cache; pass NewRedisDebounceFactory's result to share cooldown
// state across replicas (AlertDebounceBackend="redis").
func WithDebounceFactory(f func(period time.Duration) debounceStore) Option {
	return func(h *Hook) { h.debounceFactory = f }
}

// Hook implements executor.AlertHook. It is constructed once at
// startup with every registered Config resolved and cached by
// workflow full-name, per spec.md §4.10's "configurations are resolved
// once at startup and cached by workflow full-name."
type Hook struct {
	dc      store.DataContext
	configs map[string]Config
	senders []Sender
	// debounce holds one cooldown store per workflow that configured a
	// cooldown_period, each with that period as its fixed TTL — the
	// teacher's cache.Cache ties one TTL to a whole cache instance, so
	// differing per-workflow cooldowns need one instance apiece rather
	// than a single shared cache.
	debounce        map[string]debounceStore
	debounceFactory func(period time.Duration) debounceStore
	prom            *observability.Prom
	log             *slog.Logger
}

var _ executor.AlertHook = (*Hook)(nil)

func NewHook(dc store.DataContext, configs []Config, senders []Sender, prom *observability.Prom, log *slog.Logger, opts ...Option) *Hook {
	if log == nil {
		log = slog.Default()
	}
	h := &Hook{debounceFactory: func(period time.Duration) debounceStore { return cache.New(period) }}
	for _, opt := range opts {
		opt(h)
	}

	byName := make(map[string]Config, len(configs))
	debounce := make(map[string]debounceStore, len(configs))
	for _, c := range configs {
		byName[c.WorkflowName] = c
		if c.CooldownPeriod > 0 {
			debounce[c.WorkflowName] = h.debounceFactory(c.CooldownPeriod)
		}
	}
	h.dc, h.configs, h.senders, h.debounce, h.prom, h.log =
		dc, byName, senders, debounce, prom, log
	return h
}

// Notify implements executor.AlertHook. It never returns an error: a
// broken alert configuration or a down sender must not affect the
// executor's own failure bookkeeping.
func (h *Hook) Notify(ctx context.Context, event executor.FailureEvent) {
	cfg, ok := h.configs[event.WorkflowName]
	if !ok {
		return
	}

	dc := h.debounce[event.WorkflowName]
	if dc != nil {
		if _, onCooldown := dc.Get(event.WorkflowName); onCooldown {
			if h.prom != nil {
				h.prom.AlertsDebouncedTotal.WithLabelValues(event.WorkflowName).Inc()
			}
			return
		}
	}

	ac, fire := h.evaluate(ctx, cfg, event)
	if !fire {
		return
	}

	h.fanOut(ctx, ac)

	if dc != nil {
		dc.Set(event.WorkflowName, true)
	}
}

// evaluate implements the two branches of spec.md §4.10's evaluation:
// minimum_failures=1 emits immediately without touching the store;
// otherwise a single windowed query plus an in-memory filter pass.
func (h *Hook) evaluate(ctx context.Context, cfg Config, event executor.FailureEvent) (Context, bool) {
	if cfg.MinimumFailures <= 1 {
		return Context{
			WorkflowName:       event.WorkflowName,
			FailureCount:       1,
			ExceptionFrequency: map[string]int{event.FailureException: 1},
			StepFrequency:      map[string]int{event.FailureStep: 1},
			FirstFailure:       time.Now().UTC(),
		}, true
	}

	since := time.Now().UTC().Add(-cfg.TimeWindow)
	rows, err := h.dc.Executions().LoadFailuresInWindow(ctx, event.WorkflowName, since)
	if err != nil {
		h.log.ErrorContext(ctx, "alert.window_query_error", "workflow", event.WorkflowName, "err", err)
		return Context{}, false
	}

	filtered := filterRows(rows, cfg)
	if len(filtered) < cfg.MinimumFailures {
		return Context{}, false
	}

	ac := buildContext(event.WorkflowName, filtered)
	if last, err := h.dc.Executions().LoadLastSuccess(ctx, event.WorkflowName); err == nil {
		ac.LastSuccess = last
	}
	return ac, true
}

func filterRows(rows []execution.Metadata, cfg Config) []execution.Metadata {
	exceptions := toSet(cfg.ExceptionFilters)
	steps := toSet(cfg.StepFilters)

	var out []execution.Metadata
	for _, md := range rows {
		if len(exceptions) > 0 && !matchesAny(md.FailureException, exceptions) {
			continue
		}
		if len(steps) > 0 && !matchesAny(md.FailureStep, steps) {
			continue
		}
		passesCustom := true
		for _, pred := range cfg.CustomFilters {
			if !pred(md) {
				passesCustom = false
				break
			}
		}
		if !passesCustom {
			continue
		}
		out = append(out, md)
	}
	return out
}

func buildContext(workflowName string, rows []execution.Metadata) Context {
	ac := Context{
		WorkflowName:       workflowName,
		FailureCount:       len(rows),
		ExceptionFrequency: make(map[string]int),
		StepFrequency:      make(map[string]int),
	}
	for i, md := range rows {
		if md.FailureException != nil {
			ac.ExceptionFrequency[*md.FailureException]++
		}
		if md.FailureStep != nil {
			ac.StepFrequency[*md.FailureStep]++
		}
		if i == 0 || md.StartTime.Before(ac.FirstFailure) {
			ac.FirstFailure = md.StartTime
		}
		if len(ac.SampleFailedInputs) < sampleLimit && md.Input != nil {
			ac.SampleFailedInputs = append(ac.SampleFailedInputs, md.Input)
		}
	}
	return ac
}

func (h *Hook) fanOut(ctx context.Context, ac Context) {
	for _, s := range h.senders {
		if err := s.Send(ctx, ac); err != nil {
			h.log.ErrorContext(ctx, "alert.sender_error", "workflow", ac.WorkflowName, "err", err)
			continue
		}
		if h.prom != nil {
			h.prom.AlertsSentTotal.WithLabelValues(ac.WorkflowName).Inc()
		}
	}
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func matchesAny(v *string, set map[string]bool) bool {
	if v == nil {
		return false
	}
	return set[*v]
}
