// Package schedule implements the pure value type that decides when a
// manifest is next due to run (C1).
package schedule

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Type enumerates the kinds of schedule a manifest can declare.
type Type string

const (
	TypeNone             Type = "none"
	TypeCron             Type = "cron"
	TypeInterval         Type = "interval"
	TypeDependent        Type = "dependent"
	TypeDormantDependent Type = "dormant_dependent"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeNone, TypeCron, TypeInterval, TypeDependent, TypeDormantDependent:
		return true
	default:
		return false
	}
}

var (
	ErrMissingCronExpression = errors.New("schedule: cron_expression required for schedule_type=cron")
	ErrInvalidCronExpression = errors.New("schedule: invalid cron_expression")
	ErrMissingInterval       = errors.New("schedule: interval_seconds must be > 0 for schedule_type=interval")
	ErrMissingParent         = errors.New("schedule: depends_on_manifest_id required for dependent schedules")
)

// standardParser matches spec.md's "standard 5-field semantics (minute
// hour day-of-month month day-of-week)".
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is the pure value describing when a manifest fires.
type Schedule struct {
	Kind             Type
	CronExpression   string
	IntervalSeconds  int
	DependsOnID      *int64
}

// Validate enforces the invariants listed in spec.md §3.
func (s Schedule) Validate() error {
	switch s.Kind {
	case TypeCron:
		if s.CronExpression == "" {
			return ErrMissingCronExpression
		}
		if _, err := standardParser.Parse(s.CronExpression); err != nil {
			return ErrInvalidCronExpression
		}
	case TypeInterval:
		if s.IntervalSeconds <= 0 {
			return ErrMissingInterval
		}
	case TypeDependent, TypeDormantDependent:
		if s.DependsOnID == nil {
			return ErrMissingParent
		}
	case TypeNone:
		// nothing to validate
	default:
		return errors.New("schedule: unknown schedule_type")
	}
	return nil
}

// ParentState is the slice of parent-manifest state the dependent
// schedule kinds need to decide eligibility.
type ParentState struct {
	LastSuccessfulRun *time.Time
}

// NextFire implements spec.md §4.1's next_fire rule. lastSuccessfulRun
// is this manifest's own last successful run; parent is only consulted
// for dependent schedules.
func (s Schedule) NextFire(now time.Time, lastSuccessfulRun *time.Time, parent *ParentState) (time.Time, bool) {
	switch s.Kind {
	case TypeInterval:
		if lastSuccessfulRun != nil {
			return lastSuccessfulRun.Add(time.Duration(s.IntervalSeconds) * time.Second), true
		}
		return now, true

	case TypeCron:
		sched, err := standardParser.Parse(s.CronExpression)
		if err != nil {
			return time.Time{}, false
		}
		from := time.Unix(0, 0).UTC()
		if lastSuccessfulRun != nil && lastSuccessfulRun.After(from) {
			from = *lastSuccessfulRun
		}
		return sched.Next(from), true

	case TypeDependent:
		if parent == nil || parent.LastSuccessfulRun == nil {
			return time.Time{}, false
		}
		if lastSuccessfulRun == nil || parent.LastSuccessfulRun.After(*lastSuccessfulRun) {
			// Eligible immediately — dependents have no wall-clock component.
			return now, true
		}
		return time.Time{}, false

	case TypeDormantDependent:
		// Never eligible from the scheduler; activated only via the
		// dormant-dependent context (C8).
		return time.Time{}, false

	default:
		return time.Time{}, false
	}
}

// CandidateState is the subset of evaluator-visible state ShouldRunNow
// needs (spec.md §4.1).
type CandidateState struct {
	IsEnabled               bool
	HasAwaitingDeadLetter   bool
	HasActiveExecution      bool
	HasQueuedWork           bool
	LastSuccessfulRun       *time.Time
	Parent                  *ParentState
}

// ShouldRunNow decides whether a manifest is due, per spec.md §4.1.
func (s Schedule) ShouldRunNow(now time.Time, st CandidateState) bool {
	if !st.IsEnabled || st.HasAwaitingDeadLetter || st.HasActiveExecution || st.HasQueuedWork {
		return false
	}
	fire, ok := s.NextFire(now, st.LastSuccessfulRun, st.Parent)
	if !ok {
		return false
	}
	return !fire.After(now)
}
