package escalation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/notifier/internal/clock"
)

var (
	ErrEmptyThresholds         = errors.New("escalation_thresholds_empty")
	ErrNonPositiveThreshold    = errors.New("escalation_threshold_not_positive")
	ErrThresholdsNotIncreasing = errors.New("escalation_thresholds_not_increasing")
	ErrInvalidMatchMode        = errors.New("escalation_invalid_match_mode")
	ErrInvalidRecurrence       = errors.New("escalation_invalid_recurrence")
)

// MatchMode controls how an entity's age is compared against thresholds.
type MatchMode string

const (
	// MatchExact fires only when the anchor date equals a threshold date.
	// A run missed on that day skips the step for good.
	MatchExact MatchMode = "exact"
	// MatchCatchUp fires when the age has reached the next unfired
	// threshold, so a missed run is picked up by the next one.
	MatchCatchUp MatchMode = "catch_up"
)

func ParseMatchMode(raw string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchCatchUp:
		return MatchCatchUp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMatchMode, raw)
	}
}

// Policy is a named, strictly increasing list of day offsets.
type Policy struct {
	name       string
	thresholds []int
	mode       MatchMode
}

func NewPolicy(name string, thresholds []int, mode MatchMode) (Policy, error) {
	if len(thresholds) == 0 {
		return Policy{}, ErrEmptyThresholds
	}
	for i, offset := range thresholds {
		if offset <= 0 {
			return Policy{}, fmt.Errorf("%w: %d", ErrNonPositiveThreshold, offset)
		}
		if i > 0 && offset <= thresholds[i-1] {
			return Policy{}, fmt.Errorf("%w: %v", ErrThresholdsNotIncreasing, thresholds)
		}
	}
	if mode == "" {
		mode = MatchExact
	}
	if mode != MatchExact && mode != MatchCatchUp {
		return Policy{}, fmt.Errorf("%w: %q", ErrInvalidMatchMode, mode)
	}

	copied := make([]int, len(thresholds))
	copy(copied, thresholds)
	return Policy{name: name, thresholds: copied, mode: mode}, nil
}

func MustPolicy(name string, thresholds []int, mode MatchMode) Policy {
	p, err := NewPolicy(name, thresholds, mode)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Policy) Name() string    { return p.name }
func (p Policy) Mode() MatchMode { return p.mode }
func (p Policy) Len() int        { return len(p.thresholds) }

func (p Policy) Thresholds() []int {
	out := make([]int, len(p.thresholds))
	copy(out, p.thresholds)
	return out
}

// ThresholdFor returns the offset that step must reach before it fires.
func (p Policy) ThresholdFor(step int) (int, bool) {
	if step < 0 || step >= len(p.thresholds) {
		return 0, false
	}
	return p.thresholds[step], true
}

func (p Policy) IsComplete(step int) bool {
	return step >= len(p.thresholds)
}

func (p Policy) MaxThreshold() int {
	if len(p.thresholds) == 0 {
		return 0
	}
	return p.thresholds[len(p.thresholds)-1]
}

// ThresholdDates returns today minus each offset, in threshold order.
func (p Policy) ThresholdDates(today clock.Date) []clock.Date {
	dates := make([]clock.Date, 0, len(p.thresholds))
	for _, offset := range p.thresholds {
		dates = append(dates, today.AddDays(-offset))
	}
	return dates
}

// Selects reports whether an entity of the given age belongs in this
// run's candidate set.
func (p Policy) Selects(ageDays int) bool {
	switch p.mode {
	case MatchCatchUp:
		return len(p.thresholds) > 0 && ageDays >= p.thresholds[0]
	default:
		for _, offset := range p.thresholds {
			if offset == ageDays {
				return true
			}
		}
		return false
	}
}

// Recurrence re-fires a completed policy every EveryDays days, counted
// from the last successful send.
type Recurrence struct {
	EveryDays int
}

func (r Recurrence) NextDueAt(lastSentAt time.Time) time.Time {
	return lastSentAt.AddDate(0, 0, r.EveryDays)
}

func (r Recurrence) Due(now, lastSentAt time.Time) bool {
	return !now.Before(r.NextDueAt(lastSentAt))
}

// SentBefore is the latest last-send instant that is due at now.
func (r Recurrence) SentBefore(now time.Time) time.Time {
	return now.AddDate(0, 0, -r.EveryDays)
}

// RecurringPolicy is a fixed Policy followed by an open-ended step that
// regenerates itself from the last send time instead of a calendar date.
type RecurringPolicy struct {
	Policy
	recurrence Recurrence
}

func NewRecurringPolicy(base Policy, everyDays int) (RecurringPolicy, error) {
	if base.Len() == 0 {
		return RecurringPolicy{}, ErrEmptyThresholds
	}
	if everyDays <= 0 {
		return RecurringPolicy{}, fmt.Errorf("%w: every %d days", ErrInvalidRecurrence, everyDays)
	}
	return RecurringPolicy{Policy: base, recurrence: Recurrence{EveryDays: everyDays}}, nil
}

func (p RecurringPolicy) Recurrence() Recurrence { return p.recurrence }

// RecurringStep is the step value held by entities that finished the
// fixed thresholds and now only recur.
func (p RecurringPolicy) RecurringStep() int { return p.Len() }

// RecurringAttempt is the attempt number logged for recurring sends.
func (p RecurringPolicy) RecurringAttempt() int { return p.Len() + 1 }
