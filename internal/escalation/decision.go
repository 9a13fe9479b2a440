package escalation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAlreadyComplete = errors.New("escalation_already_complete")
	ErrOutOfOrder      = errors.New("escalation_out_of_order")
	ErrNoContact       = errors.New("escalation_no_contact")
	ErrNotDue          = errors.New("escalation_not_due")
)

type Outcome string

const (
	OutcomeProceed         Outcome = "proceed"
	OutcomeAlreadyComplete Outcome = "already_complete"
	OutcomeOutOfOrder      Outcome = "out_of_order"
	OutcomeNoContact       Outcome = "no_contact"
	OutcomeNotDue          Outcome = "not_due"
)

// Subject is the slice of an entity the decision needs.
type Subject struct {
	Step    int
	AgeDays int
	Contact string
}

type Decision struct {
	Outcome   Outcome
	Attempt   int
	Threshold int
	Reason    string
}

func (d Decision) Proceed() bool {
	return d.Outcome == OutcomeProceed
}

// Err maps a skip outcome to its sentinel error; nil when proceeding.
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeAlreadyComplete:
		return ErrAlreadyComplete
	case OutcomeOutOfOrder:
		return ErrOutOfOrder
	case OutcomeNoContact:
		return ErrNoContact
	case OutcomeNotDue:
		return ErrNotDue
	default:
		return nil
	}
}

// Decide evaluates one fixed-threshold step. Checks run in order:
// completion, ordering, contact.
func Decide(p Policy, s Subject) Decision {
	if p.IsComplete(s.Step) {
		return Decision{
			Outcome: OutcomeAlreadyComplete,
			Reason:  fmt.Sprintf("already complete: step %d of %d", s.Step, p.Len()),
		}
	}

	threshold, _ := p.ThresholdFor(s.Step)
	if s.Step < 0 || s.AgeDays < threshold {
		return Decision{
			Outcome:   OutcomeOutOfOrder,
			Threshold: threshold,
			Reason:    fmt.Sprintf("out of order: %d days old, next step %d needs %d", s.AgeDays, s.Step+1, threshold),
		}
	}

	if strings.TrimSpace(s.Contact) == "" {
		return Decision{
			Outcome:   OutcomeNoContact,
			Attempt:   s.Step + 1,
			Threshold: threshold,
			Reason:    "no contact target",
		}
	}

	return Decision{
		Outcome:   OutcomeProceed,
		Attempt:   s.Step + 1,
		Threshold: threshold,
	}
}

// Advance returns the step an entity holds after a successful send.
func Advance(step int) int {
	return step + 1
}

// RecurringSubject is an entity that finished its fixed steps.
type RecurringSubject struct {
	Step       int
	LastSentAt *time.Time
	Contact    string
}

// DecideRecurring evaluates the open-ended step of a RecurringPolicy.
func DecideRecurring(p RecurringPolicy, s RecurringSubject, now time.Time) Decision {
	every := p.Recurrence().EveryDays
	if s.Step < p.RecurringStep() || s.LastSentAt == nil {
		return Decision{
			Outcome:   OutcomeOutOfOrder,
			Threshold: every,
			Reason:    fmt.Sprintf("out of order: fixed steps incomplete (step %d of %d)", s.Step, p.Len()),
		}
	}
	if !p.Recurrence().Due(now, *s.LastSentAt) {
		return Decision{
			Outcome:   OutcomeNotDue,
			Threshold: every,
			Reason:    "not due until " + p.Recurrence().NextDueAt(*s.LastSentAt).UTC().Format(time.RFC3339),
		}
	}
	if strings.TrimSpace(s.Contact) == "" {
		return Decision{
			Outcome:   OutcomeNoContact,
			Attempt:   p.RecurringAttempt(),
			Threshold: every,
			Reason:    "no contact target",
		}
	}
	return Decision{
		Outcome:   OutcomeProceed,
		Attempt:   p.RecurringAttempt(),
		Threshold: every,
	}
}
