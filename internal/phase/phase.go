// Package phase models the work item lifecycle and its legal transitions.
package phase

import (
	"errors"
	"fmt"

	"waveline/internal/domain"
)

// State is a work item's position in its lifecycle.
type State string

const (
	Ready        State = "ready"
	Claimed      State = "claimed"
	DevOpen      State = "dev_open"
	DevClosed    State = "dev_closed"
	TestOpen     State = "test_open"
	TestClosed   State = "test_closed"
	ReviewOpen   State = "review_open"
	ReviewFailed State = "review_failed"
	Completed    State = "completed"
)

// Thread types for the typed sub-conversations a work item cycles through.
const (
	ThreadDev    = "dev"
	ThreadTest   = "test"
	ThreadReview = "review"
)

var (
	ErrIllegalTransition        = errors.New("illegal transition")
	ErrInvalidDemotionDirection = errors.New("invalid demotion direction")
	ErrThreadStillOpen          = errors.New("phase thread still open")
	ErrUnknownState             = errors.New("unknown phase state")
)

// successors maps each state to the states directly reachable from it.
// Demotion review_open -> dev_open is legal; review_failed may only go
// back to dev_open. The cycle then repeats through test and review.
var successors = map[State][]State{
	Ready:        {Claimed},
	Claimed:      {DevOpen},
	DevOpen:      {DevClosed},
	DevClosed:    {TestOpen},
	TestOpen:     {TestClosed},
	TestClosed:   {ReviewOpen},
	ReviewOpen:   {Completed, ReviewFailed, DevOpen},
	ReviewFailed: {DevOpen},
	Completed:    {},
}

// Parse converts a stored string into a State.
func Parse(s string) (State, error) {
	st := State(s)
	if _, ok := successors[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
	return st, nil
}

// Validate checks that to is a direct successor of from.
//
// A demotion toward the test thread is called out separately: the TEST
// role structurally cannot author new tests or structural fixes, so
// review_open and review_failed may never demote to test_open. This rule
// is hard-coded on purpose and must not become configurable.
func Validate(from, to State) error {
	if _, ok := successors[from]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, from)
	}
	if _, ok := successors[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, to)
	}
	if (from == ReviewOpen || from == ReviewFailed) && to == TestOpen {
		return fmt.Errorf("%w: %s -> %s (demote to dev_open instead)", ErrInvalidDemotionDirection, from, to)
	}
	for _, s := range successors[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// IsTerminal reports whether no further transition is legal.
func (s State) IsTerminal() bool { return s == Completed }

// ThreadType returns the thread a state keeps open, or "" for states
// with no open thread.
func (s State) ThreadType() string {
	switch s {
	case DevOpen:
		return ThreadDev
	case TestOpen:
		return ThreadTest
	case ReviewOpen:
		return ThreadReview
	}
	return ""
}

// IsDemotion reports whether from -> to is the failed-review demotion.
func IsDemotion(from, to State) bool {
	return (from == ReviewOpen || from == ReviewFailed) && to == DevOpen
}

// Labels returns the status label plus, for open-thread states, the
// phase label this state surfaces on the ticket store.
func (s State) Labels() []string {
	switch s {
	case Ready:
		return []string{domain.LabelReady}
	case Claimed, DevClosed, TestClosed:
		return []string{domain.LabelInProgress}
	case DevOpen:
		return []string{domain.LabelInProgress, domain.PhaseLabelPrefix + ThreadDev}
	case TestOpen:
		return []string{domain.LabelInProgress, domain.PhaseLabelPrefix + ThreadTest}
	case ReviewOpen:
		return []string{domain.LabelReviewNeeded, domain.PhaseLabelPrefix + ThreadReview}
	case ReviewFailed:
		return []string{domain.LabelNeedsInput}
	case Completed:
		return []string{domain.LabelCompleted}
	}
	return nil
}

// AllStateLabels is every label Labels may emit; used when swapping a
// work item's status surface in one update.
func AllStateLabels() []string {
	return []string{
		domain.LabelReady,
		domain.LabelInProgress,
		domain.LabelNeedsInput,
		domain.LabelReviewNeeded,
		domain.LabelCompleted,
		domain.PhaseLabelPrefix + ThreadDev,
		domain.PhaseLabelPrefix + ThreadTest,
		domain.PhaseLabelPrefix + ThreadReview,
	}
}

// InProgressEquivalent reports whether the state counts as active work
// for scope conflict scanning (claimed through review, not terminal and
// not still ready).
func (s State) InProgressEquivalent() bool {
	switch s {
	case Claimed, DevOpen, DevClosed, TestOpen, TestClosed, ReviewOpen, ReviewFailed:
		return true
	}
	return false
}
