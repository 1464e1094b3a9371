// Package wave enforces the epic-level ordering of work item batches.
// A wave may not begin until every item of the prior wave is completed;
// there is no partial-completion override.
package wave

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"waveline/internal/domain"
	"waveline/internal/store"
)

// Special waves usable only after the numbered sequence has finished.
const (
	Eval = "eval"
	Fix  = "fix"
)

var (
	ErrWaveNotEligible = errors.New("wave not eligible")
	ErrInvalidWave     = errors.New("invalid wave")
)

// Parse validates a wave label value, returning its number and whether
// it is one of the special waves.
func Parse(s string) (int, bool, error) {
	if s == Eval || s == Fix {
		return 0, true, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidWave, s)
	}
	return n, false, nil
}

// Sequencer answers wave eligibility questions against the store.
type Sequencer struct {
	Store store.Client
}

func epicLabel(epic int) string {
	return domain.EpicLabelPrefix + strconv.Itoa(epic)
}

func waveLabel(wave string) string {
	return domain.WaveLabelPrefix + wave
}

func completed(i store.Issue) bool {
	return i.State == "closed" || i.HasLabel(domain.LabelCompleted)
}

// CanEnter returns nil iff the wave is open for new in-progress work:
// all items of the prior wave (for eval/fix: of every numbered wave)
// are in terminal completed state. Strict precondition, not a heuristic.
func (s Sequencer) CanEnter(ctx context.Context, epic int, wave string) error {
	n, special, err := Parse(wave)
	if err != nil {
		return err
	}
	if special {
		return s.numberedComplete(ctx, epic)
	}
	if n == 1 {
		return nil
	}
	prior := strconv.Itoa(n - 1)
	items, err := s.Store.ListIssues(ctx, store.IssueFilter{Labels: []string{epicLabel(epic), waveLabel(prior)}})
	if err != nil {
		return err
	}
	for _, i := range items {
		if !completed(i) {
			return fmt.Errorf("%w: wave %s of epic #%d has open item #%d", ErrWaveNotEligible, prior, epic, i.Number)
		}
	}
	return nil
}

func (s Sequencer) numberedComplete(ctx context.Context, epic int) error {
	items, err := s.Store.ListIssues(ctx, store.IssueFilter{Labels: []string{epicLabel(epic)}})
	if err != nil {
		return err
	}
	for _, i := range items {
		w := i.LabelValue(domain.WaveLabelPrefix)
		if w == "" || w == Eval || w == Fix {
			continue
		}
		if !completed(i) {
			return fmt.Errorf("%w: numbered wave %s of epic #%d has open item #%d", ErrWaveNotEligible, w, epic, i.Number)
		}
	}
	return nil
}

// Active returns the lowest numbered wave with open items, or Eval once
// every numbered wave is complete.
func (s Sequencer) Active(ctx context.Context, epic int) (string, error) {
	items, err := s.Store.ListIssues(ctx, store.IssueFilter{Labels: []string{epicLabel(epic)}})
	if err != nil {
		return "", err
	}
	lowest := 0
	for _, i := range items {
		w := i.LabelValue(domain.WaveLabelPrefix)
		n, special, err := Parse(w)
		if err != nil || special || completed(i) {
			continue
		}
		if lowest == 0 || n < lowest {
			lowest = n
		}
	}
	if lowest == 0 {
		return Eval, nil
	}
	return strconv.Itoa(lowest), nil
}
