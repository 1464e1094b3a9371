// Package violation classifies protocol breaches and drives the
// reminder -> warning -> block ladder. All counters are derived by
// replaying the work item's comment stream, so the ticket store stays
// the single system of record.
package violation

import (
	"errors"
	"fmt"
	"sort"

	"waveline/internal/domain"
	"waveline/internal/marker"
	"waveline/internal/phase"
	"waveline/internal/store"
)

// Violation kinds. The set is extensible; these are the kinds the
// engine detects itself.
const (
	KindMissingScope         = "missing-scope"
	KindWaveOrder            = "wave-order"
	KindVerdictOutsideReview = "verdict-outside-review"
	KindTestScopeExceeded    = "test-scope-exceeded"
	KindInvalidDemotion      = "invalid-demotion"
	KindSelfApproval         = "self-approval"
	KindBadCheckpoint        = "bad-checkpoint"
	KindIncompleteInit       = "incomplete-init"
	KindUnresolvedConflict   = "unresolved-conflict"
)

// Enforcement levels.
const (
	LevelReminder = "reminder"
	LevelWarning  = "warning"
	LevelBlock    = "block"
)

// Review-cycle thresholds: cycles 1-2 are normal, the third needs a
// recorded pattern note, the fourth and later need an escalation record
// before demotion may continue.
const (
	PatternNoteCycle = 3
	EscalationCycle  = 4
)

var (
	ErrBlocked            = errors.New("blocked by repeated violation")
	ErrPatternNoteMissing = errors.New("pattern note required before this review cycle")
	ErrEscalationRequired = errors.New("escalation record required before this review cycle")
)

// LevelFor maps an occurrence count to its enforcement level.
func LevelFor(count int) string {
	switch {
	case count <= 0:
		return ""
	case count == 1:
		return LevelReminder
	case count == 2:
		return LevelWarning
	default:
		return LevelBlock
	}
}

// Label maps a kind onto the externally visible violation label.
func Label(kind string) string {
	switch kind {
	case KindMissingScope, KindUnresolvedConflict:
		return domain.ViolationLabelPrefix + "scope"
	case KindWaveOrder:
		return domain.ViolationLabelPrefix + "wave-order"
	case KindSelfApproval:
		return domain.ViolationLabelPrefix + "self-approval"
	default:
		return domain.ViolationLabelPrefix + "phase"
	}
}

type key struct {
	Actor string
	Kind  string
}

// Ledger is the replayed violation state of one work item.
type Ledger struct {
	counts map[key]int
	ids    map[string]key
	last   map[key]marker.Violation
}

// Replay builds the ledger from a comment stream: violation blocks
// increment their (actor, kind) counter, clear blocks referencing a
// recorded violation id reset it to zero. Time never clears anything.
func Replay(comments []store.Comment) Ledger {
	l := Ledger{
		counts: make(map[key]int),
		ids:    make(map[string]key),
		last:   make(map[key]marker.Violation),
	}
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			switch blk.Kind {
			case marker.KindViolation:
				v, err := blk.Violation()
				if err != nil {
					continue
				}
				k := key{Actor: v.Actor, Kind: v.Kind}
				l.counts[k]++
				l.ids[v.ID] = k
				l.last[k] = v
			case marker.KindClear:
				cl, err := blk.Clear()
				if err != nil {
					continue
				}
				if k, ok := l.ids[cl.ViolationID]; ok {
					l.counts[k] = 0
				}
			}
		}
	}
	return l
}

// Count returns the live occurrence count for (actor, kind).
func (l Ledger) Count(actor, kind string) int {
	return l.counts[key{Actor: actor, Kind: kind}]
}

// Level returns the current enforcement level for (actor, kind).
func (l Ledger) Level(actor, kind string) string {
	return LevelFor(l.Count(actor, kind))
}

// Blocked returns the violations currently at block level. Dependent
// actions (merge, close, wave-advance) are refused while any exist.
func (l Ledger) Blocked() []marker.Violation {
	var out []marker.Violation
	for k, n := range l.counts {
		if LevelFor(n) == LevelBlock {
			v := l.last[k]
			v.Count = n
			v.Level = LevelBlock
			out = append(out, v)
		}
	}
	return out
}

// Live returns every (actor, kind) with a nonzero counter, carrying the
// most recent record's id and note.
func (l Ledger) Live() []marker.Violation {
	var out []marker.Violation
	for k, n := range l.counts {
		if n <= 0 {
			continue
		}
		v := l.last[k]
		v.Count = n
		v.Level = LevelFor(n)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Actor != out[j].Actor {
			return out[i].Actor < out[j].Actor
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Find returns the recorded violation with the given id.
func (l Ledger) Find(id string) (marker.Violation, bool) {
	k, ok := l.ids[id]
	if !ok {
		return marker.Violation{}, false
	}
	v := l.last[k]
	v.ID = id
	v.Count = l.counts[k]
	v.Level = LevelFor(l.counts[k])
	return v, true
}

// CheckBlocked returns ErrBlocked when any violation sits at block level.
func (l Ledger) CheckBlocked() error {
	if blocked := l.Blocked(); len(blocked) > 0 {
		return fmt.Errorf("%w: %s by %s", ErrBlocked, blocked[0].Kind, blocked[0].Actor)
	}
	return nil
}

// ReviewCycles counts completed demotions (failed reviews) in the
// comment stream.
func ReviewCycles(comments []store.Comment) int {
	cycles := 0
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindTransition {
				continue
			}
			t, err := blk.Transition()
			if err != nil {
				continue
			}
			from, err1 := phase.Parse(t.From)
			to, err2 := phase.Parse(t.To)
			if err1 == nil && err2 == nil && phase.IsDemotion(from, to) {
				cycles++
			}
		}
	}
	return cycles
}

// CheckCycle gates the next demotion: the cycle about to start must
// have its pattern note (cycle 3) or escalation record (cycle 4+)
// already posted.
func CheckCycle(comments []store.Comment, nextCycle int) error {
	if nextCycle >= EscalationCycle {
		if !hasEscalation(comments, nextCycle) {
			return fmt.Errorf("%w (cycle %d)", ErrEscalationRequired, nextCycle)
		}
		return nil
	}
	if nextCycle >= PatternNoteCycle && !hasPattern(comments, nextCycle) {
		return fmt.Errorf("%w (cycle %d)", ErrPatternNoteMissing, nextCycle)
	}
	return nil
}

func hasPattern(comments []store.Comment, cycle int) bool {
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindPattern {
				continue
			}
			if p, err := blk.Pattern(); err == nil && p.Cycle >= cycle {
				return true
			}
		}
	}
	return false
}

func hasEscalation(comments []store.Comment, cycle int) bool {
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindEscalation {
				continue
			}
			if e, err := blk.Escalation(); err == nil && e.Cycle >= cycle {
				return true
			}
		}
	}
	return false
}
