package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"waveline/internal/checkpoint"
	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/marker"
	"waveline/internal/phase"
	"waveline/internal/scope"
	"waveline/internal/store"
	"waveline/internal/violation"
)

// RequestTransition moves a work item one step through its lifecycle.
// Every transition is validated against the successor table, the wave
// sequence, the thread mutex, and the item's violation ledger before a
// single conditional write swaps the status labels and a transition
// marker is appended. Demotions additionally pass the review-cycle gate.
func (e *Engine) RequestTransition(ctx context.Context, number int, fromStr, toStr, actor string) (domain.WorkItem, error) {
	from, err := phase.Parse(fromStr)
	if err != nil {
		return domain.WorkItem{}, err
	}
	to, err := phase.Parse(toStr)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := phase.Validate(from, to); err != nil {
		return domain.WorkItem{}, err
	}

	// The closure audit may itself record violations, which are writes.
	// Run it once up front so a revision-conflict retry cannot double-count.
	if to.IsTerminal() {
		issue, comments, st, err := e.load(ctx, number)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if st != from {
			return domain.WorkItem{}, fmt.Errorf("%w: #%d is %s, not %s", ErrStaleState, number, st, from)
		}
		if err := e.closureAudit(ctx, issue, comments, actor); err != nil {
			return domain.WorkItem{}, err
		}
	}

	for attempt := 0; attempt < e.attempts(); attempt++ {
		issue, comments, st, err := e.load(ctx, number)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if st != from {
			return domain.WorkItem{}, fmt.Errorf("%w: #%d is %s, not %s", ErrStaleState, number, st, from)
		}
		if issue.HasLabel(domain.LabelUnrecoverable) {
			return domain.WorkItem{}, fmt.Errorf("%w: #%d", ErrUnrecoverable, number)
		}
		if err := e.checkThreadMutex(issue, from); err != nil {
			return domain.WorkItem{}, err
		}
		epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
		w := issue.LabelValue(domain.WaveLabelPrefix)
		if epic > 0 && w != "" && !to.IsTerminal() {
			if err := e.sequencer().CanEnter(ctx, epic, w); err != nil {
				return domain.WorkItem{}, err
			}
		}
		ledger := violation.Replay(comments)
		if to.IsTerminal() || phase.IsDemotion(from, to) {
			if err := ledger.CheckBlocked(); err != nil {
				return domain.WorkItem{}, err
			}
		}
		if phase.IsDemotion(from, to) {
			nextCycle := violation.ReviewCycles(comments) + 1
			if err := violation.CheckCycle(comments, nextCycle); err != nil {
				return domain.WorkItem{}, err
			}
		}

		patch := store.IssuePatch{
			AddLabels:    to.Labels(),
			RemoveLabels: phase.AllStateLabels(),
		}
		if to.IsTerminal() {
			patch.State = store.StrPtr("closed")
		}
		updated, err := e.Store.UpdateIssue(ctx, number, patch, issue.Revision)
		if errors.Is(err, store.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return domain.WorkItem{}, err
		}

		t := marker.Transition{From: string(from), To: string(to), Actor: actor, RequiresPreamble: to.ThreadType() != ""}
		if _, err := e.Store.CreateComment(ctx, number, e.Actor, marker.RenderTransition(t)); err != nil {
			return domain.WorkItem{}, err
		}
		if from == phase.Claimed && to == phase.DevOpen {
			if err := e.checkScopeDeclared(ctx, number, comments, actor, epic); err != nil {
				return domain.WorkItem{}, err
			}
		}
		evt := "item.transitioned"
		if phase.IsDemotion(from, to) {
			evt = "review.demoted"
		}
		if err := e.record(ctx, evt, epic, "item", strconv.Itoa(number), actor, events.EventPayload{"from": string(from), "to": string(to)}); err != nil {
			return domain.WorkItem{}, err
		}
		return itemFrom(updated, to), nil
	}
	return domain.WorkItem{}, fmt.Errorf("%w: transitioning #%d", ErrTooManyConflicts, number)
}

// checkThreadMutex rejects a transition when the store carries a phase
// label for a different thread than the derived state: someone opened a
// second thread out of band, and only one may be open at a time.
func (e *Engine) checkThreadMutex(issue store.Issue, st phase.State) error {
	current := st.ThreadType()
	for _, thread := range []string{phase.ThreadDev, phase.ThreadTest, phase.ThreadReview} {
		if thread == current {
			continue
		}
		if issue.HasLabel(domain.PhaseLabelPrefix + thread) {
			return fmt.Errorf("%w: #%d carries %s%s while %s", phase.ErrThreadStillOpen, issue.Number, domain.PhaseLabelPrefix, thread, st)
		}
	}
	return nil
}

// checkScopeDeclared records a missing-scope violation when dev work
// starts without a declaration. Advisory: the transition stands, the
// ladder handles repetition.
func (e *Engine) checkScopeDeclared(ctx context.Context, number int, comments []store.Comment, actor string, epic int) error {
	if _, _, ok := scope.Declaration(comments); ok {
		return nil
	}
	_, err := e.RecordViolation(ctx, number, actor, violation.KindMissingScope, "dev thread opened without a scope declaration")
	return err
}

// closureAudit runs the pre-completion checks: the latest checkpoint
// must state a terminal outcome, and unresolved scope conflicts are
// recorded as violations. Audit findings other than a block-level
// ledger never stop the close; they leave a durable trail instead.
func (e *Engine) closureAudit(ctx context.Context, issue store.Issue, comments []store.Comment, actor string) error {
	cp, _, ok := checkpoint.Latest(comments)
	if !ok || checkpoint.Validate(cp, true) != nil {
		if _, err := e.RecordViolation(ctx, issue.Number, actor, violation.KindBadCheckpoint, "closed without a final checkpoint stating the outcome"); err != nil {
			return err
		}
	}
	for _, other := range scope.UnresolvedConflicts(comments, issue.Number) {
		note := fmt.Sprintf("closed with unresolved scope conflict with #%d", other)
		if _, err := e.RecordViolation(ctx, issue.Number, actor, violation.KindUnresolvedConflict, note); err != nil {
			return err
		}
	}
	return nil
}
