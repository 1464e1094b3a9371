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

// PostCheckpoint validates and records a resumable status checkpoint.
// Incomplete checkpoints are rejected outright on the mediated path;
// a valid one also lifts the unrecoverable flag a bad out-of-band
// checkpoint may have set. Inside a test thread the checkpoint's
// changed resources are policed against the declared scope.
func (e *Engine) PostCheckpoint(ctx context.Context, number int, actor string, cp marker.Checkpoint, final bool) error {
	if err := checkpoint.Validate(cp, final); err != nil {
		return err
	}
	issue, comments, st, err := e.load(ctx, number)
	if err != nil {
		return err
	}
	if _, err := e.Store.CreateComment(ctx, number, actor, marker.RenderCheckpoint(cp)); err != nil {
		return err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	if err := e.record(ctx, "checkpoint.posted", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"final": final, "next_action": cp.NextAction}); err != nil {
		return err
	}

	if issue.HasLabel(domain.LabelUnrecoverable) {
		if err := e.patchLabels(ctx, number, nil, []string{domain.LabelUnrecoverable}); err != nil {
			return err
		}
		if err := e.record(ctx, "checkpoint.corrected", epic, "item", strconv.Itoa(number), actor, nil); err != nil {
			return err
		}
	}

	if st == phase.TestOpen {
		if err := e.checkTestScope(ctx, number, comments, actor, cp); err != nil {
			return err
		}
	}
	return nil
}

// checkTestScope records a violation when a test-thread checkpoint
// reports changes outside the item's declared claim. Test threads
// verify; they do not widen the footprint.
func (e *Engine) checkTestScope(ctx context.Context, number int, comments []store.Comment, actor string, cp marker.Checkpoint) error {
	decl, _, ok := scope.Declaration(comments)
	if !ok {
		return nil
	}
	claimed := make(map[string]bool, len(decl.Claimed))
	for _, r := range decl.Claimed {
		claimed[r] = true
	}
	var outside []string
	for _, r := range cp.ChangedResources {
		if !claimed[r] {
			outside = append(outside, r)
		}
	}
	if len(outside) == 0 {
		return nil
	}
	note := fmt.Sprintf("test thread changed undeclared resources: %v", outside)
	_, err := e.RecordViolation(ctx, number, actor, violation.KindTestScopeExceeded, note)
	return err
}

// LatestCheckpoint returns the newest checkpoint on an item.
func (e *Engine) LatestCheckpoint(ctx context.Context, number int) (marker.Checkpoint, error) {
	_, comments, _, err := e.load(ctx, number)
	if err != nil {
		return marker.Checkpoint{}, err
	}
	cp, _, ok := checkpoint.Latest(comments)
	if !ok {
		return marker.Checkpoint{}, fmt.Errorf("%w: no checkpoint on #%d", store.ErrNotFound, number)
	}
	return cp, nil
}

// patchLabels is a bounded conditional label update.
func (e *Engine) patchLabels(ctx context.Context, number int, add, remove []string) error {
	for attempt := 0; attempt < e.attempts(); attempt++ {
		issue, err := e.Store.GetIssue(ctx, number)
		if err != nil {
			return err
		}
		_, err = e.Store.UpdateIssue(ctx, number, store.IssuePatch{AddLabels: add, RemoveLabels: remove}, issue.Revision)
		if errors.Is(err, store.ErrRevisionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: labelling #%d", ErrTooManyConflicts, number)
}
