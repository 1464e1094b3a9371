package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/marker"
	"waveline/internal/store"
	"waveline/internal/violation"
)

// RecordViolation appends one occurrence of a rule breach to the item's
// comment stream and advances the reminder -> warning -> block ladder.
// From the second occurrence the item carries a durable violation label;
// at block level the epic is notified too.
func (e *Engine) RecordViolation(ctx context.Context, number int, actor, kind, note string) (domain.Violation, error) {
	issue, comments, _, err := e.load(ctx, number)
	if err != nil {
		return domain.Violation{}, err
	}
	ledger := violation.Replay(comments)
	count := ledger.Count(actor, kind) + 1
	level := violation.LevelFor(count)

	rec := marker.Violation{
		ID:    uuid.NewString(),
		Actor: actor,
		Kind:  kind,
		Count: count,
		Level: level,
		Note:  note,
	}
	if _, err := e.Store.CreateComment(ctx, number, e.Actor, marker.RenderViolation(rec)); err != nil {
		return domain.Violation{}, err
	}
	if level != violation.LevelReminder {
		if err := e.patchLabels(ctx, number, []string{violation.Label(kind)}, nil); err != nil {
			return domain.Violation{}, err
		}
	}

	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	if level == violation.LevelBlock && epic > 0 {
		notice := fmt.Sprintf("Work item #%d is blocked: %s by %s reached its third occurrence (%s).\n\n%s",
			number, kind, actor, rec.ID, marker.RenderViolation(rec))
		if _, err := e.Store.CreateComment(ctx, epic, e.Actor, notice); err != nil {
			return domain.Violation{}, err
		}
	}
	payload := events.EventPayload{"kind": kind, "count": count, "level": level, "violation_id": rec.ID}
	if err := e.record(ctx, "violation.recorded", epic, "item", strconv.Itoa(number), actor, payload); err != nil {
		return domain.Violation{}, err
	}
	return domain.Violation{
		ID:        rec.ID,
		Item:      number,
		ActorID:   actor,
		Kind:      kind,
		Count:     count,
		Level:     level,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}, nil
}

// ClearViolation resets a counter by recording a correction that
// references the original violation. Counters never decay on their own.
func (e *Engine) ClearViolation(ctx context.Context, number int, violationID, actor, correction string) error {
	if correction == "" {
		return fmt.Errorf("a clear needs the correction text")
	}
	issue, comments, _, err := e.load(ctx, number)
	if err != nil {
		return err
	}
	ledger := violation.Replay(comments)
	rec, ok := ledger.Find(violationID)
	if !ok {
		return fmt.Errorf("%w: violation %s on #%d", store.ErrNotFound, violationID, number)
	}
	body := marker.RenderClear(marker.Clear{ViolationID: violationID, Actor: actor, Kind: rec.Kind, Correction: correction})
	if _, err := e.Store.CreateComment(ctx, number, actor, body); err != nil {
		return err
	}

	// Drop the violation label unless another live violation still maps
	// onto the same label.
	label := violation.Label(rec.Kind)
	keep := false
	for _, live := range ledger.Live() {
		if live.Kind == rec.Kind && live.Actor == rec.Actor {
			continue
		}
		if violation.Label(live.Kind) == label && violation.LevelFor(live.Count) != violation.LevelReminder {
			keep = true
		}
	}
	if !keep && issue.HasLabel(label) {
		if err := e.patchLabels(ctx, number, nil, []string{label}); err != nil {
			return err
		}
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	return e.record(ctx, "violation.cleared", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"violation_id": violationID, "kind": rec.Kind})
}

// ListViolations returns the live (uncleared) violations on an item.
func (e *Engine) ListViolations(ctx context.Context, number int) ([]domain.Violation, error) {
	_, comments, _, err := e.load(ctx, number)
	if err != nil {
		return nil, err
	}
	var out []domain.Violation
	for _, v := range violation.Replay(comments).Live() {
		out = append(out, domain.Violation{
			ID:      v.ID,
			Item:    number,
			ActorID: v.Actor,
			Kind:    v.Kind,
			Count:   v.Count,
			Level:   v.Level,
		})
	}
	return out, nil
}
