package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/marker"
	"waveline/internal/phase"
	"waveline/internal/violation"
)

var (
	ErrVerdictOutsideReview = errors.New("verdict permitted only inside an open review thread")
	ErrSelfApproval         = errors.New("item author may not approve their own review")
)

// PostVerdict records a review outcome. PASS completes the item; FAIL
// demotes it back to an open dev thread, subject to the review-cycle
// gates. When a gate refuses the demotion the item parks in
// review_failed and the gate error is returned alongside it.
func (e *Engine) PostVerdict(ctx context.Context, number int, actor, result, note string) (domain.WorkItem, error) {
	res := strings.ToUpper(strings.TrimSpace(result))
	if res != marker.VerdictPass && res != marker.VerdictFail {
		return domain.WorkItem{}, fmt.Errorf("%w: verdict result must be PASS or FAIL", marker.ErrMalformedBlock)
	}
	issue, _, st, err := e.load(ctx, number)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if st != phase.ReviewOpen {
		if _, err := e.RecordViolation(ctx, number, actor, violation.KindVerdictOutsideReview, fmt.Sprintf("verdict posted while %s", st)); err != nil {
			return domain.WorkItem{}, err
		}
		return domain.WorkItem{}, fmt.Errorf("%w: #%d is %s", ErrVerdictOutsideReview, number, st)
	}
	if issue.Assignee != "" && issue.Assignee == actor {
		if _, err := e.RecordViolation(ctx, number, actor, violation.KindSelfApproval, "verdict posted by the item's own assignee"); err != nil {
			return domain.WorkItem{}, err
		}
		return domain.WorkItem{}, fmt.Errorf("%w: #%d is assigned to %s", ErrSelfApproval, number, actor)
	}

	body := marker.RenderVerdict(marker.Verdict{Result: res, Note: note})
	if _, err := e.Store.CreateComment(ctx, number, actor, body); err != nil {
		return domain.WorkItem{}, err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	if err := e.record(ctx, "review.verdict", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"result": res}); err != nil {
		return domain.WorkItem{}, err
	}

	if res == marker.VerdictPass {
		return e.RequestTransition(ctx, number, string(phase.ReviewOpen), string(phase.Completed), actor)
	}
	item, err := e.RequestTransition(ctx, number, string(phase.ReviewOpen), string(phase.DevOpen), actor)
	if errors.Is(err, violation.ErrPatternNoteMissing) || errors.Is(err, violation.ErrEscalationRequired) {
		gateErr := err
		item, err = e.RequestTransition(ctx, number, string(phase.ReviewOpen), string(phase.ReviewFailed), actor)
		if err != nil {
			return domain.WorkItem{}, err
		}
		return item, gateErr
	}
	return item, err
}

// RecordPattern posts the pattern note the third review cycle requires:
// what keeps failing and why the next attempt will be different.
func (e *Engine) RecordPattern(ctx context.Context, number int, actor string, cycle int, note string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("a pattern note needs its analysis text")
	}
	if cycle < violation.PatternNoteCycle {
		return fmt.Errorf("pattern notes start at cycle %d, got %d", violation.PatternNoteCycle, cycle)
	}
	body := marker.RenderPattern(marker.Pattern{Cycle: cycle, Note: note})
	if _, err := e.Store.CreateComment(ctx, number, actor, body); err != nil {
		return err
	}
	issue, err := e.Store.GetIssue(ctx, number)
	if err != nil {
		return err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	return e.record(ctx, "review.pattern", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"cycle": cycle})
}

// RecordEscalation addresses a human maintainer once review cycles run
// away; from the fourth cycle no demotion proceeds without one.
func (e *Engine) RecordEscalation(ctx context.Context, number int, actor, addressee, note string) (domain.Escalation, error) {
	if addressee == "" {
		return domain.Escalation{}, fmt.Errorf("an escalation needs an addressee")
	}
	_, comments, _, err := e.load(ctx, number)
	if err != nil {
		return domain.Escalation{}, err
	}
	cycle := violation.ReviewCycles(comments) + 1
	body := marker.RenderEscalation(marker.Escalation{Cycle: cycle, Addressee: addressee, Note: note})
	if _, err := e.Store.CreateComment(ctx, number, actor, body); err != nil {
		return domain.Escalation{}, err
	}
	issue, err := e.Store.GetIssue(ctx, number)
	if err != nil {
		return domain.Escalation{}, err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	esc := domain.Escalation{
		Item:      number,
		Cycle:     cycle,
		Addressee: addressee,
		Note:      note,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.record(ctx, "review.escalated", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"cycle": cycle, "addressee": addressee}); err != nil {
		return esc, err
	}
	return esc, nil
}
