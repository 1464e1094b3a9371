package engine

import (
	"context"
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

// StoreEvent is a change notification from the ticket store. The engine
// is event-driven: actors may write to the store directly, and these
// notifications are where out-of-band writes get policed.
type StoreEvent struct {
	Type      string `json:"type" enum:"comment.created,issue.labeled"`
	Issue     int    `json:"issue"`
	CommentID int64  `json:"comment_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Label     string `json:"label,omitempty"`
}

// HandleStoreEvent reacts to a store notification. Unknown event types
// are ignored; the store owns its own vocabulary.
func (e *Engine) HandleStoreEvent(ctx context.Context, ev StoreEvent) error {
	switch ev.Type {
	case "comment.created":
		return e.handleCommentCreated(ctx, ev)
	case "issue.labeled":
		return e.repairLabels(ctx, ev.Issue)
	}
	return nil
}

func (e *Engine) handleCommentCreated(ctx context.Context, ev StoreEvent) error {
	issue, comments, st, err := e.load(ctx, ev.Issue)
	if err != nil {
		return err
	}
	if issue.HasLabel(domain.LabelEpic) {
		return nil
	}
	var cmt *store.Comment
	for i := range comments {
		if comments[i].ID == ev.CommentID {
			cmt = &comments[i]
		}
	}
	if cmt == nil || cmt.ActorID == e.Actor {
		// Engine-authored comments were validated on the way in.
		return nil
	}

	for _, blk := range marker.Extract(cmt.Body) {
		switch blk.Kind {
		case marker.KindCheckpoint:
			if err := e.policeCheckpoint(ctx, issue, comments, st, cmt, blk); err != nil {
				return err
			}
		case marker.KindVerdict:
			if err := e.policeVerdict(ctx, issue, st, cmt); err != nil {
				return err
			}
		case marker.KindScope:
			if err := e.policeScope(ctx, issue, comments, cmt, blk); err != nil {
				return err
			}
		}
	}
	return e.policePreamble(ctx, issue, comments, cmt)
}

// policeCheckpoint validates a checkpoint written directly to the store.
// A broken one flags the item unrecoverable; a sound one lifts the flag.
func (e *Engine) policeCheckpoint(ctx context.Context, issue store.Issue, comments []store.Comment, st phase.State, cmt *store.Comment, blk marker.Block) error {
	cp, err := blk.Checkpoint()
	if err == nil {
		err = checkpoint.Validate(cp, false)
	}
	if err != nil {
		if _, rerr := e.RecordViolation(ctx, issue.Number, cmt.ActorID, violation.KindBadCheckpoint, err.Error()); rerr != nil {
			return rerr
		}
		if !issue.HasLabel(domain.LabelUnrecoverable) {
			return e.patchLabels(ctx, issue.Number, []string{domain.LabelUnrecoverable}, nil)
		}
		return nil
	}
	if issue.HasLabel(domain.LabelUnrecoverable) {
		if err := e.patchLabels(ctx, issue.Number, nil, []string{domain.LabelUnrecoverable}); err != nil {
			return err
		}
		epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
		if err := e.record(ctx, "checkpoint.corrected", epic, "item", strconv.Itoa(issue.Number), cmt.ActorID, nil); err != nil {
			return err
		}
	}
	if st == phase.TestOpen {
		return e.checkTestScope(ctx, issue.Number, comments, cmt.ActorID, cp)
	}
	return nil
}

func (e *Engine) policeVerdict(ctx context.Context, issue store.Issue, st phase.State, cmt *store.Comment) error {
	if st != phase.ReviewOpen {
		_, err := e.RecordViolation(ctx, issue.Number, cmt.ActorID, violation.KindVerdictOutsideReview, fmt.Sprintf("verdict posted while %s", st))
		return err
	}
	if issue.Assignee != "" && issue.Assignee == cmt.ActorID {
		_, err := e.RecordViolation(ctx, issue.Number, cmt.ActorID, violation.KindSelfApproval, "verdict posted by the item's own assignee")
		return err
	}
	return nil
}

// policeScope runs the conflict scan when a declaration arrives out of
// band. Only the first declaration counts; later scope blocks are inert.
func (e *Engine) policeScope(ctx context.Context, issue store.Issue, comments []store.Comment, cmt *store.Comment, blk marker.Block) error {
	s, err := blk.Scope()
	if err != nil {
		return nil
	}
	_, declComment, ok := scope.Declaration(comments)
	if !ok || declComment.ID != cmt.ID {
		return nil
	}
	_, err = e.scanConflicts(ctx, issue, s.Claimed, cmt.ActorID)
	return err
}

// policePreamble records an incomplete-init violation when the actor who
// opened a thread posts into it before the required preamble exists.
func (e *Engine) policePreamble(ctx context.Context, issue store.Issue, comments []store.Comment, cmt *store.Comment) error {
	openIdx := -1
	var opened marker.Transition
	for i, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindTransition {
				continue
			}
			if t, err := blk.Transition(); err == nil {
				openIdx, opened = i, t
			}
		}
	}
	if openIdx < 0 || !opened.RequiresPreamble {
		return nil
	}
	for i := openIdx + 1; i < len(comments); i++ {
		if _, ok := marker.First(comments[i].Body, marker.KindPreamble); ok {
			return nil
		}
	}
	if cmt.ActorID != opened.Actor {
		return nil
	}
	note := fmt.Sprintf("posted into an open %s thread before its preamble", opened.To)
	_, err := e.RecordViolation(ctx, issue.Number, cmt.ActorID, violation.KindIncompleteInit, note)
	return err
}

// repairLabels restores the one-status, one-phase label invariant after
// a direct label edit on the store.
func (e *Engine) repairLabels(ctx context.Context, number int) error {
	issue, _, st, err := e.load(ctx, number)
	if err != nil {
		return err
	}
	if issue.HasLabel(domain.LabelEpic) {
		return nil
	}
	want := make(map[string]bool)
	for _, l := range st.Labels() {
		want[l] = true
	}
	var extraneous []string
	for _, l := range phase.AllStateLabels() {
		if issue.HasLabel(l) && !want[l] {
			extraneous = append(extraneous, l)
		}
	}
	var missing []string
	for _, l := range st.Labels() {
		if !issue.HasLabel(l) {
			missing = append(missing, l)
		}
	}
	if len(extraneous) == 0 && len(missing) == 0 {
		return nil
	}
	if err := e.patchLabels(ctx, number, missing, extraneous); err != nil {
		return err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	payload := events.EventPayload{"added": missing, "removed": extraneous, "state": string(st)}
	return e.record(ctx, "labels.repaired", epic, "item", strconv.Itoa(number), e.Actor, payload)
}
