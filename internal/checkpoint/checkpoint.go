// Package checkpoint validates the structured status comments that let
// a different actor resume an interrupted work item.
package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"waveline/internal/marker"
	"waveline/internal/store"
)

// ErrIncompleteCheckpoint rejects a checkpoint missing required
// sections or carrying a generic next action.
var ErrIncompleteCheckpoint = errors.New("incomplete checkpoint")

// genericNextActions are placeholders that carry no resumable intent.
var genericNextActions = map[string]bool{
	"continue":         true,
	"continue working": true,
	"keep going":       true,
	"keep working":     true,
	"resume":           true,
	"resume work":      true,
	"more work":        true,
	"work on it":       true,
	"next steps":       true,
	"tbd":              true,
	"todo":             true,
	"wip":              true,
	"n/a":              true,
	"none":             true,
}

// Validate checks a checkpoint for all required sections. When final is
// set (the last checkpoint before closure) the terminal phase outcome
// must also be stated. Validation is advisory-blocking: the caller
// flags the item unrecoverable rather than erasing the event.
func Validate(cp marker.Checkpoint, final bool) error {
	var missing []string
	if strings.TrimSpace(cp.WorkLog) == "" {
		missing = append(missing, "work_log")
	}
	if len(cp.Snapshot.Completed)+len(cp.Snapshot.InProgress)+len(cp.Snapshot.Pending) == 0 {
		missing = append(missing, "snapshot")
	}
	if len(cp.ChangedResources) == 0 {
		missing = append(missing, "changed_resources")
	}
	if len(cp.Commits) == 0 {
		missing = append(missing, "commits")
	}
	if strings.TrimSpace(cp.Branch) == "" {
		missing = append(missing, "branch")
	}
	next := strings.TrimSpace(cp.NextAction)
	switch {
	case next == "":
		missing = append(missing, "next_action")
	case genericNextActions[strings.ToLower(next)]:
		return fmt.Errorf("%w: next_action %q is a placeholder, state the concrete next step", ErrIncompleteCheckpoint, cp.NextAction)
	}
	if final && strings.TrimSpace(cp.Outcome) == "" {
		missing = append(missing, "outcome")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteCheckpoint, strings.Join(missing, ", "))
	}
	return nil
}

// Latest returns the newest checkpoint block in the comment stream. A
// newer checkpoint supersedes older ones; nothing is ever deleted.
func Latest(comments []store.Comment) (marker.Checkpoint, *store.Comment, bool) {
	for i := len(comments) - 1; i >= 0; i-- {
		if b, ok := marker.First(comments[i].Body, marker.KindCheckpoint); ok {
			cp, err := b.Checkpoint()
			if err != nil {
				continue
			}
			return cp, &comments[i], true
		}
	}
	return marker.Checkpoint{}, nil, false
}
