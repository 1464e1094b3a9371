package checkpoint

import (
	"errors"
	"strings"
	"testing"

	"waveline/internal/marker"
	"waveline/internal/store"
)

func complete() marker.Checkpoint {
	return marker.Checkpoint{
		WorkLog:          "migrated the session table and backfilled ids",
		Snapshot:         marker.Snapshot{Completed: []string{"migration"}, Pending: []string{"backfill verify"}},
		ChangedResources: []string{"internal/db/sessions.go"},
		Commits:          []string{"4f2a91c"},
		Branch:           "feature/session-ids",
		NextAction:       "run the backfill verifier against staging",
	}
}

func TestValidateComplete(t *testing.T) {
	if err := Validate(complete(), false); err != nil {
		t.Fatalf("complete checkpoint rejected: %v", err)
	}
}

func TestValidateReportsAllMissingSections(t *testing.T) {
	err := Validate(marker.Checkpoint{}, false)
	if !errors.Is(err, ErrIncompleteCheckpoint) {
		t.Fatalf("want ErrIncompleteCheckpoint, got %v", err)
	}
	for _, section := range []string{"work_log", "snapshot", "changed_resources", "commits", "branch", "next_action"} {
		if !strings.Contains(err.Error(), section) {
			t.Fatalf("error %q does not name %s", err, section)
		}
	}
}

func TestValidateRejectsGenericNextAction(t *testing.T) {
	for _, next := range []string{"continue", "Keep Going", "TBD", "wip"} {
		cp := complete()
		cp.NextAction = next
		if err := Validate(cp, false); !errors.Is(err, ErrIncompleteCheckpoint) {
			t.Fatalf("next_action %q: want ErrIncompleteCheckpoint, got %v", next, err)
		}
	}
}

func TestValidateRequiresCommitReferences(t *testing.T) {
	cp := complete()
	cp.Commits = nil
	err := Validate(cp, false)
	if !errors.Is(err, ErrIncompleteCheckpoint) {
		t.Fatalf("no commits: want ErrIncompleteCheckpoint, got %v", err)
	}
	if !strings.Contains(err.Error(), "commits") {
		t.Fatalf("error %q does not name commits", err)
	}
}

func TestFinalNeedsOutcome(t *testing.T) {
	cp := complete()
	if err := Validate(cp, true); !errors.Is(err, ErrIncompleteCheckpoint) {
		t.Fatalf("final without outcome: want ErrIncompleteCheckpoint, got %v", err)
	}
	cp.Outcome = "all dev work landed on feature/session-ids"
	if err := Validate(cp, true); err != nil {
		t.Fatalf("final with outcome: %v", err)
	}
}

func TestLatestSupersedes(t *testing.T) {
	first := complete()
	second := complete()
	second.WorkLog = "verifier passed, fixed one off-by-one"
	comments := []store.Comment{
		{ID: 1, Body: marker.RenderCheckpoint(first)},
		{ID: 2, Body: "discussion in between"},
		{ID: 3, Body: marker.RenderCheckpoint(second)},
	}
	cp, cmt, ok := Latest(comments)
	if !ok || cmt.ID != 3 {
		t.Fatalf("latest from comment %v, want 3", cmt)
	}
	if cp.WorkLog != second.WorkLog {
		t.Fatalf("work_log = %q", cp.WorkLog)
	}
}

func TestLatestNoneFound(t *testing.T) {
	if _, _, ok := Latest([]store.Comment{{Body: "nothing structured here"}}); ok {
		t.Fatal("found a checkpoint in plain text")
	}
}
