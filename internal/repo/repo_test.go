package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"waveline/internal/db"
	"waveline/internal/migrate"
	"waveline/internal/store"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func TestCreateAndGetIssue(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	created, err := r.CreateIssue(ctx, store.Issue{
		Title:  "index rebuild",
		Body:   "rebuild the search index",
		Labels: []string{"ready", "wave:1", "epic:1", "ready"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Number == 0 || created.State != "open" || created.Revision != 1 {
		t.Fatalf("created = %+v", created)
	}
	if !reflect.DeepEqual(created.Labels, []string{"epic:1", "ready", "wave:1"}) {
		t.Fatalf("labels = %v, want deduped sorted", created.Labels)
	}

	if _, err := r.GetIssue(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing issue: want ErrNotFound, got %v", err)
	}
}

func TestUpdateIssueRevisionGuard(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	issue, err := r.CreateIssue(ctx, store.Issue{Title: "guarded"})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := r.UpdateIssue(ctx, issue.Number, store.IssuePatch{
		Assignee:  store.StrPtr("alice"),
		AddLabels: []string{"claimed"},
	}, issue.Revision)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Revision != issue.Revision+1 || updated.Assignee != "alice" {
		t.Fatalf("updated = %+v", updated)
	}

	// A writer holding the old revision loses.
	if _, err := r.UpdateIssue(ctx, issue.Number, store.IssuePatch{
		Assignee: store.StrPtr("bob"),
	}, issue.Revision); !errors.Is(err, store.ErrRevisionConflict) {
		t.Fatalf("stale update: want ErrRevisionConflict, got %v", err)
	}
	got, err := r.GetIssue(ctx, issue.Number)
	if err != nil || got.Assignee != "alice" {
		t.Fatalf("assignee after conflict = %q, %v", got.Assignee, err)
	}

	if _, err := r.UpdateIssue(ctx, 999, store.IssuePatch{}, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing issue update: want ErrNotFound, got %v", err)
	}
}

func TestCloseSetsClosedAt(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	issue, err := r.CreateIssue(ctx, store.Issue{Title: "to close"})
	if err != nil {
		t.Fatal(err)
	}
	closed, err := r.UpdateIssue(ctx, issue.Number, store.IssuePatch{State: store.StrPtr("closed")}, issue.Revision)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != "closed" || closed.ClosedAt == nil {
		t.Fatalf("closed = %+v", closed)
	}

	reopened, err := r.UpdateIssue(ctx, issue.Number, store.IssuePatch{State: store.StrPtr("open")}, closed.Revision)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("reopened closed_at = %v, want nil", *reopened.ClosedAt)
	}
}

func TestListIssuesFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	a, _ := r.CreateIssue(ctx, store.Issue{Title: "a", Labels: []string{"epic:1", "wave:1"}})
	b, _ := r.CreateIssue(ctx, store.Issue{Title: "b", Labels: []string{"epic:1", "wave:2"}})
	if _, err := r.CreateIssue(ctx, store.Issue{Title: "c", Labels: []string{"epic:2", "wave:1"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateIssue(ctx, b.Number, store.IssuePatch{State: store.StrPtr("closed")}, b.Revision); err != nil {
		t.Fatal(err)
	}

	both, err := r.ListIssues(ctx, store.IssueFilter{Labels: []string{"epic:1"}})
	if err != nil || len(both) != 2 {
		t.Fatalf("epic:1 issues = %d, %v, want 2", len(both), err)
	}
	wave1, err := r.ListIssues(ctx, store.IssueFilter{Labels: []string{"epic:1", "wave:1"}})
	if err != nil || len(wave1) != 1 || wave1[0].Number != a.Number {
		t.Fatalf("epic:1+wave:1 = %+v, %v", wave1, err)
	}
	open, err := r.ListIssues(ctx, store.IssueFilter{State: "open", Labels: []string{"epic:1"}})
	if err != nil || len(open) != 1 || open[0].Number != a.Number {
		t.Fatalf("open epic:1 = %+v, %v", open, err)
	}
}

func TestCommentsKeepInsertionOrder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	issue, err := r.CreateIssue(ctx, store.Issue{Title: "threaded"})
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"first", "second", "third"} {
		if _, err := r.CreateComment(ctx, issue.Number, "alice", body); err != nil {
			t.Fatalf("comment %q: %v", body, err)
		}
	}
	comments, err := r.ListComments(ctx, issue.Number)
	if err != nil || len(comments) != 3 {
		t.Fatalf("comments = %d, %v, want 3", len(comments), err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if comments[i].Body != want {
			t.Fatalf("comments[%d] = %q, want %q", i, comments[i].Body, want)
		}
	}

	if _, err := r.CreateComment(ctx, 999, "alice", "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("comment on missing issue: want ErrNotFound, got %v", err)
	}
}
