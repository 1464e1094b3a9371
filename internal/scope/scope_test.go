package scope

import (
	"reflect"
	"testing"

	"waveline/internal/marker"
	"waveline/internal/store"
)

func TestOverlap(t *testing.T) {
	got := Overlap(
		[]string{"internal/auth/login.go", "internal/auth/session.go", "docs/auth.md"},
		[]string{"internal/auth/session.go", "internal/api/routes.go", "docs/auth.md"},
	)
	want := []string{"docs/auth.md", "internal/auth/session.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("overlap = %v, want %v", got, want)
	}
	if got := Overlap([]string{"a"}, []string{"b"}); got != nil {
		t.Fatalf("disjoint overlap = %v, want nil", got)
	}
}

func TestDetectOrdersByCounterpart(t *testing.T) {
	siblings := map[int][]string{
		9: {"pkg/db/schema.sql"},
		4: {"pkg/db/schema.sql", "pkg/db/conn.go"},
		7: {"cmd/main.go"},
	}
	conflicts := Detect(12, []string{"pkg/db/schema.sql", "pkg/db/conn.go"}, siblings)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %+v, want 2", conflicts)
	}
	if conflicts[0].Other != 4 || conflicts[1].Other != 9 {
		t.Fatalf("order = %d, %d, want 4, 9", conflicts[0].Other, conflicts[1].Other)
	}
	if !reflect.DeepEqual(conflicts[0].Resources, []string{"pkg/db/conn.go", "pkg/db/schema.sql"}) {
		t.Fatalf("resources = %v", conflicts[0].Resources)
	}
}

func TestDetectSkipsSelf(t *testing.T) {
	conflicts := Detect(5, []string{"a.go"}, map[int][]string{5: {"a.go"}})
	if len(conflicts) != 0 {
		t.Fatalf("self-conflict reported: %+v", conflicts)
	}
}

func TestDeclarationFirstWins(t *testing.T) {
	first := marker.RenderScope(marker.Scope{Claimed: []string{"a.go"}})
	second := marker.RenderScope(marker.Scope{Claimed: []string{"b.go"}})
	comments := []store.Comment{
		{ID: 1, Body: "plain chatter, no markers"},
		{ID: 2, ActorID: "alice", Body: "claiming my files\n\n" + first},
		{ID: 3, ActorID: "alice", Body: second},
	}
	s, cmt, ok := Declaration(comments)
	if !ok {
		t.Fatal("declaration not found")
	}
	if cmt.ID != 2 || !reflect.DeepEqual(s.Claimed, []string{"a.go"}) {
		t.Fatalf("declaration = %+v from comment %d, want a.go from comment 2", s, cmt.ID)
	}
}

func TestResolutionRecordedEitherOrder(t *testing.T) {
	comments := []store.Comment{
		{Body: marker.RenderResolution(marker.Resolution{Items: []int{12, 7}, Agreement: "12 takes schema.sql, 7 waits"})},
	}
	if !ResolutionRecorded(comments, 7, 12) {
		t.Fatal("resolution (7, 12) not recognized")
	}
	if !ResolutionRecorded(comments, 12, 7) {
		t.Fatal("resolution (12, 7) not recognized")
	}
	if ResolutionRecorded(comments, 12, 8) {
		t.Fatal("unrelated pair reported resolved")
	}
}

func TestUnresolvedConflicts(t *testing.T) {
	comments := []store.Comment{
		{Body: marker.RenderConflict(marker.Conflict{With: 7, Resources: []string{"a.go"}})},
		{Body: marker.RenderConflict(marker.Conflict{With: 9, Resources: []string{"b.go"}})},
		{Body: marker.RenderResolution(marker.Resolution{Items: []int{12, 9}, Agreement: "split by package"})},
	}
	got := UnresolvedConflicts(comments, 12)
	if !reflect.DeepEqual(got, []int{7}) {
		t.Fatalf("unresolved = %v, want [7]", got)
	}
}
