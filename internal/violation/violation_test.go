package violation

import (
	"errors"
	"testing"

	"waveline/internal/marker"
	"waveline/internal/store"
)

func record(id, actor, kind string) store.Comment {
	return store.Comment{Body: marker.RenderViolation(marker.Violation{ID: id, Actor: actor, Kind: kind})}
}

func clear(id string) store.Comment {
	return store.Comment{Body: marker.RenderClear(marker.Clear{ViolationID: id, Actor: "lead", Correction: "fixed"})}
}

func TestLadderLevels(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{0, ""}, {1, LevelReminder}, {2, LevelWarning}, {3, LevelBlock}, {7, LevelBlock},
	}
	for _, c := range cases {
		if got := LevelFor(c.count); got != c.want {
			t.Fatalf("LevelFor(%d) = %q, want %q", c.count, got, c.want)
		}
	}
}

func TestReplayCountsPerActorAndKind(t *testing.T) {
	l := Replay([]store.Comment{
		record("v1", "alice", KindWaveOrder),
		record("v2", "alice", KindWaveOrder),
		record("v3", "alice", KindMissingScope),
		record("v4", "bob", KindWaveOrder),
	})
	if got := l.Count("alice", KindWaveOrder); got != 2 {
		t.Fatalf("alice wave-order count = %d, want 2", got)
	}
	if got := l.Level("alice", KindWaveOrder); got != LevelWarning {
		t.Fatalf("alice wave-order level = %q, want warning", got)
	}
	if got := l.Count("bob", KindWaveOrder); got != 1 {
		t.Fatalf("bob wave-order count = %d, want 1", got)
	}
	if got := l.Count("alice", KindSelfApproval); got != 0 {
		t.Fatalf("unrecorded kind count = %d, want 0", got)
	}
}

func TestClearResetsOnlyReferencedCounter(t *testing.T) {
	l := Replay([]store.Comment{
		record("v1", "alice", KindWaveOrder),
		record("v2", "alice", KindWaveOrder),
		record("v3", "alice", KindMissingScope),
		clear("v1"),
	})
	if got := l.Count("alice", KindWaveOrder); got != 0 {
		t.Fatalf("cleared counter = %d, want 0", got)
	}
	if got := l.Count("alice", KindMissingScope); got != 1 {
		t.Fatalf("unrelated counter = %d, want 1", got)
	}

	// A clear referencing an unknown id changes nothing.
	l = Replay([]store.Comment{record("v9", "alice", KindWaveOrder), clear("nope")})
	if got := l.Count("alice", KindWaveOrder); got != 1 {
		t.Fatalf("count after bogus clear = %d, want 1", got)
	}
}

func TestBlockedAndCheckBlocked(t *testing.T) {
	l := Replay([]store.Comment{
		record("v1", "alice", KindWaveOrder),
		record("v2", "alice", KindWaveOrder),
	})
	if err := l.CheckBlocked(); err != nil {
		t.Fatalf("two occurrences should not block: %v", err)
	}
	l = Replay([]store.Comment{
		record("v1", "alice", KindWaveOrder),
		record("v2", "alice", KindWaveOrder),
		record("v3", "alice", KindWaveOrder),
	})
	if err := l.CheckBlocked(); !errors.Is(err, ErrBlocked) {
		t.Fatalf("third occurrence: want ErrBlocked, got %v", err)
	}
	blocked := l.Blocked()
	if len(blocked) != 1 || blocked[0].Count != 3 || blocked[0].Level != LevelBlock {
		t.Fatalf("blocked = %+v", blocked)
	}
}

func TestLiveIsSortedAndFindResolvesID(t *testing.T) {
	l := Replay([]store.Comment{
		record("v1", "bob", KindSelfApproval),
		record("v2", "alice", KindWaveOrder),
		record("v3", "alice", KindBadCheckpoint),
	})
	live := l.Live()
	if len(live) != 3 {
		t.Fatalf("live = %+v, want 3", live)
	}
	if live[0].Actor != "alice" || live[0].Kind != KindBadCheckpoint || live[2].Actor != "bob" {
		t.Fatalf("live order = %+v", live)
	}

	v, ok := l.Find("v2")
	if !ok || v.ID != "v2" || v.Actor != "alice" || v.Kind != KindWaveOrder {
		t.Fatalf("Find(v2) = %+v, %v", v, ok)
	}
	if _, ok := l.Find("missing"); ok {
		t.Fatal("Find(missing) should report absence")
	}
}

func TestLabelMapping(t *testing.T) {
	if got := Label(KindMissingScope); got != "violation:scope" {
		t.Fatalf("missing-scope label = %q", got)
	}
	if got := Label(KindWaveOrder); got != "violation:wave-order" {
		t.Fatalf("wave-order label = %q", got)
	}
	if got := Label(KindBadCheckpoint); got != "violation:phase" {
		t.Fatalf("bad-checkpoint label = %q", got)
	}
}

func demotion() store.Comment {
	return store.Comment{Body: marker.RenderTransition(marker.Transition{From: "review_open", To: "dev_open", Actor: "reviewer"})}
}

func TestReviewCyclesCountsDemotions(t *testing.T) {
	comments := []store.Comment{
		{Body: marker.RenderTransition(marker.Transition{From: "claimed", To: "dev_open", Actor: "alice"})},
		demotion(),
		demotion(),
	}
	if got := ReviewCycles(comments); got != 2 {
		t.Fatalf("cycles = %d, want 2", got)
	}
}

func TestCheckCycleGates(t *testing.T) {
	var comments []store.Comment
	if err := CheckCycle(comments, 2); err != nil {
		t.Fatalf("cycle 2 needs nothing: %v", err)
	}
	if err := CheckCycle(comments, 3); !errors.Is(err, ErrPatternNoteMissing) {
		t.Fatalf("cycle 3 without note: want ErrPatternNoteMissing, got %v", err)
	}

	comments = append(comments, store.Comment{Body: marker.RenderPattern(marker.Pattern{Cycle: 3, Note: "same nil check fails"})})
	if err := CheckCycle(comments, 3); err != nil {
		t.Fatalf("cycle 3 with note: %v", err)
	}
	if err := CheckCycle(comments, 4); !errors.Is(err, ErrEscalationRequired) {
		t.Fatalf("cycle 4 without escalation: want ErrEscalationRequired, got %v", err)
	}

	comments = append(comments, store.Comment{Body: marker.RenderEscalation(marker.Escalation{Cycle: 4, Addressee: "maintainer"})})
	if err := CheckCycle(comments, 4); err != nil {
		t.Fatalf("cycle 4 with escalation: %v", err)
	}
}
