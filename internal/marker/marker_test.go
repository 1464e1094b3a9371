package marker

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractFromProse(t *testing.T) {
	body := "Claiming this now.\n\n" +
		RenderScope(Scope{Claimed: []string{"a.txt", "b.txt"}, Excluded: []string{"c.txt"}}) +
		"\n\nWill start after lunch.\n" +
		RenderPreamble(Preamble{Skills: []string{"go"}, Thread: "dev", Scope: []string{"a.txt"}})

	blocks := Extract(body)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	s, err := blocks[0].Scope()
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if len(s.Claimed) != 2 || s.Claimed[0] != "a.txt" {
		t.Fatalf("unexpected scope %+v", s)
	}
	p, err := blocks[1].Preamble()
	if err != nil {
		t.Fatalf("preamble: %v", err)
	}
	if p.Thread != "dev" {
		t.Fatalf("unexpected preamble %+v", p)
	}
}

func TestVerdictNormalization(t *testing.T) {
	b, ok := First(RenderVerdict(Verdict{Result: "pass"}), KindVerdict)
	if !ok {
		t.Fatal("verdict block not found")
	}
	v, err := b.Verdict()
	if err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if v.Result != VerdictPass {
		t.Fatalf("want PASS, got %q", v.Result)
	}
	bad := Block{Kind: KindVerdict, Raw: "result: MAYBE\n"}
	if _, err := bad.Verdict(); !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("want ErrMalformedBlock, got %v", err)
	}
}

func TestScopeRequiresClaimedResources(t *testing.T) {
	b := Block{Kind: KindScope, Raw: "excluded: [x]\n"}
	if _, err := b.Scope(); !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("want ErrMalformedBlock, got %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	in := Checkpoint{
		WorkLog:          "wired the parser",
		Snapshot:         Snapshot{Completed: []string{"parser"}, Pending: []string{"renderer"}},
		ChangedResources: []string{"internal/marker/marker.go"},
		Commits:          []string{"abc1234"},
		Branch:           "feature/markers",
		NextAction:       "wire renderer into engine transitions",
	}
	b, ok := First("checkpoint below\n"+RenderCheckpoint(in), KindCheckpoint)
	if !ok {
		t.Fatal("checkpoint block not found")
	}
	out, err := b.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if out.NextAction != in.NextAction || out.Branch != in.Branch {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestResolutionValidation(t *testing.T) {
	r := Resolution{Items: []int{42, 43}, Agreement: "42 merges first, 43 rebases"}
	b, _ := First(RenderResolution(r), KindResolution)
	got, err := b.Resolution()
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if got.Items[1] != 43 {
		t.Fatalf("unexpected items %v", got.Items)
	}
	bad := Block{Kind: KindResolution, Raw: "items: [42]\nagreement: solo\n"}
	if _, err := bad.Resolution(); err == nil {
		t.Fatal("expected error for single-item resolution")
	}
}

func TestUnterminatedFenceIgnored(t *testing.T) {
	body := "```waveline:scope\nclaimed: [a.txt]\n"
	if blocks := Extract(body); len(blocks) != 0 {
		t.Fatalf("unterminated fence should not parse, got %d blocks", len(blocks))
	}
	if !strings.Contains(RenderScope(Scope{Claimed: []string{"a"}}), "```") {
		t.Fatal("render must emit a fence")
	}
}
