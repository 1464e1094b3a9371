// Package marker implements the structured comment blocks that form the
// protocol's wire format. Each block is a fenced code block whose info
// string is "waveline:<kind>" and whose body is YAML.
package marker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies a block type.
type Kind string

const (
	KindScope      Kind = "scope"
	KindPreamble   Kind = "preamble"
	KindCheckpoint Kind = "checkpoint"
	KindVerdict    Kind = "verdict"
	KindResolution Kind = "resolution"
	KindTransition Kind = "transition"
	KindViolation  Kind = "violation"
	KindClear      Kind = "clear"
	KindConflict   Kind = "conflict"
	KindPattern    Kind = "pattern"
	KindEscalation Kind = "escalation"
	KindEpic       Kind = "epic"
)

var ErrMalformedBlock = errors.New("malformed marker block")

// Block is one extracted marker with its raw YAML body.
type Block struct {
	Kind Kind
	Raw  string
}

var fenceRe = regexp.MustCompile("(?ms)^```waveline:([a-z]+)\\s*$\\n(.*?)^```\\s*$")

// Extract returns all marker blocks in a comment body, in order.
// Unknown kinds are returned too; callers filter by Kind.
func Extract(body string) []Block {
	var blocks []Block
	for _, m := range fenceRe.FindAllStringSubmatch(body, -1) {
		blocks = append(blocks, Block{Kind: Kind(m[1]), Raw: m[2]})
	}
	return blocks
}

// First returns the first block of the given kind, if any.
func First(body string, kind Kind) (Block, bool) {
	for _, b := range Extract(body) {
		if b.Kind == kind {
			return b, true
		}
	}
	return Block{}, false
}

func decode(b Block, want Kind, out any) error {
	if b.Kind != want {
		return fmt.Errorf("%w: expected %s block, got %s", ErrMalformedBlock, want, b.Kind)
	}
	if err := yaml.Unmarshal([]byte(b.Raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	return nil
}

func render(kind Kind, v any) string {
	data, _ := yaml.Marshal(v)
	return fmt.Sprintf("```waveline:%s\n%s```", kind, data)
}

// Scope declares claimed-exclusive and explicitly excluded resources.
type Scope struct {
	Claimed  []string `yaml:"claimed"`
	Excluded []string `yaml:"excluded,omitempty"`
}

func (b Block) Scope() (Scope, error) {
	var s Scope
	err := decode(b, KindScope, &s)
	if err == nil && len(s.Claimed) == 0 {
		err = fmt.Errorf("%w: scope block with no claimed resources", ErrMalformedBlock)
	}
	return s, err
}

func RenderScope(s Scope) string { return render(KindScope, s) }

// Preamble opens a phase thread: required capabilities, thread type,
// and the scope the thread will touch.
type Preamble struct {
	Skills []string `yaml:"skills"`
	Thread string   `yaml:"thread"`
	Scope  []string `yaml:"scope,omitempty"`
}

func (b Block) Preamble() (Preamble, error) {
	var p Preamble
	err := decode(b, KindPreamble, &p)
	if err == nil && p.Thread == "" {
		err = fmt.Errorf("%w: preamble without thread type", ErrMalformedBlock)
	}
	return p, err
}

func RenderPreamble(p Preamble) string { return render(KindPreamble, p) }

// Snapshot is the per-checkpoint work state.
type Snapshot struct {
	Completed  []string `yaml:"completed,omitempty" json:"completed,omitempty"`
	InProgress []string `yaml:"in_progress,omitempty" json:"in_progress,omitempty"`
	Pending    []string `yaml:"pending,omitempty" json:"pending,omitempty"`
}

// Checkpoint carries enough structured state for a different actor to
// resume the work item without side-channel knowledge.
type Checkpoint struct {
	WorkLog          string   `yaml:"work_log" json:"work_log"`
	Snapshot         Snapshot `yaml:"snapshot" json:"snapshot"`
	ChangedResources []string `yaml:"changed_resources" json:"changed_resources"`
	Commits          []string `yaml:"commits,omitempty" json:"commits,omitempty"`
	Branch           string   `yaml:"branch" json:"branch"`
	NextAction       string   `yaml:"next_action" json:"next_action"`
	Outcome          string   `yaml:"outcome,omitempty" json:"outcome,omitempty"`
}

func (b Block) Checkpoint() (Checkpoint, error) {
	var c Checkpoint
	err := decode(b, KindCheckpoint, &c)
	return c, err
}

func RenderCheckpoint(c Checkpoint) string { return render(KindCheckpoint, c) }

// Verdict results, permitted only inside review threads.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

type Verdict struct {
	Result string `yaml:"result"`
	Note   string `yaml:"note,omitempty"`
}

func (b Block) Verdict() (Verdict, error) {
	var v Verdict
	if err := decode(b, KindVerdict, &v); err != nil {
		return v, err
	}
	v.Result = strings.ToUpper(strings.TrimSpace(v.Result))
	if v.Result != VerdictPass && v.Result != VerdictFail {
		return v, fmt.Errorf("%w: verdict result must be PASS or FAIL", ErrMalformedBlock)
	}
	return v, nil
}

func RenderVerdict(v Verdict) string { return render(KindVerdict, v) }

// Resolution records an agreement between two conflicting items. Both
// sides must carry a resolution block naming the same pair.
type Resolution struct {
	Items     []int  `yaml:"items"`
	Agreement string `yaml:"agreement"`
}

func (b Block) Resolution() (Resolution, error) {
	var r Resolution
	err := decode(b, KindResolution, &r)
	if err == nil && (len(r.Items) != 2 || r.Agreement == "") {
		err = fmt.Errorf("%w: resolution needs two items and an agreement", ErrMalformedBlock)
	}
	return r, err
}

func RenderResolution(r Resolution) string { return render(KindResolution, r) }

// Transition is appended by the engine on every successful phase change;
// the comment stream is the authoritative phase history.
type Transition struct {
	From             string `yaml:"from"`
	To               string `yaml:"to"`
	Actor            string `yaml:"actor"`
	RequiresPreamble bool   `yaml:"requires_preamble,omitempty"`
}

func (b Block) Transition() (Transition, error) {
	var t Transition
	err := decode(b, KindTransition, &t)
	return t, err
}

func RenderTransition(t Transition) string { return render(KindTransition, t) }

// Violation records one occurrence of a rule breach.
type Violation struct {
	ID    string `yaml:"id"`
	Actor string `yaml:"actor"`
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
	Level string `yaml:"level"`
	Note  string `yaml:"note,omitempty"`
}

func (b Block) Violation() (Violation, error) {
	var v Violation
	err := decode(b, KindViolation, &v)
	return v, err
}

func RenderViolation(v Violation) string { return render(KindViolation, v) }

// Clear resets a violation counter. It must reference the original
// violation record; counters are never cleared by time passing.
type Clear struct {
	ViolationID string `yaml:"violation_id"`
	Actor       string `yaml:"actor"`
	Kind        string `yaml:"kind"`
	Correction  string `yaml:"correction"`
}

func (b Block) Clear() (Clear, error) {
	var c Clear
	err := decode(b, KindClear, &c)
	if err == nil && c.ViolationID == "" {
		err = fmt.Errorf("%w: clear must reference the violation id", ErrMalformedBlock)
	}
	return c, err
}

func RenderClear(c Clear) string { return render(KindClear, c) }

// Conflict notifies a work item of an overlapping scope declaration.
type Conflict struct {
	With      int      `yaml:"with"`
	Resources []string `yaml:"resources"`
}

func (b Block) Conflict() (Conflict, error) {
	var c Conflict
	err := decode(b, KindConflict, &c)
	return c, err
}

func RenderConflict(c Conflict) string { return render(KindConflict, c) }

// Pattern is the note required on the third review cycle.
type Pattern struct {
	Cycle int    `yaml:"cycle"`
	Note  string `yaml:"note"`
}

func (b Block) Pattern() (Pattern, error) {
	var p Pattern
	err := decode(b, KindPattern, &p)
	return p, err
}

func RenderPattern(p Pattern) string { return render(KindPattern, p) }

// Escalation addresses a human maintainer from the fourth cycle on.
type Escalation struct {
	Cycle     int    `yaml:"cycle"`
	Addressee string `yaml:"addressee"`
	Note      string `yaml:"note,omitempty"`
}

func (b Block) Escalation() (Escalation, error) {
	var e Escalation
	err := decode(b, KindEscalation, &e)
	if err == nil && e.Addressee == "" {
		err = fmt.Errorf("%w: escalation without addressee", ErrMalformedBlock)
	}
	return e, err
}

func RenderEscalation(e Escalation) string { return render(KindEscalation, e) }

// EpicPlan is carried in an epic issue's body: the number of ordered
// waves the epic runs before its eval and fix waves.
type EpicPlan struct {
	Waves int `yaml:"waves"`
}

func (b Block) EpicPlan() (EpicPlan, error) {
	var e EpicPlan
	err := decode(b, KindEpic, &e)
	if err == nil && e.Waves < 1 {
		err = fmt.Errorf("%w: epic plan needs at least one wave", ErrMalformedBlock)
	}
	return e, err
}

func RenderEpicPlan(e EpicPlan) string { return render(KindEpic, e) }
