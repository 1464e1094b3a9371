package wave

import (
	"context"
	"errors"
	"testing"

	"waveline/internal/store"
)

// labelStore serves ListIssues from a fixed slice; the sequencer never
// writes.
type labelStore struct {
	issues []store.Issue
}

func (s labelStore) ListIssues(ctx context.Context, f store.IssueFilter) ([]store.Issue, error) {
	var out []store.Issue
next:
	for _, i := range s.issues {
		if f.State != "" && i.State != f.State {
			continue
		}
		for _, l := range f.Labels {
			if !i.HasLabel(l) {
				continue next
			}
		}
		out = append(out, i)
	}
	return out, nil
}

func (s labelStore) CreateIssue(context.Context, store.Issue) (store.Issue, error) {
	return store.Issue{}, errors.New("not implemented")
}
func (s labelStore) GetIssue(context.Context, int) (store.Issue, error) {
	return store.Issue{}, store.ErrNotFound
}
func (s labelStore) UpdateIssue(context.Context, int, store.IssuePatch, int64) (store.Issue, error) {
	return store.Issue{}, errors.New("not implemented")
}
func (s labelStore) CreateComment(context.Context, int, string, string) (store.Comment, error) {
	return store.Comment{}, errors.New("not implemented")
}
func (s labelStore) ListComments(context.Context, int) ([]store.Comment, error) {
	return nil, nil
}

func item(number int, epic int, wave, state string, extra ...string) store.Issue {
	labels := append([]string{epicLabel(epic), waveLabel(wave)}, extra...)
	return store.Issue{Number: number, State: state, Labels: labels}
}

func TestParse(t *testing.T) {
	if n, special, err := Parse("3"); err != nil || special || n != 3 {
		t.Fatalf("Parse(3) = %d, %v, %v", n, special, err)
	}
	for _, s := range []string{Eval, Fix} {
		if _, special, err := Parse(s); err != nil || !special {
			t.Fatalf("Parse(%s): special=%v err=%v", s, special, err)
		}
	}
	for _, s := range []string{"0", "-1", "wave2", ""} {
		if _, _, err := Parse(s); !errors.Is(err, ErrInvalidWave) {
			t.Fatalf("Parse(%q): want ErrInvalidWave, got %v", s, err)
		}
	}
}

func TestFirstWaveAlwaysOpen(t *testing.T) {
	seq := Sequencer{Store: labelStore{}}
	if err := seq.CanEnter(context.Background(), 1, "1"); err != nil {
		t.Fatalf("wave 1 should always be enterable: %v", err)
	}
}

func TestWaveWaitsForPrior(t *testing.T) {
	ctx := context.Background()
	st := labelStore{issues: []store.Issue{
		item(10, 1, "1", "closed"),
		item(11, 1, "1", "open"),
		item(12, 1, "2", "open"),
	}}
	seq := Sequencer{Store: st}
	if err := seq.CanEnter(ctx, 1, "2"); !errors.Is(err, ErrWaveNotEligible) {
		t.Fatalf("wave 2 with open wave-1 item: want ErrWaveNotEligible, got %v", err)
	}

	// Completed label counts the same as closed.
	st.issues[1].Labels = append(st.issues[1].Labels, "completed")
	seq = Sequencer{Store: st}
	if err := seq.CanEnter(ctx, 1, "2"); err != nil {
		t.Fatalf("wave 2 after wave 1 done: %v", err)
	}
}

func TestSpecialWavesNeedAllNumberedDone(t *testing.T) {
	ctx := context.Background()
	st := labelStore{issues: []store.Issue{
		item(10, 1, "1", "closed"),
		item(11, 1, "2", "open"),
	}}
	seq := Sequencer{Store: st}
	for _, w := range []string{Eval, Fix} {
		if err := seq.CanEnter(ctx, 1, w); !errors.Is(err, ErrWaveNotEligible) {
			t.Fatalf("%s with open numbered item: want ErrWaveNotEligible, got %v", w, err)
		}
	}

	st.issues[1].State = "closed"
	seq = Sequencer{Store: st}
	if err := seq.CanEnter(ctx, 1, Eval); err != nil {
		t.Fatalf("eval after all numbered waves done: %v", err)
	}
}

func TestActiveWave(t *testing.T) {
	ctx := context.Background()
	st := labelStore{issues: []store.Issue{
		item(10, 1, "1", "closed"),
		item(11, 1, "2", "open"),
		item(12, 1, "3", "open"),
	}}
	seq := Sequencer{Store: st}
	active, err := seq.Active(ctx, 1)
	if err != nil || active != "2" {
		t.Fatalf("active = %q, %v, want 2", active, err)
	}

	st.issues[1].State = "closed"
	st.issues[2].State = "closed"
	seq = Sequencer{Store: st}
	active, err = seq.Active(ctx, 1)
	if err != nil || active != Eval {
		t.Fatalf("active = %q, %v, want eval", active, err)
	}
}
