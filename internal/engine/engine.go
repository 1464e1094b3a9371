// Package engine is the coordination core: it mediates every phase
// transition, scope declaration, verdict and checkpoint, with the
// external ticket store as the only shared state. The engine itself is
// stateless; everything it knows is derived from issue labels and the
// marker blocks in comment streams.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"waveline/internal/config"
	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/marker"
	"waveline/internal/phase"
	"waveline/internal/store"
	"waveline/internal/violation"
	"waveline/internal/wave"
)

var (
	ErrAlreadyClaimed = errors.New("item already claimed")
	ErrNotAnEpic      = errors.New("issue is not an epic")
	ErrNotAWorkItem   = errors.New("issue is not a work item")
	ErrUnrecoverable  = errors.New("item is flagged unrecoverable; post a corrected checkpoint first")
	ErrStaleState     = errors.New("stale state: item moved since it was read")

	// ErrTooManyConflicts means the bounded re-read/retry loop ran out of
	// attempts. Retries are immediate; the engine never sleeps between them.
	ErrTooManyConflicts = errors.New("gave up after repeated revision conflicts")
)

// Engine coordinates work items over a ticket store.
type Engine struct {
	Store store.Client
	// Events is optional; nil disables the audit log.
	Events      events.Recorder
	Actor       string
	MaxAttempts int
	Now         func() time.Time
}

// New builds an Engine from config.
func New(st store.Client, rec events.Recorder, cfg *config.Config) *Engine {
	e := &Engine{Store: st, Events: rec, Actor: "waveline", MaxAttempts: 5, Now: time.Now}
	if cfg != nil {
		if cfg.Engine.ActorID != "" {
			e.Actor = cfg.Engine.ActorID
		}
		if cfg.Engine.MaxWriteAttempts > 0 {
			e.MaxAttempts = cfg.Engine.MaxWriteAttempts
		}
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) attempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return 5
}

func (e *Engine) sequencer() wave.Sequencer {
	return wave.Sequencer{Store: e.Store}
}

func (e *Engine) record(ctx context.Context, evtType string, epic int, entityKind, entityID, actorID string, payload events.EventPayload) error {
	if e.Events == nil {
		return nil
	}
	epicStr := ""
	if epic > 0 {
		epicStr = strconv.Itoa(epic)
	}
	return e.Events.Append(ctx, evtType, epicStr, entityKind, entityID, actorID, payload)
}

// currentState derives a work item's phase from its comment stream: the
// last transition block wins. Items with no history are ready; closed
// or completed-labelled items are completed regardless of history.
func currentState(issue store.Issue, comments []store.Comment) phase.State {
	if issue.State == "closed" || issue.HasLabel(domain.LabelCompleted) {
		return phase.Completed
	}
	for i := len(comments) - 1; i >= 0; i-- {
		for _, blk := range marker.Extract(comments[i].Body) {
			if blk.Kind != marker.KindTransition {
				continue
			}
			t, err := blk.Transition()
			if err != nil {
				continue
			}
			if st, err := phase.Parse(t.To); err == nil {
				return st
			}
		}
	}
	return phase.Ready
}

func itemFrom(issue store.Issue, st phase.State) domain.WorkItem {
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	return domain.WorkItem{
		Number:    issue.Number,
		Title:     issue.Title,
		Body:      issue.Body,
		State:     issue.State,
		Phase:     string(st),
		Labels:    issue.Labels,
		Assignee:  issue.Assignee,
		Epic:      epic,
		Wave:      issue.LabelValue(domain.WaveLabelPrefix),
		Revision:  issue.Revision,
		CreatedAt: issue.CreatedAt,
		UpdatedAt: issue.UpdatedAt,
		ClosedAt:  issue.ClosedAt,
	}
}

// load fetches an issue together with its comment stream and derived state.
func (e *Engine) load(ctx context.Context, number int) (store.Issue, []store.Comment, phase.State, error) {
	issue, err := e.Store.GetIssue(ctx, number)
	if err != nil {
		return store.Issue{}, nil, "", err
	}
	comments, err := e.Store.ListComments(ctx, number)
	if err != nil {
		return store.Issue{}, nil, "", err
	}
	return issue, comments, currentState(issue, comments), nil
}

// CreateEpic opens an epic issue carrying its wave plan in the body.
func (e *Engine) CreateEpic(ctx context.Context, title, body string, waves int, actor string) (domain.Epic, error) {
	if waves < 1 {
		return domain.Epic{}, fmt.Errorf("an epic needs at least one wave, got %d", waves)
	}
	if body != "" {
		body += "\n\n"
	}
	body += marker.RenderEpicPlan(marker.EpicPlan{Waves: waves})
	issue, err := e.Store.CreateIssue(ctx, store.Issue{
		Title:  title,
		Body:   body,
		State:  "open",
		Labels: []string{domain.LabelEpic},
	})
	if err != nil {
		return domain.Epic{}, err
	}
	ep := domain.Epic{Number: issue.Number, Title: issue.Title, Waves: waves, ActiveWave: "1", CreatedAt: issue.CreatedAt}
	if err := e.record(ctx, "epic.created", issue.Number, "epic", strconv.Itoa(issue.Number), actor, events.EventPayload{"title": title, "waves": waves}); err != nil {
		return ep, err
	}
	return ep, nil
}

// GetEpic loads an epic and computes its active wave.
func (e *Engine) GetEpic(ctx context.Context, number int) (domain.Epic, error) {
	issue, err := e.Store.GetIssue(ctx, number)
	if err != nil {
		return domain.Epic{}, err
	}
	if !issue.HasLabel(domain.LabelEpic) {
		return domain.Epic{}, fmt.Errorf("%w: #%d", ErrNotAnEpic, number)
	}
	ep := domain.Epic{Number: issue.Number, Title: issue.Title, CreatedAt: issue.CreatedAt}
	if blk, ok := marker.First(issue.Body, marker.KindEpic); ok {
		if plan, err := blk.EpicPlan(); err == nil {
			ep.Waves = plan.Waves
		}
	}
	active, err := e.sequencer().Active(ctx, number)
	if err != nil {
		return domain.Epic{}, err
	}
	ep.ActiveWave = active
	return ep, nil
}

// WaveStatus reports per-wave progress for an epic: each planned
// numbered wave, then eval and fix, with item counts and whether the
// wave is eligible for new in-progress work.
func (e *Engine) WaveStatus(ctx context.Context, number int) ([]domain.WaveStatus, error) {
	ep, err := e.GetEpic(ctx, number)
	if err != nil {
		return nil, err
	}
	issues, err := e.Store.ListIssues(ctx, store.IssueFilter{Labels: []string{domain.EpicLabelPrefix + strconv.Itoa(number)}})
	if err != nil {
		return nil, err
	}
	total := map[string]int{}
	done := map[string]int{}
	for _, i := range issues {
		w := i.LabelValue(domain.WaveLabelPrefix)
		if w == "" {
			continue
		}
		total[w]++
		if i.State == "closed" || i.HasLabel(domain.LabelCompleted) {
			done[w]++
		}
	}
	names := make([]string, 0, ep.Waves+2)
	for n := 1; n <= ep.Waves; n++ {
		names = append(names, strconv.Itoa(n))
	}
	names = append(names, wave.Eval, wave.Fix)
	seq := e.sequencer()
	out := make([]domain.WaveStatus, 0, len(names))
	for _, w := range names {
		ws := domain.WaveStatus{Wave: w, Total: total[w], Done: done[w], Active: w == ep.ActiveWave}
		switch err := seq.CanEnter(ctx, number, w); {
		case err == nil:
			ws.Eligible = true
		case errors.Is(err, wave.ErrWaveNotEligible):
		default:
			return nil, err
		}
		out = append(out, ws)
	}
	return out, nil
}

// ListEpics returns all open epics.
func (e *Engine) ListEpics(ctx context.Context) ([]domain.Epic, error) {
	issues, err := e.Store.ListIssues(ctx, store.IssueFilter{Labels: []string{domain.LabelEpic}})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Epic, 0, len(issues))
	for _, issue := range issues {
		ep := domain.Epic{Number: issue.Number, Title: issue.Title, CreatedAt: issue.CreatedAt}
		if blk, ok := marker.First(issue.Body, marker.KindEpic); ok {
			if plan, err := blk.EpicPlan(); err == nil {
				ep.Waves = plan.Waves
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

// CreateItemInput carries the fields for a new work item.
type CreateItemInput struct {
	Epic  int
	Wave  string
	Title string
	Body  string
	Actor string
}

// CreateItem opens a ready work item inside an epic's wave.
func (e *Engine) CreateItem(ctx context.Context, in CreateItemInput) (domain.WorkItem, error) {
	ep, err := e.GetEpic(ctx, in.Epic)
	if err != nil {
		return domain.WorkItem{}, err
	}
	n, special, err := wave.Parse(in.Wave)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !special && n > ep.Waves {
		return domain.WorkItem{}, fmt.Errorf("%w: epic #%d plans %d waves, got wave %s", wave.ErrInvalidWave, in.Epic, ep.Waves, in.Wave)
	}
	issue, err := e.Store.CreateIssue(ctx, store.Issue{
		Title: in.Title,
		Body:  in.Body,
		State: "open",
		Labels: []string{
			domain.LabelReady,
			domain.EpicLabelPrefix + strconv.Itoa(in.Epic),
			domain.WaveLabelPrefix + in.Wave,
		},
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	item := itemFrom(issue, phase.Ready)
	if err := e.record(ctx, "item.created", in.Epic, "item", strconv.Itoa(issue.Number), in.Actor, events.EventPayload{"wave": in.Wave, "title": in.Title}); err != nil {
		return item, err
	}
	return item, nil
}

// GetItem returns a work item with its derived phase.
func (e *Engine) GetItem(ctx context.Context, number int) (domain.WorkItem, error) {
	issue, _, st, err := e.load(ctx, number)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if issue.HasLabel(domain.LabelEpic) {
		return domain.WorkItem{}, fmt.Errorf("%w: #%d is an epic", ErrNotAWorkItem, number)
	}
	return itemFrom(issue, st), nil
}

// ListItems returns an epic's work items, optionally filtered by wave.
func (e *Engine) ListItems(ctx context.Context, epic int, waveFilter string) ([]domain.WorkItem, error) {
	labels := []string{domain.EpicLabelPrefix + strconv.Itoa(epic)}
	if waveFilter != "" {
		labels = append(labels, domain.WaveLabelPrefix+waveFilter)
	}
	issues, err := e.Store.ListIssues(ctx, store.IssueFilter{Labels: labels})
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkItem, 0, len(issues))
	for _, issue := range issues {
		comments, err := e.Store.ListComments(ctx, issue.Number)
		if err != nil {
			return nil, err
		}
		out = append(out, itemFrom(issue, currentState(issue, comments)))
	}
	return out, nil
}

// Claim assigns a ready item to an actor. Under contention exactly one
// claimant wins: the write is conditional on the revision read, and a
// losing writer re-reads, sees the assignee, and gets ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, number int, actor string) (domain.WorkItem, error) {
	for attempt := 0; attempt < e.attempts(); attempt++ {
		issue, comments, st, err := e.load(ctx, number)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if st != phase.Ready || issue.Assignee != "" {
			return domain.WorkItem{}, fmt.Errorf("%w: #%d is %s (assignee %q)", ErrAlreadyClaimed, number, st, issue.Assignee)
		}
		epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
		w := issue.LabelValue(domain.WaveLabelPrefix)
		if epic > 0 && w != "" {
			if err := e.sequencer().CanEnter(ctx, epic, w); err != nil {
				return domain.WorkItem{}, err
			}
		}
		if err := violation.Replay(comments).CheckBlocked(); err != nil {
			return domain.WorkItem{}, err
		}
		updated, err := e.Store.UpdateIssue(ctx, number, store.IssuePatch{
			Assignee:     store.StrPtr(actor),
			AddLabels:    phase.Claimed.Labels(),
			RemoveLabels: phase.AllStateLabels(),
		}, issue.Revision)
		if errors.Is(err, store.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return domain.WorkItem{}, err
		}
		body := marker.RenderTransition(marker.Transition{From: string(phase.Ready), To: string(phase.Claimed), Actor: actor})
		if _, err := e.Store.CreateComment(ctx, number, e.Actor, body); err != nil {
			return domain.WorkItem{}, err
		}
		if err := e.record(ctx, "item.claimed", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"wave": w}); err != nil {
			return domain.WorkItem{}, err
		}
		return itemFrom(updated, phase.Claimed), nil
	}
	return domain.WorkItem{}, fmt.Errorf("%w: claiming #%d", ErrTooManyConflicts, number)
}
