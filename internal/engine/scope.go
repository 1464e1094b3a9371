package engine

import (
	"context"
	"fmt"
	"strconv"

	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/marker"
	"waveline/internal/scope"
	"waveline/internal/store"
)

// DeclareScope records a work item's write-once resource claim and runs
// the advisory conflict scan against its active epic siblings. Overlaps
// never block; both sides get a conflict notification so the actors can
// coordinate. Repeated declarations are rejected.
func (e *Engine) DeclareScope(ctx context.Context, number int, actor string, claimed, excluded []string) ([]scope.Conflict, error) {
	if len(claimed) == 0 {
		return nil, fmt.Errorf("%w: scope block with no claimed resources", marker.ErrMalformedBlock)
	}
	issue, comments, st, err := e.load(ctx, number)
	if err != nil {
		return nil, err
	}
	if _, _, ok := scope.Declaration(comments); ok {
		return nil, fmt.Errorf("%w: #%d", scope.ErrAlreadyDeclared, number)
	}
	if !st.InProgressEquivalent() {
		return nil, fmt.Errorf("#%d is %s; claim it before declaring scope", number, st)
	}

	body := marker.RenderScope(marker.Scope{Claimed: claimed, Excluded: excluded})
	if _, err := e.Store.CreateComment(ctx, number, actor, body); err != nil {
		return nil, err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	if err := e.record(ctx, "scope.declared", epic, "item", strconv.Itoa(number), actor, events.EventPayload{"claimed": claimed, "excluded": excluded}); err != nil {
		return nil, err
	}

	conflicts, err := e.scanConflicts(ctx, issue, claimed, actor)
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// scanConflicts compares a fresh declaration against every active
// sibling's declaration and posts a conflict marker on BOTH items. The
// two posts are independent single-issue writes; there is no cross-issue
// transaction, so a failure after the first leaves a one-sided notice
// the next scan repairs.
func (e *Engine) scanConflicts(ctx context.Context, issue store.Issue, claimed []string, actor string) ([]scope.Conflict, error) {
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	if epic == 0 {
		return nil, nil
	}
	siblings, err := e.activeDeclarations(ctx, epic, issue.Number)
	if err != nil {
		return nil, err
	}
	conflicts := scope.Detect(issue.Number, claimed, siblings)
	for _, cf := range conflicts {
		mine := marker.RenderConflict(marker.Conflict{With: cf.Other, Resources: cf.Resources})
		if _, err := e.Store.CreateComment(ctx, issue.Number, e.Actor, mine); err != nil {
			return conflicts, err
		}
		theirs := marker.RenderConflict(marker.Conflict{With: issue.Number, Resources: cf.Resources})
		if _, err := e.Store.CreateComment(ctx, cf.Other, e.Actor, theirs); err != nil {
			return conflicts, err
		}
		payload := events.EventPayload{"with": cf.Other, "resources": cf.Resources}
		if err := e.record(ctx, "scope.conflict", epic, "item", strconv.Itoa(issue.Number), actor, payload); err != nil {
			return conflicts, err
		}
	}
	return conflicts, nil
}

// activeDeclarations collects the scope claims of every non-terminal,
// in-progress sibling in the epic, keyed by item number.
func (e *Engine) activeDeclarations(ctx context.Context, epic, except int) (map[int][]string, error) {
	issues, err := e.Store.ListIssues(ctx, store.IssueFilter{
		State:  "open",
		Labels: []string{domain.EpicLabelPrefix + strconv.Itoa(epic)},
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int][]string)
	for _, sib := range issues {
		if sib.Number == except || sib.HasLabel(domain.LabelEpic) {
			continue
		}
		comments, err := e.Store.ListComments(ctx, sib.Number)
		if err != nil {
			return nil, err
		}
		if !currentState(sib, comments).InProgressEquivalent() {
			continue
		}
		if decl, _, ok := scope.Declaration(comments); ok {
			out[sib.Number] = decl.Claimed
		}
	}
	return out, nil
}

// ResolveConflict records the same agreement on both conflicting items.
func (e *Engine) ResolveConflict(ctx context.Context, a, b int, agreement, actor string) error {
	if agreement == "" {
		return fmt.Errorf("a resolution needs the agreement text")
	}
	body := marker.RenderResolution(marker.Resolution{Items: []int{a, b}, Agreement: agreement})
	if _, err := e.Store.CreateComment(ctx, a, actor, body); err != nil {
		return err
	}
	if _, err := e.Store.CreateComment(ctx, b, actor, body); err != nil {
		return err
	}
	issue, err := e.Store.GetIssue(ctx, a)
	if err != nil {
		return err
	}
	epic, _ := strconv.Atoi(issue.LabelValue(domain.EpicLabelPrefix))
	return e.record(ctx, "scope.resolved", epic, "item", strconv.Itoa(a), actor, events.EventPayload{"with": b, "agreement": agreement})
}

// GetScope returns an item's declaration and unresolved conflicts.
func (e *Engine) GetScope(ctx context.Context, number int) (domain.ScopeDeclaration, []domain.ScopeConflict, error) {
	_, comments, _, err := e.load(ctx, number)
	if err != nil {
		return domain.ScopeDeclaration{}, nil, err
	}
	s, c, ok := scope.Declaration(comments)
	if !ok {
		return domain.ScopeDeclaration{}, nil, fmt.Errorf("%w: no scope declared on #%d", store.ErrNotFound, number)
	}
	decl := domain.ScopeDeclaration{
		Item:      number,
		ActorID:   c.ActorID,
		Claimed:   s.Claimed,
		Excluded:  s.Excluded,
		Sequence:  c.ID,
		CreatedAt: c.CreatedAt,
	}
	var conflicts []domain.ScopeConflict
	for _, other := range scope.UnresolvedConflicts(comments, number) {
		conflicts = append(conflicts, domain.ScopeConflict{Item: number, Other: other})
	}
	return decl, conflicts, nil
}
