// Package scope implements the scope registry semantics: write-once
// declarations and advisory overlap detection between sibling items.
package scope

import (
	"errors"
	"sort"

	"waveline/internal/marker"
	"waveline/internal/store"
)

// ErrAlreadyDeclared rejects a second declaration for the same item;
// declarations are write-once and expire only when the item closes.
var ErrAlreadyDeclared = errors.New("scope already declared")

// Conflict is an advisory overlap with one sibling work item.
type Conflict struct {
	Item      int      `json:"item"`
	Other     int      `json:"other"`
	Resources []string `json:"resources"`
}

// Overlap returns the sorted intersection of two resource lists.
func Overlap(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, r := range a {
		set[r] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, r := range b {
		if set[r] && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// Detect compares one item's claimed resources against its active
// siblings' claims. Overlaps never block anything; they only notify.
func Detect(item int, claimed []string, siblings map[int][]string) []Conflict {
	var conflicts []Conflict
	for other, theirs := range siblings {
		if other == item {
			continue
		}
		if shared := Overlap(claimed, theirs); len(shared) > 0 {
			conflicts = append(conflicts, Conflict{Item: item, Other: other, Resources: shared})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Other < conflicts[j].Other })
	return conflicts
}

// Declaration returns an item's scope declaration from its comment
// stream: the first scope block wins, later ones are ignored.
func Declaration(comments []store.Comment) (marker.Scope, *store.Comment, bool) {
	for i := range comments {
		if b, ok := marker.First(comments[i].Body, marker.KindScope); ok {
			if s, err := b.Scope(); err == nil {
				return s, &comments[i], true
			}
		}
	}
	return marker.Scope{}, nil, false
}

// ResolutionRecorded reports whether the comment stream carries a
// resolution block naming the given pair. A conflict counts as resolved
// only when both sides recorded the same pair (checked per side by the
// caller).
func ResolutionRecorded(comments []store.Comment, a, b int) bool {
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindResolution {
				continue
			}
			r, err := blk.Resolution()
			if err != nil {
				continue
			}
			if (r.Items[0] == a && r.Items[1] == b) || (r.Items[0] == b && r.Items[1] == a) {
				return true
			}
		}
	}
	return false
}

// UnresolvedConflicts returns the counterpart numbers of conflict
// notifications on this item that have no matching resolution yet.
func UnresolvedConflicts(comments []store.Comment, item int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range comments {
		for _, blk := range marker.Extract(c.Body) {
			if blk.Kind != marker.KindConflict {
				continue
			}
			cf, err := blk.Conflict()
			if err != nil || seen[cf.With] {
				continue
			}
			seen[cf.With] = true
			if !ResolutionRecorded(comments, item, cf.With) {
				out = append(out, cf.With)
			}
		}
	}
	sort.Ints(out)
	return out
}
