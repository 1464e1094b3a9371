// Package store defines the narrow ticket-store capability set the
// coordination engine consumes. Implementations: the bundled sqlite
// tracker (internal/repo) and the GitHub adapter (internal/store/github).
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrRevisionConflict is returned by UpdateIssue when the issue's
	// revision changed since the caller read it. Callers re-read and
	// retry; a conditional write is never silently overwritten.
	ErrRevisionConflict = errors.New("revision conflict")
)

// Issue is a ticket as the store sees it.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	State     string   `json:"state" enum:"open,closed"`
	Labels    []string `json:"labels,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Revision  int64    `json:"revision"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
	ClosedAt  *string  `json:"closed_at,omitempty" format:"date-time"`
}

// Comment is one entry in an issue's conversation.
type Comment struct {
	ID        int64  `json:"id"`
	Issue     int    `json:"issue"`
	ActorID   string `json:"actor_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// IssuePatch is a partial update. Nil fields are left untouched.
// Label changes are applied after field changes; removing a label the
// issue does not carry is not an error.
type IssuePatch struct {
	Title        *string
	Body         *string
	State        *string
	Assignee     *string
	AddLabels    []string
	RemoveLabels []string
}

// IssueFilter selects issues by state and/or labels (all must match).
type IssueFilter struct {
	State  string
	Labels []string
}

// Client is the consumed capability set of the external tracker. The
// engine never assumes transactional multi-issue writes; cross-issue
// consistency is two independent single-issue writes.
type Client interface {
	CreateIssue(ctx context.Context, issue Issue) (Issue, error)
	GetIssue(ctx context.Context, number int) (Issue, error)

	// UpdateIssue applies the patch only if the issue's revision still
	// equals expectedRevision, returning ErrRevisionConflict otherwise.
	UpdateIssue(ctx context.Context, number int, patch IssuePatch, expectedRevision int64) (Issue, error)

	ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error)

	CreateComment(ctx context.Context, number int, actorID, body string) (Comment, error)
	ListComments(ctx context.Context, number int) ([]Comment, error)
}

// HasLabel reports whether the issue carries the label.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelValue returns the value of the first label with the given prefix
// ("wave:" -> "2"), or "".
func (i Issue) LabelValue(prefix string) string {
	for _, l := range i.Labels {
		if len(l) > len(prefix) && l[:len(prefix)] == prefix {
			return l[len(prefix):]
		}
	}
	return ""
}

// StrPtr is a convenience for building patches.
func StrPtr(s string) *string { return &s }
