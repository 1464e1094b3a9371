// Package repo is the bundled sqlite ticket store. It implements
// store.Client so the engine can run end-to-end without an external
// tracker, and doubles as the test backend.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"waveline/internal/store"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var _ store.Client = Repo{}

func (r Repo) CreateIssue(ctx context.Context, issue store.Issue) (store.Issue, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return store.Issue{}, err
	}
	defer tx.Rollback()

	now := r.now().UTC().Format(time.RFC3339)
	if issue.State == "" {
		issue.State = "open"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO issues(title,body,state,assignee,revision,created_at,updated_at) VALUES (?,?,?,?,1,?,?)`,
		issue.Title, nullable(issue.Body), issue.State, nullable(issue.Assignee), now, now)
	if err != nil {
		return store.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	number, err := res.LastInsertId()
	if err != nil {
		return store.Issue{}, err
	}
	for _, l := range dedupe(issue.Labels) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO issue_labels(issue_number,label) VALUES (?,?)`, number, l); err != nil {
			return store.Issue{}, fmt.Errorf("insert label: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Issue{}, err
	}
	return r.GetIssue(ctx, int(number))
}

func (r Repo) GetIssue(ctx context.Context, number int) (store.Issue, error) {
	var i store.Issue
	var body, assignee, closedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT number,title,body,state,assignee,revision,created_at,updated_at,closed_at FROM issues WHERE number=?`, number).
		Scan(&i.Number, &i.Title, &body, &i.State, &assignee, &i.Revision, &i.CreatedAt, &i.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return i, store.ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if body.Valid {
		i.Body = body.String
	}
	if assignee.Valid {
		i.Assignee = assignee.String
	}
	if closedAt.Valid {
		i.ClosedAt = &closedAt.String
	}
	i.Labels, err = r.issueLabels(ctx, number)
	return i, err
}

func (r Repo) issueLabels(ctx context.Context, number int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT label FROM issue_labels WHERE issue_number=? ORDER BY label`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// UpdateIssue applies the patch iff revision still matches; the revision
// bumps by one on success. Label mutations ride the same transaction so
// a concurrent writer can never observe a half-applied update.
func (r Repo) UpdateIssue(ctx context.Context, number int, patch store.IssuePatch, expectedRevision int64) (store.Issue, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return store.Issue{}, err
	}
	defer tx.Rollback()

	now := r.now().UTC().Format(time.RFC3339)
	fields := []string{"revision=revision+1", "updated_at=?"}
	args := []any{now}
	if patch.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *patch.Title)
	}
	if patch.Body != nil {
		fields = append(fields, "body=?")
		args = append(args, nullable(*patch.Body))
	}
	if patch.Assignee != nil {
		fields = append(fields, "assignee=?")
		args = append(args, nullable(*patch.Assignee))
	}
	if patch.State != nil {
		fields = append(fields, "state=?")
		args = append(args, *patch.State)
		if *patch.State == "closed" {
			fields = append(fields, "closed_at=?")
			args = append(args, now)
		} else {
			fields = append(fields, "closed_at=NULL")
		}
	}
	args = append(args, number, expectedRevision)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE issues SET %s WHERE number=? AND revision=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return store.Issue{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE number=?`, number).Scan(&exists); err == sql.ErrNoRows {
			return store.Issue{}, store.ErrNotFound
		}
		return store.Issue{}, store.ErrRevisionConflict
	}
	for _, l := range patch.RemoveLabels {
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_number=? AND label=?`, number, l); err != nil {
			return store.Issue{}, err
		}
	}
	for _, l := range dedupe(patch.AddLabels) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO issue_labels(issue_number,label) VALUES (?,?)`, number, l); err != nil {
			return store.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Issue{}, err
	}
	return r.GetIssue(ctx, number)
}

func (r Repo) ListIssues(ctx context.Context, f store.IssueFilter) ([]store.Issue, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	for _, l := range f.Labels {
		clauses = append(clauses, "number IN (SELECT issue_number FROM issue_labels WHERE label=?)")
		args = append(args, l)
	}
	query := `SELECT number FROM issues WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY number ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []store.Issue
	for _, n := range numbers {
		issue, err := r.GetIssue(ctx, n)
		if err != nil {
			return nil, err
		}
		res = append(res, issue)
	}
	return res, nil
}

func (r Repo) CreateComment(ctx context.Context, number int, actorID, body string) (store.Comment, error) {
	if _, err := r.GetIssue(ctx, number); err != nil {
		return store.Comment{}, err
	}
	now := r.now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `INSERT INTO comments(issue_number,actor_id,body,created_at) VALUES (?,?,?,?)`,
		number, actorID, body, now)
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Comment{}, err
	}
	return store.Comment{ID: id, Issue: number, ActorID: actorID, Body: body, CreatedAt: now}, nil
}

func (r Repo) ListComments(ctx context.Context, number int) ([]store.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_number,actor_id,body,created_at FROM comments WHERE issue_number=? ORDER BY id ASC`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []store.Comment
	for rows.Next() {
		var c store.Comment
		if err := rows.Scan(&c.ID, &c.Issue, &c.ActorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
