package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const commitLinkSelect = `
	SELECT id, ticket_id, sha, branch, message, author, repo, url, created_at
	FROM commit_links`

// CreateCommitLink inserts a commit a push webhook matched to a
// ticket by scanning its message for a ticket token. Idempotent on
// sha: a replayed webhook delivery for the same commit is a no-op
// rather than a duplicate row or an error, since VCS hosts retry
// webhook delivery on a non-2xx response.
func (s *Store) CreateCommitLink(ctx context.Context, c *CommitLink) (*CommitLink, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO commit_links (id, ticket_id, sha, branch, message, author, repo, url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (sha) DO UPDATE SET sha = commit_links.sha
		RETURNING id, ticket_id, sha, branch, message, author, repo, url, created_at`,
		c.ID, c.TicketID, c.SHA, c.Branch, c.Message, c.Author, c.Repo, c.URL,
	).Scan(&c.ID, &c.TicketID, &c.SHA, &c.Branch, &c.Message, &c.Author, &c.Repo, &c.URL, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert commit link: %w", err)
	}
	return c, nil
}

// GetCommitLinkBySHA fetches the ticket a commit was linked to, for
// GET /api/v1/commits/{sha}.
func (s *Store) GetCommitLinkBySHA(ctx context.Context, sha string) (*CommitLink, error) {
	row := s.db.QueryRowContext(ctx, commitLinkSelect+` WHERE sha = $1`, sha)
	return scanCommitLink(row)
}

// ListCommitLinksByTicket returns every commit linked to a ticket,
// newest first, for GET /api/v1/commits/ticket/{id}.
func (s *Store) ListCommitLinksByTicket(ctx context.Context, ticketID string) ([]*CommitLink, error) {
	rows, err := s.db.QueryContext(ctx, commitLinkSelect+` WHERE ticket_id = $1 ORDER BY created_at DESC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list commit links by ticket: %w", err)
	}
	defer rows.Close()

	var out []*CommitLink
	for rows.Next() {
		c, err := scanCommitLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCommitLink(row scannable) (*CommitLink, error) {
	var c CommitLink
	if err := row.Scan(&c.ID, &c.TicketID, &c.SHA, &c.Branch, &c.Message, &c.Author,
		&c.Repo, &c.URL, &c.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	return &c, nil
}

// CompleteTasksByTicket transitions every non-terminal task on a
// ticket to completed, stamping result.completed_by so downstream
// readers can tell a PR-merge auto-completion apart from a validated
// one (spec §6: "on merged -> mark linked ticket done, complete
// in-progress tasks with completed_by: pr_merge").
func (s *Store) CompleteTasksByTicket(ctx context.Context, ticketID, completedBy string) ([]*Task, error) {
	var completed []*Task
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, taskSelect+`
			WHERE ticket_id = $1
				AND status IN ('pending','assigned','running','pending_validation','needs_revision')
			FOR UPDATE OF t`, ticketID)
		if err != nil {
			return fmt.Errorf("list ticket tasks for pr-merge completion: %w", err)
		}
		tasks, err := scanTasks(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, t := range tasks {
			result := t.Result
			if result == nil {
				result = map[string]interface{}{}
			}
			result["completed_by"] = completedBy
			resultJSON, err := marshalMap(result)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status='completed', result=$1, completed_at=now(), updated_at=now()
				WHERE id=$2`, resultJSON, t.ID); err != nil {
				return fmt.Errorf("complete task %s for pr-merge: %w", t.ID, err)
			}
			t.Status = "completed"
			t.Result = result
			completed = append(completed, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}
