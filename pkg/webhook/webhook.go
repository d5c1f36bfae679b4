// Package webhook ingests VCS-host webhook deliveries: push events
// are scanned for ticket tokens and recorded as commit links,
// pull_request events close the loop by marking a merged PR's linked
// ticket done and completing its in-progress tasks. Signature
// verification and payload shapes follow the GitHub webhook contract
// (sha256=<hex hmac> over the raw body), but nothing here is
// GitHub-specific beyond field names also used by every other major
// host (branch, commits[].message, pull_request.merged).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/r3e-conductor/conductor/pkg/errs"
	"github.com/r3e-conductor/conductor/pkg/events"
	"github.com/r3e-conductor/conductor/pkg/store"
)

// ticketStore is the subset of *store.Store the webhook handler depends on.
type ticketStore interface {
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id, status string) error
	CreateCommitLink(ctx context.Context, c *store.CommitLink) (*store.CommitLink, error)
	CompleteTasksByTicket(ctx context.Context, ticketID, completedBy string) ([]*store.Task, error)
}

// Handler processes verified webhook deliveries.
type Handler struct {
	store     ticketStore
	publisher *events.Publisher
}

// New creates a webhook Handler.
func New(s ticketStore, publisher *events.Publisher) *Handler {
	return &Handler{store: s, publisher: publisher}
}

// VerifySignature reports whether signature (the raw
// "sha256=<hex>"-shaped header value) matches the HMAC-SHA256 of body
// under secret, using a constant-time comparison. An empty secret
// always fails closed: webhook ingestion must be explicitly
// configured, never silently unauthenticated.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(signature, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}

// ticketTokenRe matches the ticket-reference tokens spec §6 names:
// ticket-<uuid>, #<id>, TICKET-<id>.
var ticketTokenRe = regexp.MustCompile(
	`(?i)(?:ticket-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})|ticket-(\S+)|#([0-9a-f-]{8,}))`,
)

// ExtractTicketID returns the first ticket id referenced in text, or
// "" if none is found.
func ExtractTicketID(text string) string {
	m := ticketTokenRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// PushPayload is the subset of a VCS host's push-event payload the
// handler reads.
type PushPayload struct {
	Ref     string `json:"ref"`
	Repo    struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commits"`
}

// HandlePush scans every commit in the push for a ticket token and
// links matches to their ticket (spec §6 push handling). A commit
// whose message carries no recognizable token, or whose token does
// not resolve to an existing ticket, is skipped rather than treated
// as an error — most commits on a shared repo are not ticket work.
func (h *Handler) HandlePush(ctx context.Context, body []byte) (linked int, err error) {
	var p PushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("unmarshal push payload: %w", err)
	}

	branch := strings.TrimPrefix(p.Ref, "refs/heads/")

	for _, c := range p.Commits {
		ticketID := ExtractTicketID(c.Message)
		if ticketID == "" {
			continue
		}
		if _, err := h.store.GetTicket(ctx, ticketID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				slog.Warn("push webhook referenced unknown ticket", "ticket_id", ticketID, "sha", c.ID)
				continue
			}
			return linked, fmt.Errorf("resolve ticket %s: %w", ticketID, err)
		}

		link, err := h.store.CreateCommitLink(ctx, &store.CommitLink{
			TicketID: ticketID,
			SHA:      c.ID,
			Branch:   branch,
			Message:  c.Message,
			Author:   c.Author.Name,
			Repo:     p.Repo.FullName,
			URL:      c.URL,
		})
		if err != nil {
			return linked, fmt.Errorf("link commit %s: %w", c.ID, err)
		}
		linked++

		h.publish(ctx, events.TypeCommitLinked, events.TicketChannel(ticketID), map[string]interface{}{
			"ticket_id": ticketID,
			"sha":       link.SHA,
			"branch":    link.Branch,
		})
	}
	return linked, nil
}

// PullRequestPayload is the subset of a VCS host's pull_request-event
// payload the handler reads.
type PullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Merged bool   `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

// validPRActions are the pull_request actions spec §6 enumerates;
// anything else is ignored rather than erroring, since a host may
// deliver actions (labeled, review_requested, …) the control plane
// has no use for.
var validPRActions = map[string]bool{
	"opened": true, "closed": true, "synchronize": true, "reopened": true,
}

// HandlePullRequest resolves the ticket referenced by the PR's title,
// body, or head branch and, on a merge, marks it done and completes
// its in-progress tasks (spec §6). Non-merge actions make no state
// change: opened and reopened publish PR_OPENED, a closed-without-merge
// publishes PR_CLOSED, and synchronize publishes nothing — validator
// outcome, not PR lifecycle, is this control plane's source of truth
// for "is the work actually finished" outside of this explicit
// merge-completion shortcut.
func (h *Handler) HandlePullRequest(ctx context.Context, body []byte) error {
	var p PullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("unmarshal pull_request payload: %w", err)
	}
	if !validPRActions[p.Action] {
		return nil
	}

	ticketID := ExtractTicketID(p.PullRequest.Title)
	if ticketID == "" {
		ticketID = ExtractTicketID(p.PullRequest.Body)
	}
	if ticketID == "" {
		ticketID = ExtractTicketID(p.PullRequest.Head.Ref)
	}
	if ticketID == "" {
		return nil
	}
	if _, err := h.store.GetTicket(ctx, ticketID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			slog.Warn("pull_request webhook referenced unknown ticket", "ticket_id", ticketID, "pr", p.PullRequest.Number)
			return nil
		}
		return fmt.Errorf("resolve ticket %s: %w", ticketID, err)
	}

	payload := map[string]interface{}{
		"ticket_id": ticketID,
		"pr_number": p.PullRequest.Number,
	}

	switch {
	case p.Action == "closed" && p.PullRequest.Merged:
		if err := h.store.UpdateTicketStatus(ctx, ticketID, "done"); err != nil {
			return fmt.Errorf("mark ticket done on merge: %w", err)
		}
		completed, err := h.store.CompleteTasksByTicket(ctx, ticketID, "pr_merge")
		if err != nil {
			return fmt.Errorf("complete tasks on merge: %w", err)
		}
		payload["completed_tasks"] = len(completed)
		h.publish(ctx, events.TypePRMerged, events.TicketChannel(ticketID), payload)
		h.publish(ctx, events.TypeTicketStatusChanged, events.TicketChannel(ticketID), map[string]interface{}{
			"ticket_id": ticketID, "status": "done",
		})
	case p.Action == "closed":
		h.publish(ctx, events.TypePRClosed, events.TicketChannel(ticketID), payload)
	case p.Action == "opened" || p.Action == "reopened":
		h.publish(ctx, events.TypePROpened, events.TicketChannel(ticketID), payload)
	}
	return nil
}

func (h *Handler) publish(ctx context.Context, eventType, channel string, payload interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, eventType, channel, payload); err != nil {
		slog.Warn("failed to publish webhook event", "event_type", eventType, "error", err)
	}
}
