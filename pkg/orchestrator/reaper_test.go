package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/store"
)

type fakeReaperStore struct {
	timedOut      []*store.Task
	cancellable   []*store.Task
	tickets       map[string]*store.Ticket
	timeoutCalls  map[string]string
	cancelCalls   map[string]string
	markTimeoutFn func(id string) error
}

func newFakeReaperStore() *fakeReaperStore {
	return &fakeReaperStore{
		tickets:      make(map[string]*store.Ticket),
		timeoutCalls: make(map[string]string),
		cancelCalls:  make(map[string]string),
	}
}

func (f *fakeReaperStore) GetTimedOutTasks(context.Context, time.Time) ([]*store.Task, error) {
	return f.timedOut, nil
}

func (f *fakeReaperStore) MarkTaskTimeout(_ context.Context, id, reason string) error {
	if f.markTimeoutFn != nil {
		if err := f.markTimeoutFn(id); err != nil {
			return err
		}
	}
	f.timeoutCalls[id] = reason
	return nil
}

func (f *fakeReaperStore) GetCancellableTasks(context.Context) ([]*store.Task, error) {
	return f.cancellable, nil
}

func (f *fakeReaperStore) GetTicket(_ context.Context, id string) (*store.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, assertNotFoundReaper
	}
	return t, nil
}

func (f *fakeReaperStore) CancelTask(_ context.Context, id, reason string) error {
	f.cancelCalls[id] = reason
	return nil
}

var assertNotFoundReaper = &notFoundErrorReaper{}

type notFoundErrorReaper struct{}

func (e *notFoundErrorReaper) Error() string { return "not found" }

func TestReapTimedOutTasksMarksAndCounts(t *testing.T) {
	s := newFakeReaperStore()
	s.timedOut = []*store.Task{{ID: "t1", TicketID: "tick1"}}
	r := NewReaper(s, time.Minute, nil)

	require.NoError(t, r.reapTimedOutTasks(context.Background()))
	assert.Contains(t, s.timeoutCalls, "t1")

	_, reaped, orphaned := r.Stats()
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 0, orphaned)
}

func TestReapOrphanedTasksCancelsTasksUnderTerminalTicket(t *testing.T) {
	s := newFakeReaperStore()
	s.cancellable = []*store.Task{{ID: "t1", TicketID: "tick1"}, {ID: "t2", TicketID: "tick2"}}
	s.tickets["tick1"] = &store.Ticket{ID: "tick1", Status: "done"}
	s.tickets["tick2"] = &store.Ticket{ID: "tick2", Status: "pending"}
	r := NewReaper(s, time.Minute, nil)

	require.NoError(t, r.reapOrphanedTasks(context.Background()))
	assert.Contains(t, s.cancelCalls, "t1")
	assert.NotContains(t, s.cancelCalls, "t2")

	_, _, orphaned := r.Stats()
	assert.Equal(t, 1, orphaned)
}

func TestReapOrphanedTasksCancelsOnRejectedApprovalAndDeletedTicket(t *testing.T) {
	s := newFakeReaperStore()
	s.cancellable = []*store.Task{{ID: "t1", TicketID: "tick1"}, {ID: "t2", TicketID: "tick2"}}
	s.tickets["tick1"] = &store.Ticket{ID: "tick1", Status: "pending", ApprovalStatus: "rejected"}
	deleted := time.Now()
	s.tickets["tick2"] = &store.Ticket{ID: "tick2", Status: "pending", DeletedAt: &deleted}
	r := NewReaper(s, time.Minute, nil)

	require.NoError(t, r.reapOrphanedTasks(context.Background()))
	assert.Contains(t, s.cancelCalls, "t1")
	assert.Contains(t, s.cancelCalls, "t2")
}

func TestReapOrphanedTasksLeavesActiveTicketsAlone(t *testing.T) {
	s := newFakeReaperStore()
	s.cancellable = []*store.Task{{ID: "t1", TicketID: "tick1"}}
	s.tickets["tick1"] = &store.Ticket{ID: "tick1", Status: "in_progress", ApprovalStatus: "approved"}
	r := NewReaper(s, time.Minute, nil)

	require.NoError(t, r.reapOrphanedTasks(context.Background()))
	assert.Empty(t, s.cancelCalls)
}
