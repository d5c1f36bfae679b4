package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptEntry is one scripted reply for FakeClient.
type ScriptEntry struct {
	Response *Response
	Err      error
}

// FakeClient is a deterministic, mutex-protected stand-in for Client
// used in tests: callers queue up responses with AddSequential and
// FakeClient hands them out in order, capturing every request it saw.
type FakeClient struct {
	mu       sync.Mutex
	script   []ScriptEntry
	index    int
	captured []Request
}

// NewFakeClient creates an empty FakeClient; callers add a script
// with AddSequential before using it.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// AddSequential appends one scripted reply, consumed in call order.
func (c *FakeClient) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, entry)
}

// Generate implements Client.
func (c *FakeClient) Generate(_ context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured = append(c.captured, req)

	if c.index >= len(c.script) {
		return nil, fmt.Errorf("fake llm client: no scripted response for call %d", c.index+1)
	}
	entry := c.script[c.index]
	c.index++
	if entry.Err != nil {
		return nil, entry.Err
	}
	return entry.Response, nil
}

// Captured returns every request this client has seen, in call order.
func (c *FakeClient) Captured() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.captured))
	copy(out, c.captured)
	return out
}
