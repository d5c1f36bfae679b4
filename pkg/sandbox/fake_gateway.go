package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeGateway is an in-memory Gateway used by orchestrator and idle
// monitor tests. It records spawn requests, terminated sandboxes and
// sent messages; SetSpawnError makes every spawn fail, and no other
// call can be made to fail.
type FakeGateway struct {
	mu sync.Mutex

	terminated    map[string]bool
	transcripts   map[string]string
	previewLinks  map[string]*PreviewLink
	sentMessages  map[string][]string
	spawnError    error
	terminateErrs map[string]error
	spawnRequests map[string]SpawnRequest
}

// NewFakeGateway creates an empty FakeGateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		terminated:    make(map[string]bool),
		transcripts:   make(map[string]string),
		previewLinks:  make(map[string]*PreviewLink),
		sentMessages:  make(map[string][]string),
		terminateErrs: make(map[string]error),
		spawnRequests: make(map[string]SpawnRequest),
	}
}

// SpawnedEnv returns the ExtraEnv a prior SpawnForTask call recorded
// for sandboxID, for tests that assert on what environment a spawn
// carried.
func (g *FakeGateway) SpawnedEnv(sandboxID string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spawnRequests[sandboxID].ExtraEnv
}

// SetSpawnError makes every subsequent SpawnForTask call fail with err.
func (g *FakeGateway) SetSpawnError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spawnError = err
}

// SetTranscript pre-seeds the transcript a sandbox will report.
func (g *FakeGateway) SetTranscript(sandboxID, transcriptB64 string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcripts[sandboxID] = transcriptB64
}

// IsTerminated reports whether TerminateSandbox was called for sandboxID.
func (g *FakeGateway) IsTerminated(sandboxID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated[sandboxID]
}

// SentMessages returns every message sent to sandboxID, in order.
func (g *FakeGateway) SentMessages(sandboxID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sentMessages[sandboxID]))
	copy(out, g.sentMessages[sandboxID])
	return out
}

func (g *FakeGateway) SpawnForTask(_ context.Context, req SpawnRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.spawnError != nil {
		return "", g.spawnError
	}
	id := uuid.NewString()
	g.spawnRequests[id] = req
	return id, nil
}

func (g *FakeGateway) TerminateSandbox(_ context.Context, sandboxID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.terminateErrs[sandboxID]; ok {
		return err
	}
	g.terminated[sandboxID] = true
	return nil
}

func (g *FakeGateway) ExtractSessionTranscript(_ context.Context, sandboxID string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transcripts[sandboxID]
	return t, ok, nil
}

func (g *FakeGateway) GetPreviewLink(_ context.Context, sandboxID string, port int) (*PreviewLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if link, ok := g.previewLinks[sandboxID]; ok {
		return link, nil
	}
	return &PreviewLink{URL: fmt.Sprintf("http://preview.local/%s:%d", sandboxID, port)}, nil
}

func (g *FakeGateway) SendMessage(_ context.Context, sandboxID, content, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sentMessages[sandboxID] = append(g.sentMessages[sandboxID], content)
	return nil
}
