package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGatewaySpawnAndTerminate(t *testing.T) {
	g := NewFakeGateway()
	id, err := g.SpawnForTask(context.Background(), SpawnRequest{TaskID: "t1", AgentType: "implementer"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, g.IsTerminated(id))

	require.NoError(t, g.TerminateSandbox(context.Background(), id))
	assert.True(t, g.IsTerminated(id))
}

func TestFakeGatewaySpawnErrorScripted(t *testing.T) {
	g := NewFakeGateway()
	g.SetSpawnError(errors.New("capacity exhausted"))
	_, err := g.SpawnForTask(context.Background(), SpawnRequest{})
	require.Error(t, err)
}

func TestFakeGatewayTranscript(t *testing.T) {
	g := NewFakeGateway()
	g.SetTranscript("sb-1", "YmFzZTY0")
	transcript, ok, err := g.ExtractSessionTranscript(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "YmFzZTY0", transcript)

	_, ok, err = g.ExtractSessionTranscript(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFakeGatewaySendMessage(t *testing.T) {
	g := NewFakeGateway()
	require.NoError(t, g.SendMessage(context.Background(), "sb-1", "please continue", "steering"))
	assert.Equal(t, []string{"please continue"}, g.SentMessages("sb-1"))
}

func TestWorkEventsClassification(t *testing.T) {
	assert.True(t, WorkEvents[EventToolUse])
	assert.False(t, WorkEvents[EventHeartbeat])
}
