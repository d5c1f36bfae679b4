package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateIfNeeded_SmallPayloadPassesThrough(t *testing.T) {
	small, err := json.Marshal(map[string]interface{}{"event_type": TypeTaskAssigned, "event_id": "evt-1", "sequence": int64(1)})
	require.NoError(t, err)

	out, err := truncateIfNeeded(small)
	require.NoError(t, err)
	assert.Equal(t, string(small), out)
}

func TestTruncateIfNeeded_OversizedPayloadIsTruncated(t *testing.T) {
	payload := map[string]interface{}{
		"event_type": TypeTaskCompleted,
		"event_id":   "evt-2",
		"sequence":   int64(42),
		"result":     strings.Repeat("x", 9000),
	}
	big, err := json.Marshal(payload)
	require.NoError(t, err)
	require.Greater(t, len(big), 7900)

	out, err := truncateIfNeeded(big)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["truncated"])
	assert.Equal(t, TypeTaskCompleted, decoded["event_type"])
	assert.Equal(t, "evt-2", decoded["event_id"])
	assert.Equal(t, float64(42), decoded["sequence"])
	assert.NotContains(t, decoded, "result")
	assert.Less(t, len(out), len(big))
}

func TestInjectSequenceAndTruncate_AddsRoutingFields(t *testing.T) {
	payload, err := json.Marshal(map[string]interface{}{"event_type": TypeCostRecorded})
	require.NoError(t, err)

	out, err := injectSequenceAndTruncate(payload, "evt-3", 7)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "evt-3", decoded["event_id"])
	assert.Equal(t, float64(7), decoded["sequence"])
}

func TestChannelHelpers(t *testing.T) {
	assert.Equal(t, "conductor:ticket:abc", TicketChannel("abc"))
	assert.Equal(t, "conductor:sandbox:xyz", SandboxChannel("xyz"))
	assert.NotEqual(t, GlobalChannel, TicketChannel("abc"))
}
