package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientReturnsScriptedResponsesInOrder(t *testing.T) {
	c := NewFakeClient()
	c.AddSequential(ScriptEntry{Response: &Response{Content: "first"}})
	c.AddSequential(ScriptEntry{Response: &Response{Content: "second"}})

	r1, err := c.Generate(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Content)

	r2, err := c.Generate(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Content)

	assert.Len(t, c.Captured(), 2)
}

func TestFakeClientPropagatesScriptedError(t *testing.T) {
	c := NewFakeClient()
	c.AddSequential(ScriptEntry{Err: errors.New("boom")})

	_, err := c.Generate(context.Background(), Request{})
	require.Error(t, err)
}

func TestFakeClientExhaustedScriptErrors(t *testing.T) {
	c := NewFakeClient()
	_, err := c.Generate(context.Background(), Request{})
	require.Error(t, err)
}
