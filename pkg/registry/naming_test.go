package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-conductor/conductor/pkg/store"
)

func TestPhaseSuffix(t *testing.T) {
	assert.Equal(t, "gen", phaseSuffix(""))
	assert.Equal(t, "imp", phaseSuffix("implementation"))
	assert.Equal(t, "qa", phaseSuffix("qa"))
}

func TestNextNameIncrementsSequence(t *testing.T) {
	s := newMockAgentStore()
	r := New(s, nil)

	name1, err := r.nextName(context.Background(), "implementer", "implementation")
	require.NoError(t, err)
	assert.Equal(t, "implementer-imp-001", name1)

	s.agents["a1"] = &store.Agent{ID: "a1", Name: name1}

	name2, err := r.nextName(context.Background(), "implementer", "implementation")
	require.NoError(t, err)
	assert.Equal(t, "implementer-imp-002", name2)
}
