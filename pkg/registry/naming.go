package registry

import (
	"context"
	"fmt"
	"strings"
)

// phaseSuffix derives the short tag used in an agent's human name from
// its phase, defaulting to the first three characters.
func phaseSuffix(phase string) string {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return "gen"
	}
	if len(p) > 3 {
		return p[:3]
	}
	return p
}

// nextName assigns the next {type}-{phase-suffix}-{NNN} human name for
// agentType within phase, where NNN is a 3-digit sequence counted
// against existing agents sharing the same type and phase.
func (r *Registry) nextName(ctx context.Context, agentType, phase string) (string, error) {
	prefix := fmt.Sprintf("%s-%s-", strings.ToLower(agentType), phaseSuffix(phase))

	existing, err := r.store.CountAgentsByPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("count existing agents for naming: %w", err)
	}
	return fmt.Sprintf("%s%03d", prefix, existing+1), nil
}
