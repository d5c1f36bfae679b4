package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ConductorAnalysis holds the schema definition for a system-wide
// coherence + duplicate-work judgement.
type ConductorAnalysis struct {
	ent.Schema
}

// Fields of the ConductorAnalysis.
func (ConductorAnalysis) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Float("coherence_score"),
		field.Enum("system_status").
			Values("no_agents", "critical", "warning", "inefficient", "optimal", "normal"),
		field.Int("agent_count"),
		field.Int("duplicate_count").
			Default(0),
		field.JSON("metrics", map[string]interface{}{}).
			Optional().
			Comment("analyzed_count (agents with a recent Guardian analysis) and coherence"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ConductorAnalysis.
func (ConductorAnalysis) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("coherence_score"),
		index.Fields("created_at"),
	}
}
