package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GuardianAnalysis holds the schema definition for a per-agent LLM
// alignment/steering judgement.
type GuardianAnalysis struct {
	ent.Schema
}

// Fields of the GuardianAnalysis.
func (GuardianAnalysis) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.Bool("trajectory_aligned"),
		field.Float("alignment_score"),
		field.Bool("needs_steering"),
		field.String("steering_type").
			Optional().
			Nillable(),
		field.Text("steering_recommendation").
			Optional().
			Nillable(),
		field.Text("trajectory_summary").
			Optional(),
		field.Text("current_focus").
			Optional(),
		field.Int("conversation_length").
			Default(0),
		field.String("session_duration").
			Optional(),
		field.Bool("degraded").
			Default(false).
			Comment("True when the LLM call failed and this is a safe fallback record"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the GuardianAnalysis.
func (GuardianAnalysis) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "created_at"),
	}
}
