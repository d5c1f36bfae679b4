package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// DetectedDuplicate holds the schema definition for a pair of agents in
// the same phase judged by the Conductor to be on the same task.
type DetectedDuplicate struct {
	ent.Schema
}

// Fields of the DetectedDuplicate.
func (DetectedDuplicate) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("conductor_analysis_id").
			Immutable(),
		field.String("agent_a_id").
			Immutable(),
		field.String("agent_b_id").
			Immutable(),
		field.Float("similarity_score"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the DetectedDuplicate.
func (DetectedDuplicate) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("conductor_analysis_id"),
	}
}
