package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SteeringIntervention holds the schema definition for a recommended or
// applied nudge to a single agent, produced by the Guardian.
type SteeringIntervention struct {
	ent.Schema
}

// Fields of the SteeringIntervention.
func (SteeringIntervention) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("guardian_analysis_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("steering_type").
			Immutable(),
		field.Text("recommendation").
			Immutable(),
		field.Bool("applied").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the SteeringIntervention.
func (SteeringIntervention) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "created_at"),
	}
}
