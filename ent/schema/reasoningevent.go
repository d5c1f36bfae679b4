package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ReasoningEvent holds the schema definition for a single chain-of-work
// entry (thought, tool call, or observation) contributed by an agent,
// the raw material the trajectory context is assembled from.
type ReasoningEvent struct {
	ent.Schema
}

// Fields of the ReasoningEvent.
func (ReasoningEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("task_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("event_type").
			Immutable().
			Comment("thought, tool_call, observation, decision"),
		field.Text("content").
			Immutable(),
		field.Int64("sequence").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ReasoningEvent.
func (ReasoningEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "sequence"),
		index.Fields("task_id"),
	}
}
