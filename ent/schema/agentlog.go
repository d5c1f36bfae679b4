package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentLog holds the schema definition for a single structured log
// line emitted by a running agent, surfaced in the sandbox log tail.
type AgentLog struct {
	ent.Schema
}

// Fields of the AgentLog.
func (AgentLog) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.Enum("level").
			Values("debug", "info", "warn", "error").
			Default("info").
			Immutable(),
		field.Text("message").
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the AgentLog.
func (AgentLog) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "created_at"),
	}
}
