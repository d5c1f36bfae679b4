package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SandboxEvent holds the schema definition for a single lifecycle or
// progress event raised by a sandbox, persisted for catch-up delivery
// to WebSocket subscribers that reconnect after a gap.
type SandboxEvent struct {
	ent.Schema
}

// Fields of the SandboxEvent.
func (SandboxEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("sandbox_id").
			Immutable(),
		field.String("task_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("event_type").
			Immutable().
			Comment("one of the agent.* event names: started, progress, tool_call, log, result, error, heartbeat"),
		field.JSON("payload", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Int64("sequence").
			Immutable().
			Comment("monotonic per sandbox_id, used for catch-up ordering"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the SandboxEvent.
func (SandboxEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("sandbox_id", "sequence").
			Unique(),
		index.Fields("task_id"),
	}
}
