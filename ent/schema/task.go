package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity: the unit the
// scheduler operates on. Always belongs to a Ticket.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("ticket_id").
			Immutable(),
		field.String("phase"),
		field.String("task_type").
			Comment("e.g. implement_feature, write_tests, validate"),
		field.String("title"),
		field.Text("description").
			Optional(),
		field.Enum("priority").
			Values("CRITICAL", "HIGH", "MEDIUM", "LOW").
			Default("MEDIUM"),
		field.Enum("status").
			Values("pending", "assigned", "running", "pending_validation", "needs_revision", "completed", "failed").
			Default("pending"),
		field.String("assigned_agent_id").
			Optional().
			Nillable(),
		field.String("sandbox_id").
			Optional().
			Nillable(),
		field.JSON("dependencies", map[string]interface{}{}).
			Optional().
			Comment(`{"depends_on": [task_id, ...]}`),
		field.Int("timeout_seconds").
			Default(3600),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.JSON("result", map[string]interface{}{}).
			Optional(),
		field.JSON("synthesis_context", map[string]interface{}{}).
			Optional(),
		field.Text("transcript_b64").
			Optional().
			Nillable().
			Comment("Base64 session transcript saved when a sandbox is reaped idle or otherwise torn down (spec §4.9 step 3)"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Set by the retention sweep; a soft-deleted task is excluded from every query but the cleanup job's own"),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("validation_reviews", ValidationReview.Type),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("ticket_id"),
		index.Fields("status"),
		index.Fields("status", "priority", "created_at"),
		index.Fields("sandbox_id"),
		index.Fields("assigned_agent_id"),
		index.Fields("deleted_at"),
	}
}
