package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// CostRecord holds the schema definition for an immutable per-invocation
// cost record.
type CostRecord struct {
	ent.Schema
}

// Fields of the CostRecord.
func (CostRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("agent_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("sandbox_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("billing_account_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("provider").
			Immutable(),
		field.String("model").
			Immutable(),
		field.String("session_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Idempotency key component: (task, session_id, turn_index)"),
		field.Int("turn_index").
			Optional().
			Immutable(),
		field.Int("prompt_tokens").
			Immutable(),
		field.Int("completion_tokens").
			Immutable(),
		field.Int("total_tokens").
			Immutable(),
		field.Float("prompt_cost").
			Immutable(),
		field.Float("completion_cost").
			Immutable(),
		field.Float("total_cost").
			Immutable(),
		field.Time("recorded_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the CostRecord.
func (CostRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id"),
		index.Fields("agent_id"),
		index.Fields("task_id", "session_id", "turn_index").
			Unique(),
	}
}
