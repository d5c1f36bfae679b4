package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GuardianAction holds the schema definition for the append-only audit
// log of Guardian intervention actions (emergency cancel, capacity
// reallocation, priority override, reverts).
type GuardianAction struct {
	ent.Schema
}

// Fields of the GuardianAction.
func (GuardianAction) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("action_type").
			Immutable(),
		field.String("authority").
			Immutable().
			Comment("WORKER, WATCHDOG, MONITOR, or GUARDIAN"),
		field.String("initiated_by").
			Immutable(),
		field.Text("reason").
			Immutable(),
		field.Bool("manual").
			Default(false).
			Immutable(),
		field.Bool("executed").
			Immutable().
			Comment("False when a non-manual action ran while the global monitoring auto-steering toggle was off; there is no per-project setting"),
		field.Bool("reverted").
			Default(false),
		field.String("target_entity_type").
			Optional().
			Nillable().
			Immutable(),
		field.String("target_entity_id").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("before", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.JSON("after", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the GuardianAction.
func (GuardianAction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("target_entity_type", "target_entity_id"),
		index.Fields("created_at"),
	}
}
