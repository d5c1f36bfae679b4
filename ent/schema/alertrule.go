package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AlertRule holds the schema definition for a configured condition that
// produces an Alert when its threshold is crossed (budget, stale
// sandbox, coherence drop, queue depth).
type AlertRule struct {
	ent.Schema
}

// Fields of the AlertRule.
func (AlertRule) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("name").
			Unique(),
		field.String("scope").
			Comment("system, ticket, or agent"),
		field.String("condition").
			Comment("budget_warning, budget_exceeded, coherence_drop, stale_sandbox, queue_depth"),
		field.Float("threshold"),
		field.Bool("enabled").
			Default(true),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the AlertRule.
func (AlertRule) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("condition", "enabled"),
	}
}
