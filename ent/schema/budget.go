package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Budget holds the schema definition for a scoped spending limit.
type Budget struct {
	ent.Schema
}

// Fields of the Budget.
func (Budget) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Enum("scope_type").
			Values("global", "ticket", "agent", "phase").
			Immutable(),
		field.String("scope_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Null iff scope_type=global"),
		field.Float("limit_amount"),
		field.Float("spent_amount").
			Default(0),
		field.Float("remaining_amount").
			Comment("= limit - spent, clamped to >= 0"),
		field.Time("period_start").
			Default(time.Now),
		field.Time("period_end").
			Optional().
			Nillable().
			Comment("Nil = indefinite"),
		field.Float("alert_threshold").
			Default(0.8),
		field.Bool("alert_triggered").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Budget.
func (Budget) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("scope_type", "scope_id"),
	}
}
