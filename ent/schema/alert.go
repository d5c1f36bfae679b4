package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Alert holds the schema definition for a single firing of an
// AlertRule, tracked through acknowledgement and resolution.
type Alert struct {
	ent.Schema
}

// Fields of the Alert.
func (Alert) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("rule_id").
			Immutable(),
		field.Enum("status").
			Values("triggered", "acknowledged", "resolved").
			Default("triggered"),
		field.Text("message").
			Immutable(),
		field.JSON("context", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.String("acknowledged_by").
			Optional().
			Nillable(),
		field.Time("acknowledged_at").
			Optional().
			Nillable(),
		field.String("resolved_by").
			Optional().
			Nillable(),
		field.Time("resolved_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Alert.
func (Alert) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "created_at"),
		index.Fields("rule_id"),
	}
}
