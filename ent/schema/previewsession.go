package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PreviewSession holds the schema definition for a short-lived,
// token-gated link into a sandbox's exposed preview port.
type PreviewSession struct {
	ent.Schema
}

// Fields of the PreviewSession.
func (PreviewSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("sandbox_id").
			Immutable(),
		field.Int("port").
			Immutable(),
		field.String("url").
			Immutable(),
		field.String("token").
			Unique().
			Immutable(),
		field.Time("expires_at").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the PreviewSession.
func (PreviewSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("token"),
		index.Fields("sandbox_id"),
	}
}
