package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// EmbeddingVector holds the schema definition for a monitoring
// embedding attached to an arbitrary entity (ticket, task, or agent
// trajectory). The table and index are declared for forward
// compatibility with a semantic-search monitoring surface; no
// embedding provider is wired against it in this build.
type EmbeddingVector struct {
	ent.Schema
}

// Fields of the EmbeddingVector.
func (EmbeddingVector) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("entity_type").
			Immutable(),
		field.String("entity_id").
			Immutable(),
		field.Bytes("vector").
			Immutable().
			Comment("1536-dim float32 vector, stored as a little-endian byte slice"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the EmbeddingVector.
func (EmbeddingVector) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("entity_type", "entity_id").
			Unique(),
	}
}
