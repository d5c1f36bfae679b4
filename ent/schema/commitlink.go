package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// CommitLink holds the schema definition for a VCS commit the push
// webhook matched to a ticket via a ticket-token scan of its message
// (spec §6: "push (scan commits for ticket-<uuid> / #<id> / TICKET-<id>
// tokens and link)").
type CommitLink struct {
	ent.Schema
}

// Fields of the CommitLink.
func (CommitLink) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("ticket_id").
			Immutable(),
		field.String("sha").
			Immutable(),
		field.String("branch").
			Optional().
			Immutable(),
		field.String("message").
			Optional().
			Immutable(),
		field.String("author").
			Optional().
			Immutable(),
		field.String("repo").
			Optional().
			Immutable(),
		field.String("url").
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the CommitLink.
func (CommitLink) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("sha").
			Unique(),
		index.Fields("ticket_id"),
	}
}
