package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Ticket holds the schema definition for the Ticket entity: the
// user-visible unit of requested work that owns one or more Tasks.
type Ticket struct {
	ent.Schema
}

// Fields of the Ticket.
func (Ticket) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("title"),
		field.Text("description").
			Optional(),
		field.String("phase").
			Comment("Phase tag used to match tasks to capable agents"),
		field.Enum("status").
			Values("pending", "building", "done", "blocked", "failed").
			Default("pending"),
		field.Enum("priority").
			Values("CRITICAL", "HIGH", "MEDIUM", "LOW").
			Default("MEDIUM"),
		field.String("project_id").
			Optional().
			Nillable(),
		field.String("owning_user_id").
			Optional().
			Nillable(),
		field.JSON("context", map[string]interface{}{}).
			Optional().
			Comment("Free-form context map"),
		field.Enum("approval_status").
			Values("pending_review", "approved", "rejected", "timed_out").
			Default("approved").
			Comment("A ticket whose approval_status is not approved never yields runnable tasks"),
		field.Time("approval_deadline").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Set by the retention sweep; a soft-deleted ticket is excluded from every query but the cleanup job's own"),
	}
}

// Indexes of the Ticket.
func (Ticket) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("approval_status"),
		index.Fields("project_id"),
		index.Fields("deleted_at"),
	}
}
