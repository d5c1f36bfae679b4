package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ValidationReview holds the schema definition for a single validator
// pass/fail verdict against a task's completed work, one row per
// iteration of the validator retry loop.
type ValidationReview struct {
	ent.Schema
}

// Fields of the ValidationReview.
func (ValidationReview) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("iteration_number").
			Immutable(),
		field.Bool("passed").
			Immutable(),
		field.Text("feedback").
			Optional().
			Immutable(),
		field.JSON("evidence", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Strings("recommendations").
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ValidationReview.
func (ValidationReview) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "iteration_number").
			Unique(),
	}
}
