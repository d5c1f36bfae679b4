package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Agent holds the schema definition for the Agent entity: a logical
// worker, possibly backed by a long-lived process or an ephemeral
// sandbox-backed identity.
type Agent struct {
	ent.Schema
}

// Fields of the Agent.
func (Agent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("name").
			Comment("Human name: {type}-{phase-suffix}-{NNN}"),
		field.String("agent_type"),
		field.String("phase"),
		field.JSON("capabilities", []string{}).
			Optional().
			Comment("Normalized (trim+lowercase) capability strings"),
		field.Int("capacity").
			Default(1),
		field.Enum("status").
			Values("SPAWNING", "IDLE", "RUNNING", "DEGRADED", "TERMINATED", "QUARANTINED", "FAILED").
			Default("SPAWNING"),
		field.JSON("tags", []string{}).
			Optional(),
		field.Enum("health").
			Values("healthy", "degraded", "terminated").
			Default("healthy"),
		field.Time("last_heartbeat").
			Optional().
			Nillable(),
		field.Text("crypto_public_key").
			Optional().
			Nillable().
			Comment("PEM-encoded RSA-2048 public key; private key never persisted"),
		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Agent.
func (Agent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("agent_type", "phase"),
		index.Fields("last_heartbeat"),
	}
}
