package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// SearchPath, when set, is sent as a run-time parameter on every
	// pooled connection. Used by integration tests to isolate each
	// test run in its own schema within a shared database.
	SearchPath string `yaml:"-"`
}

// WithSearchPath returns a copy of c scoped to the given PostgreSQL
// schema via the connection-level search_path parameter.
func (c *DatabaseConfig) WithSearchPath(schema string) *DatabaseConfig {
	cp := *c
	cp.SearchPath = schema
	return &cp
}

// DefaultDatabaseConfig returns the built-in database defaults. Host,
// user, password, and database name are always expected to be
// overridden by environment variables in any real deployment.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "conductor",
		Database:        "conductor",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DSN builds the libpq-style connection string shared by the pooled
// database/sql connection (pkg/database.NewClient) and the dedicated
// LISTEN connection (pkg/events.Listener), so the two never drift.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if c.SearchPath != "" {
		dsn += fmt.Sprintf(" search_path=%s", c.SearchPath)
	}
	return dsn
}
