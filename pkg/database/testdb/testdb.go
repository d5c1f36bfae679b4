// Package testdb spins up a disposable PostgreSQL container for
// integration tests that need a real database/sql connection rather
// than a mock. Grounded on the teacher's test/util/database.go: one
// shared container per test binary, a fresh schema per test for
// isolation, dropped in t.Cleanup.
package testdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/r3e-conductor/conductor/pkg/config"
	"github.com/r3e-conductor/conductor/pkg/database"
)

var (
	shared        *config.DatabaseConfig
	containerOnce sync.Once
	containerErr  error
)

// New opens a database.Client against a fresh, uniquely-named schema
// inside a shared container (one container per test binary run,
// started lazily on first use). The schema is dropped and the client
// closed automatically when the test completes.
//
// Set CI_DATABASE_HOST/CI_DATABASE_PORT/CI_DATABASE_USER/
// CI_DATABASE_PASSWORD/CI_DATABASE_NAME to point at an
// already-running PostgreSQL instance instead (CI's own service
// container) and skip spawning one here.
func New(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	base := getOrCreateSharedDatabase(t)
	schema := generateSchemaName(t)

	admin := *base
	adminClient, err := database.NewClient(ctx, &admin)
	require.NoError(t, err)
	_, err = adminClient.DB().ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	require.NoError(t, adminClient.Close())

	cfg := base.WithSearchPath(schema)
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		dropClient, err := database.NewClient(cleanupCtx, base)
		if err == nil {
			if _, err := dropClient.DB().ExecContext(cleanupCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
				t.Logf("warning: failed to drop schema %s: %v", schema, err)
			}
			_ = dropClient.Close()
		}
		_ = client.Close()
	})

	return client
}

func getOrCreateSharedDatabase(t *testing.T) *config.DatabaseConfig {
	t.Helper()

	if host := os.Getenv("CI_DATABASE_HOST"); host != "" {
		return &config.DatabaseConfig{
			Host:            host,
			Port:            envIntOr("CI_DATABASE_PORT", 5432),
			User:            envOr("CI_DATABASE_USER", "test"),
			Password:        envOr("CI_DATABASE_PASSWORD", "test"),
			Database:        envOr("CI_DATABASE_NAME", "test"),
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: time.Hour,
		}
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container host: %w", err)
			return
		}
		mappedPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container port: %w", err)
			return
		}

		shared = &config.DatabaseConfig{
			Host:            host,
			Port:            mappedPort.Int(),
			User:            "test",
			Password:        "test",
			Database:        "test",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: time.Hour,
		}
	})

	require.NoError(t, containerErr, "failed to set up shared postgres test container")
	return shared
}

func generateSchemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	buf := make([]byte, 4)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(buf))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
