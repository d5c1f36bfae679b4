// Package store is the persistence layer for every conductor entity.
// It runs hand-written SQL against the shared *sql.DB rather than a
// generated ent client, using entgo.io/ent's standalone dialect/sql
// builder only where a query is built dynamically (SearchAgents).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/r3e-conductor/conductor/pkg/database"
	"github.com/r3e-conductor/conductor/pkg/errs"
)

// Store wraps the pooled database connection and the query builder
// used by every repository method in this package.
type Store struct {
	db  *sql.DB
	drv *entsql.Driver
}

// New creates a Store backed by an already-migrated database.Client.
func New(client *database.Client) *Store {
	return &Store{db: client.DB(), drv: client.Drv}
}

// DB exposes the raw connection for callers (pkg/events) that need
// transactional control this package's higher-level methods do not
// expose.
func (s *Store) DB() *sql.DB {
	return s.db
}

// querier is satisfied by both *sql.DB/*sql.Tx and lets repository
// helpers run either standalone or inside a caller-managed
// transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back otherwise. Used by callers that must atomically update
// several rows (e.g. applying spend to a budget, or moving capacity
// between two agents).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// noRows translates sql.ErrNoRows into the package-wide not-found
// sentinel so callers only ever check errs.ErrNotFound.
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}
