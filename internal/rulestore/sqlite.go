package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/holmesproxy/alert-core/internal/core"
)

// SQLiteRuleRepository persists Rules to an embedded SQLite file, used
// under the "lite" deployment profile where no external database is
// available. The underlying driver is picked at compile time by
// sqlite_modernc.go (default, pure Go) or sqlite_cgo.go (build tag
// cgo_sqlite, mattn/go-sqlite3) — SPEC_FULL's dual-driver story:
// modernc when CGO is unavailable, mattn when it is and the faster
// native driver is preferred.
type SQLiteRuleRepository struct {
	db *sql.DB
}

// NewSQLiteRuleRepository opens (creating if necessary) the SQLite file
// at path and runs pending migrations.
func NewSQLiteRuleRepository(ctx context.Context, path string) (*SQLiteRuleRepository, error) {
	db, err := sql.Open(sqlDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("rulestore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers regardless of driver; avoid SQLITE_BUSY under concurrent callers

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("rulestore: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("rulestore: run migrations: %w", err)
	}

	return &SQLiteRuleRepository{db: db}, nil
}

var _ core.RuleRepository = (*SQLiteRuleRepository)(nil)

// SaveRule upserts rule by ID.
func (r *SQLiteRuleRepository) SaveRule(ctx context.Context, rule *core.Rule) error {
	predicate, err := json.Marshal(rule.Predicate)
	if err != nil {
		return fmt.Errorf("rulestore: marshal predicate: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rules (id, group_id, predicate, root_cause, category, verifications, failures, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			group_id = excluded.group_id,
			predicate = excluded.predicate,
			root_cause = excluded.root_cause,
			category = excluded.category,
			verifications = excluded.verifications,
			failures = excluded.failures,
			state = excluded.state`,
		rule.ID, rule.GroupID, string(predicate), rule.RootCause, string(rule.Category),
		rule.Verifications, rule.Failures, string(rule.State), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("rulestore: save rule %s: %w", rule.ID, err)
	}
	return nil
}

// ListRules returns every persisted Rule, most recently created first.
func (r *SQLiteRuleRepository) ListRules(ctx context.Context) ([]*core.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, predicate, root_cause, category, verifications, failures, state, created_at
		FROM rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: list rules: %w", err)
	}
	defer rows.Close()

	var out []*core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// DeleteRule removes a Rule by ID. A missing ID is a no-op.
func (r *SQLiteRuleRepository) DeleteRule(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("rulestore: delete rule %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (r *SQLiteRuleRepository) Close(ctx context.Context) error {
	return r.db.Close()
}
