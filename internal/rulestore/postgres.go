// Package rulestore implements core.RuleRepository, the one piece of
// learned state this system persists across restarts (Alerts/Groups stay
// process-local per spec.md's Non-goals). Two backends are provided,
// selected by internal/config's DeploymentProfile: Postgres for the
// "standard" profile, embedded SQLite for "lite" — grounded on the
// teacher's internal/database/postgres pgxpool idiom and its
// goose-driven internal/database/migrations.go, repurposed from the
// teacher's alert-history tables to this system's single `rules` table.
package rulestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/holmesproxy/alert-core/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRuleRepository persists Rules to PostgreSQL via pgx.
type PostgresRuleRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRuleRepository connects to dsn, runs pending migrations,
// and returns a ready repository.
func NewPostgresRuleRepository(ctx context.Context, dsn string) (*PostgresRuleRepository, error) {
	if err := migrate(dsn, "postgres"); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("rulestore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rulestore: ping: %w", err)
	}
	return &PostgresRuleRepository{pool: pool}, nil
}

func migrate(dsn, dialect string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("rulestore: open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("rulestore: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("rulestore: run migrations: %w", err)
	}
	return nil
}

var _ core.RuleRepository = (*PostgresRuleRepository)(nil)

// SaveRule upserts rule by ID.
func (r *PostgresRuleRepository) SaveRule(ctx context.Context, rule *core.Rule) error {
	predicate, err := json.Marshal(rule.Predicate)
	if err != nil {
		return fmt.Errorf("rulestore: marshal predicate: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rules (id, group_id, predicate, root_cause, category, verifications, failures, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			predicate = EXCLUDED.predicate,
			root_cause = EXCLUDED.root_cause,
			category = EXCLUDED.category,
			verifications = EXCLUDED.verifications,
			failures = EXCLUDED.failures,
			state = EXCLUDED.state`,
		rule.ID, rule.GroupID, predicate, rule.RootCause, string(rule.Category),
		rule.Verifications, rule.Failures, string(rule.State), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("rulestore: save rule %s: %w", rule.ID, err)
	}
	return nil
}

// ListRules returns every persisted Rule, most recently created first.
func (r *PostgresRuleRepository) ListRules(ctx context.Context) ([]*core.Rule, error) {
	rows, err := r.pool.Query(ctx, `
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*core.Rule, error) {
	var (
		rule          core.Rule
		predicateJSON string
		category      string
		state         string
	)
	if err := row.Scan(&rule.ID, &rule.GroupID, &predicateJSON, &rule.RootCause, &category,
		&rule.Verifications, &rule.Failures, &state, &rule.CreatedAt); err != nil {
		return nil, fmt.Errorf("rulestore: scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(predicateJSON), &rule.Predicate); err != nil {
		return nil, fmt.Errorf("rulestore: unmarshal predicate: %w", err)
	}
	rule.Category = core.Category(category)
	rule.State = core.RuleState(state)
	return &rule, nil
}

// DeleteRule removes a Rule by ID. A missing ID is a no-op.
func (r *PostgresRuleRepository) DeleteRule(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("rulestore: delete rule %s: %w", id, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRuleRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}
