package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists failover rules in PostgreSQL. The chain and
// stabilization map are stored as JSONB; optimistic concurrency is a
// version column checked in the UPDATE's WHERE clause.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a rule repository over an open connection.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, account_id, name, priority_chain, active_url, enabled,
	stabilization, last_check, last_failover, cooldown_ms, version, created_at, updated_at`

// Create inserts a new rule.
func (p *PostgresRepository) Create(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Version == 0 {
		rule.Version = 1
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	chain, stab, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO failover_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = p.db.ExecContext(ctx, query,
		rule.ID, rule.AccountID, rule.Name, chain, nullString(rule.ActiveURL),
		rule.Enabled, stab, nullTime(rule.LastCheck), nullTime(rule.LastFailover),
		rule.Cooldown.Milliseconds(), rule.Version, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Get returns the rule with the given id.
func (p *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM failover_rules WHERE id = $1`
	rule, err := scanRule(p.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rule: %w", err)
	}
	return rule, nil
}

// ListEnabled returns all rules with automated evaluation switched on.
func (p *PostgresRepository) ListEnabled(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM failover_rules
		WHERE enabled = TRUE ORDER BY account_id, id`
	return p.list(ctx, query)
}

// ListByAccount returns all rules owned by an account.
func (p *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM failover_rules
		WHERE account_id = $1 ORDER BY id`
	return p.list(ctx, query, accountID)
}

func (p *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// Update performs a compare-and-swap write keyed on the version the
// caller read. Zero rows affected means a concurrent commit won.
func (p *PostgresRepository) Update(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	chain, stab, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE failover_rules
		SET name = $1, priority_chain = $2, active_url = $3, enabled = $4,
			stabilization = $5, last_check = $6, last_failover = $7,
			cooldown_ms = $8, version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`

	res, err := p.db.ExecContext(ctx, query,
		rule.Name, chain, nullString(rule.ActiveURL), rule.Enabled, stab,
		nullTime(rule.LastCheck), nullTime(rule.LastFailover),
		rule.Cooldown.Milliseconds(), rule.ID, rule.Version)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if affected == 0 {
		// Distinguish a stale version from a deleted rule.
		if _, err := p.Get(ctx, rule.ID); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrCommitConflict
	}

	rule.Version++
	return nil
}

// Delete removes a rule.
func (p *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM failover_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalRuleJSON(rule *Rule) (chain, stab []byte, err error) {
	chain, err = json.Marshal(rule.PriorityChain)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal chain: %w", err)
	}
	scores := rule.Stabilization
	if scores == nil {
		scores = map[string]int64{}
	}
	stab, err = json.Marshal(scores)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal stabilization: %w", err)
	}
	return chain, stab, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule         Rule
		chain        []byte
		stab         []byte
		activeURL    sql.NullString
		lastCheck    sql.NullTime
		lastFailover sql.NullTime
		cooldownMs   int64
	)

	err := row.Scan(&rule.ID, &rule.AccountID, &rule.Name, &chain, &activeURL,
		&rule.Enabled, &stab, &lastCheck, &lastFailover, &cooldownMs,
		&rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(chain, &rule.PriorityChain); err != nil {
		return nil, fmt.Errorf("unmarshal chain: %w", err)
	}
	if err := json.Unmarshal(stab, &rule.Stabilization); err != nil {
		return nil, fmt.Errorf("unmarshal stabilization: %w", err)
	}
	if activeURL.Valid {
		rule.ActiveURL = activeURL.String
	}
	if lastCheck.Valid {
		t := lastCheck.Time
		rule.LastCheck = &t
	}
	if lastFailover.Valid {
		t := lastFailover.Time
		rule.LastFailover = &t
	}
	rule.Cooldown = time.Duration(cooldownMs) * time.Millisecond

	return &rule, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
