package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists history entries in the autopilot_history table,
// metadata as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a history store over an open connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts an entry.
func (p *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO autopilot_history (id, occurred_at, event_type, rule_id, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := p.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, string(entry.Type), entry.RuleID, entry.Message, metadata)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns matching entries newest-first.
func (p *PostgresStore) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `SELECT id, occurred_at, event_type, rule_id, message, metadata
		FROM autopilot_history`

	var (
		conditions []string
		args       []interface{}
	)
	if filter.RuleID != uuid.Nil {
		args = append(args, filter.RuleID)
		conditions = append(conditions, "rule_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, "event_type = $"+strconv.Itoa(len(args)))
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		var (
			entry     Entry
			eventType string
			metadata  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &eventType,
			&entry.RuleID, &entry.Message, &metadata); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Type = EventType(eventType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		result = append(result, &entry)
	}
	return result, rows.Err()
}

// Prune removes the oldest entries beyond maxEntries.
func (p *PostgresStore) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries < 0 {
		maxEntries = 0
	}

	query := `
		DELETE FROM autopilot_history
		WHERE id IN (
			SELECT id FROM autopilot_history
			ORDER BY occurred_at DESC
			OFFSET $1
		)`

	res, err := p.db.ExecContext(ctx, query, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
