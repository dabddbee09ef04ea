package membase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists membase records in PostgreSQL. Collections map to
// rows in a single memory_records table with a JSONB payload; preferences
// live in user_preferences keyed (user_id, key).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Store(ctx context.Context, collection string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return &StorageError{Op: "store", Err: err}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO memory_records (collection, record)
		VALUES ($1, $2)`,
		collection, payload,
	)
	if err != nil {
		return &StorageError{Op: "store", Err: pqDetail(err)}
	}
	return nil
}

func (p *PostgresStore) QueryMemory(ctx context.Context, collection string, filters map[string]any, limit int) ([]Record, error) {
	query := `
		SELECT record FROM memory_records
		WHERE collection = $1`
	args := []any{collection}

	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, &StorageError{Op: "query", Err: err}
		}
		query += ` AND record @> $2`
		args = append(args, filterJSON)
	}

	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: pqDetail(err)}
	}
	defer func() { _ = rows.Close() }()

	var result []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &StorageError{Op: "query", Err: err}
		}
		var r Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, &StorageError{Op: "query", Err: fmt.Errorf("corrupt record: %w", err)}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	return result, nil
}

func (p *PostgresStore) GetUserPreferences(ctx context.Context, userID string) (map[string]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, value FROM user_preferences
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, &StorageError{Op: "get_preferences", Err: pqDetail(err)}
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, &StorageError{Op: "get_preferences", Err: err}
		}
		result[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "get_preferences", Err: err}
	}
	return result, nil
}

func (p *PostgresStore) StoreUserPreference(ctx context.Context, userID, key string, value json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		userID, key, []byte(value),
	)
	if err != nil {
		return &StorageError{Op: "store_preference", Err: pqDetail(err)}
	}
	return nil
}

// pqDetail surfaces the Postgres error detail when available.
func pqDetail(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Detail != "" {
		return fmt.Errorf("%s: %s", pqErr.Message, pqErr.Detail)
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
