package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore is a Store backed by a hosted Postgres database. Records
// live in one table keyed by (record_type, record_key); account
// availability comes from the sync_accounts table.
type PostgresStore struct {
	db    *sql.DB
	token string
}

// NewPostgresStore connects to the hosted store.
func NewPostgresStore(dsn, accountToken string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	return &PostgresStore{db: db, token: accountToken}, nil
}

// EnsureSchema creates the store tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id BIGSERIAL PRIMARY KEY,
		record_type TEXT NOT NULL,
		record_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		modified BIGINT NOT NULL,
		UNIQUE (record_type, record_key)
	);
	CREATE TABLE IF NOT EXISTS sync_accounts (
		token TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'available'
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure store schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec Record) (string, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO records (record_type, record_key, payload, modified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (record_type, record_key)
		 DO UPDATE SET payload = EXCLUDED.payload, modified = EXCLUDED.modified
		 RETURNING id`,
		string(rec.Type), rec.Key, []byte(rec.Payload), rec.Modified,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to save record %s/%s: %w", rec.Type, rec.Key, err)
	}
	return fmt.Sprintf("pg-%d", id), nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_key, payload, modified FROM records
		 WHERE record_type = $1 AND modified >= $2`,
		string(q.Type), q.ModifiedSince)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{Type: q.Type}
		var payload []byte
		if err := rows.Scan(&rec.Key, &payload, &rec.Modified); err != nil {
			return nil, err
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AccountStatus implements Store. An unknown token reads as no-account; a
// query failure reads as indeterminate.
func (s *PostgresStore) AccountStatus(ctx context.Context) (AccountStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM sync_accounts WHERE token = $1", s.token).Scan(&status)
	if err == sql.ErrNoRows {
		return AccountNoAccount, nil
	}
	if err != nil {
		return AccountIndeterminate, err
	}
	switch status {
	case "available":
		return AccountAvailable, nil
	case "restricted":
		return AccountRestricted, nil
	case "no-account":
		return AccountNoAccount, nil
	default:
		return AccountIndeterminate, nil
	}
}

var _ Store = (*PostgresStore)(nil)
