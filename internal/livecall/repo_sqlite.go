package livecall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"softphone/internal/calls"
)

// SQLiteRepo stores the record in a one-row-per-key table. Suited to desktop installs
// where no redis is available. db must be opened with the "sqlite" driver.
type SQLiteRepo struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// NewSQLiteRepo creates the backing table if needed.
func NewSQLiteRepo(ctx context.Context, db *sql.DB, key string) (*SQLiteRepo, error) {
	if db == nil {
		return nil, errors.New("livecall: sqlite db is nil")
	}
	if key == "" {
		key = DefaultKey
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS live_call (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("livecall: create table: %w", err)
	}
	return &SQLiteRepo{db: db, key: key, now: time.Now}, nil
}

func (r *SQLiteRepo) Load(ctx context.Context) (*calls.CallAlert, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM live_call WHERE key = ?`, r.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("livecall: sqlite load: %w", err)
	}
	return decode([]byte(raw))
}

func (r *SQLiteRepo) Save(ctx context.Context, alert calls.CallAlert) error {
	raw, err := encode(alert)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO live_call (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, r.key, string(raw), r.now().UTC())
	if err != nil {
		return fmt.Errorf("livecall: sqlite save: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM live_call WHERE key = ?`, r.key); err != nil {
		return fmt.Errorf("livecall: sqlite clear: %w", err)
	}
	return nil
}
