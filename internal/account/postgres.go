package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSource reads SIP credentials from the users table.
// db is expected to be opened with the pgx stdlib driver.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

const lookupSQL = `
SELECT COALESCE(extension_id, ''), COALESCE(host, ''), COALESCE(secret, ''), COALESCE(port, 0), COALESCE(name, '')
FROM users
WHERE id = $1`

func (s *PostgresSource) Lookup(ctx context.Context, userID string) (Account, error) {
	if s.db == nil {
		return Account{}, errors.New("account: database not configured")
	}
	if userID == "" {
		return Account{}, ErrNotFound
	}

	var a Account
	err := s.db.QueryRowContext(ctx, lookupSQL, userID).Scan(&a.Extension, &a.Host, &a.Secret, &a.Port, &a.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account: lookup %s: %w", userID, err)
	}
	return a, nil
}
