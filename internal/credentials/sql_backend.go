package credentials

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects placeholder syntax for SQLBackend.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "pq":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

const credentialsTable = "session_credentials"

// SQLBackend stores one row per key. Writes replace the table contents inside
// a transaction.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLBackend(db *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect}
}

// Migrate creates the credentials table if it does not exist.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+credentialsTable+
		" (cred_key TEXT PRIMARY KEY, cred_value TEXT NOT NULL)")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", credentialsTable, err)
	}
	return nil
}

func (b *SQLBackend) Read(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT cred_key, cred_value FROM "+credentialsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	return values, nil
}

func (b *SQLBackend) Write(ctx context.Context, values map[string]string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+credentialsTable); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (cred_key, cred_value) VALUES (%s, %s)",
		credentialsTable, b.placeholder(1), b.placeholder(2))
	for _, key := range AllKeys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, key, value); err != nil {
			return fmt.Errorf("failed to insert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credentials: %w", err)
	}
	return nil
}

func (b *SQLBackend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM "+credentialsTable); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (b *SQLBackend) Name() string {
	if b.dialect == DialectPostgres {
		return "sql(postgres)"
	}
	return "sql(sqlite)"
}

func (b *SQLBackend) placeholder(n int) string {
	if b.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
