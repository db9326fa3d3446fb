package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidField is returned when a field update targets a column
	// outside the whitelist.
	ErrInvalidField = errors.New("field not allowed")
)

// DB wraps the pooled connection handle. Transactions acquire one
// connection exclusively; reads are short autocommit queries.
type DB struct {
	conn *sql.DB
}

// Open connects to MySQL and verifies the connection.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// New wraps an already opened handle. Tests use this with an in-memory
// SQLite database.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// requiredTables are asserted at startup. Creating them is an operator
// task (schema.sql), not a runtime task.
var requiredTables = []string{
	"emails",
	"attachments",
	"email_forwards",
	"email_rules",
	"rule_condition_groups",
	"rule_conditions",
	"rule_actions",
}

// CheckTables verifies that all required tables exist and reports the
// missing ones. Startup aborts when any is missing.
func (d *DB) CheckTables(ctx context.Context) error {
	var missing []string
	for _, table := range requiredTables {
		var name string
		err := d.conn.QueryRowContext(ctx, "SHOW TABLES LIKE ?", table).Scan(&name)
		if err == sql.ErrNoRows {
			missing = append(missing, table)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing database tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// encodeList serializes an address list to JSON for storage. Nil and
// empty lists are stored as NULL.
func encodeList(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode address list: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeList deserializes a stored address list.
func decodeList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, fmt.Errorf("failed to decode address list: %w", err)
	}
	return list, nil
}
