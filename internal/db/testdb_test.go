package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testSchema mirrors schema.sql in the SQLite dialect. Boolean columns
// are INTEGER so the scan path matches MySQL's TINYINT(1).
const testSchema = `
CREATE TABLE emails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	recipients TEXT,
	cc TEXT,
	bcc TEXT,
	content_text TEXT NOT NULL DEFAULT '',
	content_html TEXT NOT NULL DEFAULT '',
	date_sent DATETIME,
	date_received DATETIME NOT NULL,
	raw_headers TEXT NOT NULL DEFAULT '',
	dispatcher_id INTEGER,
	rfq INTEGER NOT NULL DEFAULT 0,
	rfq_type TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	original_filename TEXT NOT NULL,
	stored_filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	content_disposition_type TEXT,
	content_id TEXT,
	extra TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE email_forwards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	to_addresses TEXT,
	cc_addresses TEXT,
	bcc_addresses TEXT,
	additional_message TEXT,
	forward_status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	forwarded_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE email_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	stop_on_match INTEGER NOT NULL DEFAULT 0,
	global_group_logic TEXT NOT NULL DEFAULT 'AND',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE rule_condition_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL REFERENCES email_rules(id) ON DELETE CASCADE,
	group_logic TEXT NOT NULL DEFAULT 'AND',
	group_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE rule_conditions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL REFERENCES rule_condition_groups(id) ON DELETE CASCADE,
	field_type TEXT NOT NULL,
	operator TEXT NOT NULL,
	match_value TEXT NOT NULL DEFAULT '',
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	condition_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE rule_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL REFERENCES email_rules(id) ON DELETE CASCADE,
	action_type TEXT NOT NULL,
	action_config TEXT,
	action_order INTEGER NOT NULL DEFAULT 0
);
`

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if _, err := conn.Exec(testSchema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}
	return New(conn)
}
