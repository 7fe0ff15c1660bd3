package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// The open-ticket index is what keeps "one open ticket per account" true
// when two inbound updates race past the lookup.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL UNIQUE,
		login TEXT NOT NULL UNIQUE,
		is_admin INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assigned_to INTEGER NULL,
		created_at DATETIME NOT NULL,
		closed_at DATETIME NULL,
		issue_type TEXT NULL,
		auto_close_enabled INTEGER NOT NULL DEFAULT 0,
		auto_close_deadline DATETIME NULL,
		auto_close_armed_at DATETIME NULL,
		notification_enabled INTEGER NOT NULL DEFAULT 0,
		recently_reopened INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tickets_open_account ON tickets(account_id) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS ix_tickets_account_closed ON tickets(account_id, closed_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		account_id INTEGER NOT NULL,
		employee_account_id INTEGER NULL,
		text TEXT NOT NULL DEFAULT '',
		is_from_staff INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		external_message_id INTEGER NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_ticket ON messages(ticket_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		account_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		until_time DATETIME NULL,
		PRIMARY KEY (account_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quick_replies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		color TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_ratings (
		ticket_id INTEGER PRIMARY KEY REFERENCES tickets(id) ON DELETE CASCADE,
		account_id INTEGER NOT NULL,
		rating TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS employee_ratings (
		employee_account_id INTEGER NOT NULL,
		ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		rating TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (employee_account_id, ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		account_id INTEGER NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS history_fetched (
		current_ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		fetched_ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (current_ticket_id, fetched_ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		author_account_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ticket_notes_ticket ON ticket_notes(ticket_id, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE,
		login VARCHAR(255) NOT NULL UNIQUE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'open',
		assigned_to BIGINT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ NULL,
		issue_type VARCHAR(16) NULL,
		auto_close_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		auto_close_deadline TIMESTAMPTZ NULL,
		auto_close_armed_at TIMESTAMPTZ NULL,
		notification_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		recently_reopened BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tickets_open_account ON tickets(account_id) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS ix_tickets_account_closed ON tickets(account_id, closed_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		account_id BIGINT NOT NULL,
		employee_account_id BIGINT NULL,
		text TEXT NOT NULL DEFAULT '',
		is_from_staff BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMPTZ NOT NULL,
		external_message_id BIGINT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_ticket ON messages(ticket_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id BIGSERIAL PRIMARY KEY,
		message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_type VARCHAR(16) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		account_id BIGINT NOT NULL,
		kind VARCHAR(8) NOT NULL,
		until_time TIMESTAMPTZ NULL,
		PRIMARY KEY (account_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quick_replies (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(50) NOT NULL,
		text VARCHAR(1000) NOT NULL,
		color VARCHAR(16) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_ratings (
		ticket_id BIGINT PRIMARY KEY REFERENCES tickets(id) ON DELETE CASCADE,
		account_id BIGINT NOT NULL,
		rating VARCHAR(8) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS employee_ratings (
		employee_account_id BIGINT NOT NULL,
		ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		rating VARCHAR(8) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (employee_account_id, ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token VARCHAR(128) PRIMARY KEY,
		account_id BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS history_fetched (
		current_ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		fetched_ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		fetched_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (current_ticket_id, fetched_ticket_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_notes (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		author_account_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ticket_notes_ticket ON ticket_notes(ticket_id, created_at)`,
}

// MySQL has no partial indexes; a generated column that is NULL for closed
// tickets gives the same uniqueness guarantee.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE,
		login VARCHAR(255) NOT NULL UNIQUE,
		is_admin TINYINT(1) NOT NULL DEFAULT 0,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'open',
		assigned_to BIGINT NULL,
		created_at DATETIME(6) NOT NULL,
		closed_at DATETIME(6) NULL,
		issue_type VARCHAR(16) NULL,
		auto_close_enabled TINYINT(1) NOT NULL DEFAULT 0,
		auto_close_deadline DATETIME(6) NULL,
		auto_close_armed_at DATETIME(6) NULL,
		notification_enabled TINYINT(1) NOT NULL DEFAULT 0,
		recently_reopened TINYINT(1) NOT NULL DEFAULT 0,
		open_account_id BIGINT AS (CASE WHEN status = 'open' THEN account_id END) STORED,
		UNIQUE KEY ux_tickets_open_account (open_account_id),
		KEY ix_tickets_account_closed (account_id, closed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		ticket_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		employee_account_id BIGINT NULL,
		text TEXT NOT NULL,
		is_from_staff TINYINT(1) NOT NULL DEFAULT 0,
		timestamp DATETIME(6) NOT NULL,
		external_message_id BIGINT NULL,
		KEY ix_messages_ticket (ticket_id, timestamp),
		CONSTRAINT fk_messages_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		message_id BIGINT NOT NULL,
		file_path VARCHAR(1024) NOT NULL,
		file_name VARCHAR(255) NOT NULL,
		file_type VARCHAR(16) NOT NULL,
		CONSTRAINT fk_attachments_message FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		account_id BIGINT NOT NULL,
		kind VARCHAR(8) NOT NULL,
		until_time DATETIME(6) NULL,
		PRIMARY KEY (account_id, kind)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS quick_replies (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(50) NOT NULL,
		text VARCHAR(1000) NOT NULL,
		color VARCHAR(16) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ticket_ratings (
		ticket_id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		rating VARCHAR(8) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_ticket_ratings_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS employee_ratings (
		employee_account_id BIGINT NOT NULL,
		ticket_id BIGINT NOT NULL,
		rating VARCHAR(8) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (employee_account_id, ticket_id),
		CONSTRAINT fk_employee_ratings_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token VARCHAR(128) PRIMARY KEY,
		account_id BIGINT NOT NULL,
		expires_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS history_fetched (
		current_ticket_id BIGINT NOT NULL,
		fetched_ticket_id BIGINT NOT NULL,
		fetched_at DATETIME(6) NOT NULL,
		PRIMARY KEY (current_ticket_id, fetched_ticket_id),
		CONSTRAINT fk_history_current FOREIGN KEY (current_ticket_id) REFERENCES tickets(id) ON DELETE CASCADE,
		CONSTRAINT fk_history_fetched FOREIGN KEY (fetched_ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ticket_notes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		ticket_id BIGINT NOT NULL,
		author_account_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY ix_ticket_notes_ticket (ticket_id, created_at),
		CONSTRAINT fk_ticket_notes_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Schema returns the DDL statements for the given driver.
func Schema(driver string) ([]string, error) {
	switch NormalizeDriver(driver) {
	case DriverSQLite:
		return sqliteSchema, nil
	case DriverPostgres:
		return postgresSchema, nil
	case DriverMySQL:
		return mysqlSchema, nil
	}
	return nil, fmt.Errorf("no schema for driver %q", driver)
}

// Migrate creates any missing tables and indexes. Every statement is
// idempotent, so it is safe to run on each boot.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := Schema(db.DriverName())
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
