package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the ingestion schema if it does not already exist.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range schemaStatements(db.DriverName()) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schemaStatements(driver string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	now := "CURRENT_TIMESTAMP"
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		pk = "INT AUTO_INCREMENT PRIMARY KEY"
	case "postgres":
		pk = "SERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mailboxes (
			id %s,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(191) NOT NULL UNIQUE,
			in_protocol VARCHAR(10) NOT NULL DEFAULT 'imap',
			in_server VARCHAR(255),
			in_port INT,
			in_username VARCHAR(255),
			in_password VARCHAR(512),
			in_folders VARCHAR(512),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			updated_at TIMESTAMP NOT NULL DEFAULT %s
		)`, pk, now, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS folders (
			id %s,
			mailbox_id INT NOT NULL,
			type INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, pk, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS customers (
			id %s,
			email VARCHAR(191) NOT NULL UNIQUE,
			first_name VARCHAR(20),
			last_name VARCHAR(30),
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			updated_at TIMESTAMP NOT NULL DEFAULT %s
		)`, pk, now, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			email VARCHAR(191) NOT NULL UNIQUE,
			first_name VARCHAR(20),
			last_name VARCHAR(30),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, pk, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			id %s,
			number INT NOT NULL,
			mailbox_id INT NOT NULL,
			folder_id INT NOT NULL,
			customer_id INT NOT NULL,
			customer_email VARCHAR(191) NOT NULL,
			subject VARCHAR(998) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			cc TEXT,
			bcc TEXT,
			threads_count INT NOT NULL DEFAULT 0,
			has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
			last_reply_at TIMESTAMP NULL,
			last_reply_from VARCHAR(20),
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			updated_at TIMESTAMP NOT NULL DEFAULT %s,
			CONSTRAINT uq_conversations_mailbox_number UNIQUE (mailbox_id, number)
		)`, pk, now, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS threads (
			id %s,
			conversation_id INT NOT NULL,
			type VARCHAR(20) NOT NULL,
			customer_id INT,
			created_by_user_id INT,
			body TEXT NOT NULL,
			from_email VARCHAR(191) NOT NULL,
			to_emails TEXT,
			cc_emails TEXT,
			bcc_emails TEXT,
			message_id VARCHAR(512) NOT NULL,
			headers TEXT,
			first BOOLEAN NOT NULL DEFAULT FALSE,
			has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			CONSTRAINT uq_threads_message_id UNIQUE (message_id)
		)`, pk, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attachments (
			id %s,
			thread_id INT NOT NULL,
			conversation_id INT NOT NULL,
			file_name VARCHAR(255) NOT NULL,
			file_dir VARCHAR(512) NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			mime_type VARCHAR(127) NOT NULL,
			embedded BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, pk, now),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fetched_uids (
			mailbox_id INT NOT NULL,
			uid VARCHAR(191) NOT NULL,
			fetched_at TIMESTAMP NOT NULL DEFAULT %s,
			CONSTRAINT uq_fetched_uids UNIQUE (mailbox_id, uid)
		)`, now),
	}
	return stmts
}
