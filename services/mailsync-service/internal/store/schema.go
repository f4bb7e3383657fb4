package store

// Schema statements are idempotent and applied by the setup command and at
// startup. external_id is nullable; NULLs never collide on the unique index.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS emails (
	    id BIGSERIAL PRIMARY KEY,
	    external_id TEXT UNIQUE,
	    subject TEXT NOT NULL DEFAULT '',
	    sender TEXT NOT NULL DEFAULT '',
	    recipients TEXT NOT NULL DEFAULT '',
	    primary_recipient TEXT NOT NULL DEFAULT '',
	    folder VARCHAR(16) NOT NULL,
	    received_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    body_html TEXT NOT NULL DEFAULT '',
	    body_plain TEXT NOT NULL DEFAULT '',
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at DESC)`,
	`CREATE TABLE IF NOT EXISTS attachments (
	    id BIGSERIAL PRIMARY KEY,
	    email_id BIGINT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	    filename TEXT NOT NULL,
	    content_type TEXT NOT NULL DEFAULT '',
	    size BIGINT NOT NULL DEFAULT 0,
	    content_id TEXT,
	    data BYTEA
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON attachments(email_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS emails (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    external_id TEXT UNIQUE,
	    subject TEXT NOT NULL DEFAULT '',
	    sender TEXT NOT NULL DEFAULT '',
	    recipients TEXT NOT NULL DEFAULT '',
	    primary_recipient TEXT NOT NULL DEFAULT '',
	    folder TEXT NOT NULL,
	    received_at DATETIME NOT NULL,
	    body_html TEXT NOT NULL DEFAULT '',
	    body_plain TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at)`,
	`CREATE TABLE IF NOT EXISTS attachments (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    email_id INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	    filename TEXT NOT NULL,
	    content_type TEXT NOT NULL DEFAULT '',
	    size INTEGER NOT NULL DEFAULT 0,
	    content_id TEXT,
	    data BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON attachments(email_id)`,
}
