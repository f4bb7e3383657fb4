package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/stoik/mailvault/internal/models"
)

// foldFunc lower-cases text with Unicode rules. SQLite's own LIKE and
// lower() only fold ASCII letters.
const foldFunc = "mailvault_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, foldText)
}

func foldText(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// SQLiteStore implements Store on a local SQLite file. Used for single-host
// deployments and tests.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// An empty path or ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "sqlite://")
	inMemory := trimmed == "" || trimmed == ":memory:" || strings.Contains(trimmed, "mode=memory")
	if trimmed == "" {
		trimmed = ":memory:"
	}

	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) FindByExternalID(ctx context.Context, externalID string) (*models.StoredEmail, error) {
	var e models.StoredEmail
	err := s.db.GetContext(ctx, &e,
		`SELECT `+emailColumns+` FROM emails WHERE external_id = ? LIMIT 1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking for existing email: %w", err)
	}
	normalizeTimes(&e)
	return &e, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, email models.StoredEmail, attachments []models.StoredAttachment) (models.StoredEmail, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.StoredEmail{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	email.ReceivedAt = email.ReceivedAt.UTC()
	email.CreatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `INSERT INTO emails
		(external_id, subject, sender, recipients, primary_recipient,
		 folder, received_at, body_html, body_plain, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ExternalID,
		email.Subject,
		email.Sender,
		email.Recipients,
		email.PrimaryRecipient,
		string(email.Folder),
		email.ReceivedAt,
		email.BodyHTML,
		email.BodyPlain,
		email.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.StoredEmail{}, fmt.Errorf("insert email: %w", models.ErrDuplicate)
		}
		return models.StoredEmail{}, fmt.Errorf("insert email: %w", err)
	}
	if email.ID, err = res.LastInsertId(); err != nil {
		return models.StoredEmail{}, fmt.Errorf("insert email: %w", err)
	}

	for _, a := range attachments {
		_, err = tx.ExecContext(ctx, `INSERT INTO attachments
			(email_id, filename, content_type, size, content_id, data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			email.ID, a.Filename, a.ContentType, a.Size, a.ContentID, a.Data,
		)
		if err != nil {
			return models.StoredEmail{}, fmt.Errorf("insert attachment %q: %w", a.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.StoredEmail{}, fmt.Errorf("commit email: %w", err)
	}
	return email, nil
}

func normalizeTimes(e *models.StoredEmail) {
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
}

func (s *SQLiteStore) selectEmails(ctx context.Context, query string, args ...any) ([]models.StoredEmail, error) {
	var emails []models.StoredEmail
	if err := s.db.SelectContext(ctx, &emails, query, args...); err != nil {
		return nil, err
	}
	for i := range emails {
		normalizeTimes(&emails[i])
	}
	return emails, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit, offset int) ([]models.StoredEmail, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}

	emails, err := s.selectEmails(ctx,
		`SELECT `+emailColumns+` FROM emails ORDER BY received_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}
	return emails, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]models.StoredEmail, error) {
	pattern := likePattern(strings.ToLower(query))
	emails, err := s.selectEmails(ctx, `SELECT `+emailColumns+` FROM emails
		WHERE `+foldFunc+`(subject) LIKE ? ESCAPE '\'
		   OR `+foldFunc+`(sender) LIKE ? ESCAPE '\'
		   OR `+foldFunc+`(recipients) LIKE ? ESCAPE '\'
		   OR `+foldFunc+`(body_plain) LIKE ? ESCAPE '\'
		ORDER BY received_at DESC, id DESC
		LIMIT ?`,
		pattern, pattern, pattern, pattern, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("searching emails: %w", err)
	}
	return emails, nil
}

func (s *SQLiteStore) GetEmail(ctx context.Context, id int64) (*models.StoredEmail, error) {
	var e models.StoredEmail
	err := s.db.GetContext(ctx, &e, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting email %d: %w", id, err)
	}
	normalizeTimes(&e)
	return &e, nil
}

func (s *SQLiteStore) GetAttachment(ctx context.Context, id int64) (*models.StoredAttachment, error) {
	var a models.StoredAttachment
	err := s.db.GetContext(ctx, &a, `SELECT id, email_id, filename, content_type, size, content_id, data
		FROM attachments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting attachment %d: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, emailID int64) ([]models.StoredAttachment, error) {
	var attachments []models.StoredAttachment
	err := s.db.SelectContext(ctx, &attachments, `SELECT id, email_id, filename, content_type, size, content_id, data
		FROM attachments WHERE email_id = ? ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	return attachments, nil
}

func (s *SQLiteStore) CountEmails(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM emails`); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteEmail(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting email %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("email %d: %w", id, models.ErrNotFound)
	}
	return nil
}
