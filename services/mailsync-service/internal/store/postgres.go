package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stoik/mailvault/internal/models"
)

const pgUniqueViolation = "23505"

const emailColumns = `id, external_id, subject, sender, recipients, primary_recipient,
	folder, received_at, body_html, body_plain, created_at`

// PostgresStore is the Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates the pool and checks the connection.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("database.url not configured")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", errors.Join(models.ErrStoreUnavailable, err))
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

func scanEmail(row pgx.Row) (models.StoredEmail, error) {
	var e models.StoredEmail
	err := row.Scan(
		&e.ID,
		&e.ExternalID,
		&e.Subject,
		&e.Sender,
		&e.Recipients,
		&e.PrimaryRecipient,
		&e.Folder,
		&e.ReceivedAt,
		&e.BodyHTML,
		&e.BodyPlain,
		&e.CreatedAt,
	)
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, err
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*models.StoredEmail, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE external_id = $1 LIMIT 1`

	e, err := scanEmail(s.pool.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing email: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, email models.StoredEmail, attachments []models.StoredAttachment) (models.StoredEmail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.StoredEmail{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	email.ReceivedAt = email.ReceivedAt.UTC()
	insertQuery := `
		INSERT INTO emails (external_id, subject, sender, recipients, primary_recipient,
			folder, received_at, body_html, body_plain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		email.ExternalID,
		email.Subject,
		email.Sender,
		email.Recipients,
		email.PrimaryRecipient,
		email.Folder,
		email.ReceivedAt,
		email.BodyHTML,
		email.BodyPlain,
	).Scan(&email.ID, &email.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return models.StoredEmail{}, fmt.Errorf("failed to insert email: %w", models.ErrDuplicate)
		}
		return models.StoredEmail{}, fmt.Errorf("failed to insert email: %w", err)
	}
	email.CreatedAt = email.CreatedAt.UTC()

	for _, a := range attachments {
		_, err = tx.Exec(ctx, `
			INSERT INTO attachments (email_id, filename, content_type, size, content_id, data)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, email.ID, a.Filename, a.ContentType, a.Size, a.ContentID, a.Data)
		if err != nil {
			return models.StoredEmail{}, fmt.Errorf("failed to insert attachment %q: %w", a.Filename, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.StoredEmail{}, fmt.Errorf("failed to commit email: %w", err)
	}
	return email, nil
}

func (s *PostgresStore) queryEmails(ctx context.Context, query string, args ...any) ([]models.StoredEmail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.StoredEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit, offset int) ([]models.StoredEmail, error) {
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + emailColumns + ` FROM emails ORDER BY received_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	emails, err := s.queryEmails(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]models.StoredEmail, error) {
	q := `SELECT ` + emailColumns + ` FROM emails
		WHERE subject ILIKE $1 OR sender ILIKE $1 OR recipients ILIKE $1 OR body_plain ILIKE $1
		ORDER BY received_at DESC, id DESC
		LIMIT $2`

	emails, err := s.queryEmails(ctx, q, likePattern(query), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	return emails, nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, id int64) (*models.StoredEmail, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1`

	e, err := scanEmail(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email %d: %w", id, err)
	}
	return &e, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, id int64) (*models.StoredAttachment, error) {
	query := `SELECT id, email_id, filename, content_type, size, content_id, data
		FROM attachments WHERE id = $1`

	var a models.StoredAttachment
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.EmailID,
		&a.Filename,
		&a.ContentType,
		&a.Size,
		&a.ContentID,
		&a.Data,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %d: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, emailID int64) ([]models.StoredAttachment, error) {
	query := `SELECT id, email_id, filename, content_type, size, content_id, data
		FROM attachments WHERE email_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, query, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.StoredAttachment
	for rows.Next() {
		var a models.StoredAttachment
		if err := rows.Scan(
			&a.ID,
			&a.EmailID,
			&a.Filename,
			&a.ContentType,
			&a.Size,
			&a.ContentID,
			&a.Data,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

func (s *PostgresStore) CountEmails(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteEmail(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete email %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %d: %w", id, models.ErrNotFound)
	}
	return nil
}
