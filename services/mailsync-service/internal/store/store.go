package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/stoik/mailvault/internal/config"
	"github.com/stoik/mailvault/internal/models"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 100

// Store persists synced emails and their attachments.
type Store interface {
	// FindByExternalID returns nil, nil when no email carries the id.
	FindByExternalID(ctx context.Context, externalID string) (*models.StoredEmail, error)

	// Insert writes the email and all of its attachments in one transaction.
	// It returns models.ErrDuplicate when the external id is already stored.
	Insert(ctx context.Context, email models.StoredEmail, attachments []models.StoredAttachment) (models.StoredEmail, error)

	// ListRecent returns emails ordered by received time, newest first.
	ListRecent(ctx context.Context, limit, offset int) ([]models.StoredEmail, error)

	// Search matches query case-insensitively against subject, sender,
	// recipients and the plain-text body.
	Search(ctx context.Context, query string, limit int) ([]models.StoredEmail, error)

	GetEmail(ctx context.Context, id int64) (*models.StoredEmail, error)
	GetAttachment(ctx context.Context, id int64) (*models.StoredAttachment, error)
	ListAttachments(ctx context.Context, emailID int64) ([]models.StoredAttachment, error)
	CountEmails(ctx context.Context) (int64, error)

	// DeleteEmail removes the email and, through the foreign key, its attachments.
	DeleteEmail(ctx context.Context, id int64) error

	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverFromURL(cfg.URL)
	}

	switch driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.URL)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// likePattern escapes LIKE wildcards so that query matches literally.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultSearchLimit {
		return DefaultSearchLimit
	}
	return limit
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
