package provider

import (
	"context"
	"time"

	"github.com/stoik/mailvault/internal/models"
)

// Provider is the mailbox the archiver reads from (EWS gateway, IMAP, ...).
type Provider interface {
	// FetchItems opens a one-shot listing of folder, restricted to items
	// received at or after since, newest first. Failing to reach or
	// authenticate against the mailbox yields models.ErrSourceUnavailable.
	FetchItems(ctx context.Context, folder models.Folder, since time.Time) (ItemIterator, error)
}

// ItemIterator walks a folder listing one item at a time:
//
//	it, err := p.FetchItems(ctx, models.FolderInbox, since)
//	...
//	defer it.Close()
//	for it.Next(ctx) {
//		item := it.Item()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Err may wrap models.ErrSourceOverloaded when the mailbox stopped serving
// the listing part way through.
type ItemIterator interface {
	Next(ctx context.Context) bool
	Item() models.MailItem
	Err() error
	Close() error
}

// SliceIterator serves a fixed list of items, optionally failing with Fail
// once they are exhausted. Used by tests and by sources that load a whole
// folder at once.
type SliceIterator struct {
	Items []models.MailItem
	Fail  error

	pos    int
	cur    models.MailItem
	err    error
	closed bool
}

func (s *SliceIterator) Next(ctx context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos >= len(s.Items) {
		s.err = s.Fail
		return false
	}
	s.cur = s.Items[s.pos]
	s.pos++
	return true
}

func (s *SliceIterator) Item() models.MailItem { return s.cur }

func (s *SliceIterator) Err() error { return s.err }

func (s *SliceIterator) Close() error {
	s.closed = true
	return nil
}
