package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailvault/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func sampleEmail(externalID string, received time.Time) models.StoredEmail {
	var id *string
	if externalID != "" {
		id = models.StringPtr(externalID)
	}
	return models.StoredEmail{
		ExternalID:       id,
		Subject:          "Quarterly report " + externalID,
		Sender:           "boss@corp.example",
		Recipients:       "Alice <alice@corp.example>",
		PrimaryRecipient: "Alice",
		Folder:           models.FolderInbox,
		ReceivedAt:       received,
		BodyHTML:         "<p>Numbers are <b>up</b></p>",
		BodyPlain:        "Numbers are up",
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	received := time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	attachments := []models.StoredAttachment{
		{Filename: "a.txt", ContentType: "text/plain", Size: 3, Data: []byte("abc")},
		{Filename: "logo.png", ContentType: "image/png", Size: 0, ContentID: models.StringPtr("logo"), Data: []byte{}},
	}

	saved, err := s.Insert(ctx, sampleEmail("m1", received), attachments)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	got, err := s.GetEmail(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report m1", got.Subject)
	assert.Equal(t, models.FolderInbox, got.Folder)
	assert.True(t, got.ReceivedAt.Equal(received))
	assert.Equal(t, time.UTC, got.ReceivedAt.Location())

	list, err := s.ListAttachments(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []byte("abc"), list[0].Data)
	require.NotNil(t, list[1].ContentID)
	assert.Equal(t, "logo", *list[1].ContentID)

	att, err := s.GetAttachment(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", att.Filename)
}

func TestFindByExternalID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	found, err := s.FindByExternalID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = s.Insert(ctx, sampleEmail("m1", time.Now()), nil)
	require.NoError(t, err)

	found, err = s.FindByExternalID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "m1", *found.ExternalID)
}

func TestInsertDuplicateIsRejectedAndRolledBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Insert(ctx, sampleEmail("m1", time.Now()), nil)
	require.NoError(t, err)

	_, err = s.Insert(ctx, sampleEmail("m1", time.Now()), []models.StoredAttachment{
		{Filename: "orphan.txt", Data: []byte("x"), Size: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicate))

	n, err := s.CountEmails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var orphans int
	require.NoError(t, s.db.Get(&orphans, `SELECT COUNT(*) FROM attachments`))
	assert.Zero(t, orphans)
}

func TestEmailsWithoutExternalIDNeverCollide(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		_, err := s.Insert(ctx, sampleEmail("", time.Now()), nil)
		require.NoError(t, err)
	}
	n, err := s.CountEmails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, sampleEmail(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Hour)), nil)
		require.NoError(t, err)
	}

	page, err := s.ListRecent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m4", *page[0].ExternalID)
	assert.Equal(t, "m3", *page[1].ExternalID)

	page, err = s.ListRecent(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", *page[0].ExternalID)

	all, err := s.ListRecent(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e1 := sampleEmail("m1", time.Now().Add(-time.Hour))
	e1.BodyPlain = "The invoice is attached"
	e2 := sampleEmail("m2", time.Now())
	e2.Sender = "INVOICES@vendor.example"
	e3 := sampleEmail("m3", time.Now())
	e3.BodyPlain = "nothing to see, 100% sure"

	for _, e := range []models.StoredEmail{e1, e2, e3} {
		_, err := s.Insert(ctx, e, nil)
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, "invoice", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m2", *results[0].ExternalID)
	assert.Equal(t, "m1", *results[1].ExternalID)

	results, err = s.Search(ctx, "100%", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m3", *results[0].ExternalID)

	results, err = s.Search(ctx, "%", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchFoldsNonASCIICase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := sampleEmail("m1", time.Now())
	e.Subject = "Réunion ÉQUIPE"
	e.BodyPlain = "Rechnung für ÜBERWEISUNG"
	_, err := s.Insert(ctx, e, nil)
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleEmail("m2", time.Now()), nil)
	require.NoError(t, err)

	for _, query := range []string{"équipe", "ÉQUIPE", "Équipe", "überweisung", "FÜR"} {
		results, err := s.Search(ctx, query, 10)
		require.NoError(t, err)
		require.Len(t, results, 1, query)
		assert.Equal(t, "m1", *results[0].ExternalID, query)
	}
}

func TestDeleteEmailCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	saved, err := s.Insert(ctx, sampleEmail("m1", time.Now()), []models.StoredAttachment{
		{Filename: "a.txt", Data: []byte("a"), Size: 1},
		{Filename: "b.txt", Data: []byte("b"), Size: 1},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteEmail(ctx, saved.ID))

	list, err := s.ListAttachments(ctx, saved.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetEmail(ctx, saved.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.DeleteEmail(ctx, saved.ID), models.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetEmail(ctx, 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetAttachment(ctx, 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}
