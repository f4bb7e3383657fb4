package mailsync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stoik/mailvault/internal/models"
	"github.com/stoik/mailvault/services/mailsync-service/internal/provider"
	"github.com/stoik/mailvault/services/mailsync-service/internal/store"
)

type fakeProvider struct {
	items   map[models.Folder][]models.MailItem
	fail    map[models.Folder]error
	openErr error

	mu    sync.Mutex
	calls []models.Folder
}

func (f *fakeProvider) FetchItems(_ context.Context, folder models.Folder, _ time.Time) (provider.ItemIterator, error) {
	f.mu.Lock()
	f.calls = append(f.calls, folder)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &provider.SliceIterator{Items: f.items[folder], Fail: f.fail[folder]}, nil
}

// brokenStore fails every lookup and insert with err.
type brokenStore struct {
	store.Store
	findErr   error
	insertErr error
	inserts   int
}

func (b *brokenStore) FindByExternalID(context.Context, string) (*models.StoredEmail, error) {
	return nil, b.findErr
}

func (b *brokenStore) Insert(_ context.Context, e models.StoredEmail, _ []models.StoredAttachment) (models.StoredEmail, error) {
	b.inserts++
	if b.insertErr != nil {
		return models.StoredEmail{}, b.insertErr
	}
	e.ID = int64(b.inserts)
	return e, nil
}

func message(id string, received time.Time) models.MailItem {
	return models.MailItem{
		Kind:       models.KindMessage,
		MessageID:  models.StringPtr(id),
		Subject:    models.StringPtr("Subject " + id),
		Sender:     models.StringPtr("sender@corp.example"),
		Recipients: []models.Recipient{{Name: models.StringPtr("Alice"), Address: models.StringPtr("alice@corp.example")}},
		ReceivedAt: models.TimePtr(received),
		Body:       models.StringPtr("<p>Hello " + id + "</p>"),
	}
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSyncFolderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Now().UTC()
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderInbox: {message("a", now), message("b", now.Add(-time.Minute)), message("c", now.Add(-time.Hour))},
	}}
	svc := NewService(p, st, nil, zaptest.NewLogger(t))

	first, err := svc.SyncFolder(ctx, models.FolderInbox, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := svc.SyncFolder(ctx, models.FolderInbox, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Duplicates)

	n, err := st.CountEmails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	stored, err := st.FindByExternalID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Alice <alice@corp.example>", stored.Recipients)
	assert.Equal(t, "Alice", stored.PrimaryRecipient)
	assert.Equal(t, "Hello a", stored.BodyPlain)
	assert.Equal(t, models.FolderInbox, stored.Folder)
}

func TestSyncFolderSkipsNonMessages(t *testing.T) {
	st := newSQLite(t)
	receipt := message("receipt", time.Now())
	receipt.Kind = models.KindOther
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderInbox: {receipt, message("real", time.Now())},
	}}

	res, err := NewService(p, st, nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Result{Folder: models.FolderInbox, Created: 1, Skipped: 1}, res)
}

func TestSyncFolderItemWithoutIdentifierIsAlwaysNew(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	anon := message("", time.Now())
	anon.MessageID = nil
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{models.FolderSent: {anon}}}
	svc := NewService(p, st, nil, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		res, err := svc.SyncFolder(ctx, models.FolderSent, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
	}
	n, err := st.CountEmails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSyncFolderFallsBackToItemID(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	item := message("", time.Now())
	item.MessageID = nil
	item.ItemID = models.StringPtr("AAMkAD=")
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{models.FolderInbox: {item}}}
	svc := NewService(p, st, nil, zaptest.NewLogger(t))

	_, err := svc.SyncFolder(ctx, models.FolderInbox, time.Time{})
	require.NoError(t, err)
	res, err := svc.SyncFolder(ctx, models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
}

func TestSyncFolderFailedAttachmentPersistsNothing(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	bad := message("bad", time.Now())
	bad.Attachments = []models.Attachment{
		{Kind: models.AttachmentFile, Name: models.StringPtr("ok.txt"), Content: []byte("ok")},
		{Kind: models.AttachmentFile, Name: models.StringPtr("lost.bin"), Loader: func(context.Context) ([]byte, error) {
			return nil, errors.New("connection reset")
		}},
	}
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderInbox: {bad, message("good", time.Now())},
	}}

	res, err := NewService(p, st, nil, zaptest.NewLogger(t)).SyncFolder(ctx, models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Failed)

	found, err := st.FindByExternalID(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSyncFolderStopsOnOverload(t *testing.T) {
	st := newSQLite(t)
	items := make([]models.MailItem, 0, 3)
	for i := 0; i < 3; i++ {
		items = append(items, message("m"+strconv.Itoa(i), time.Now()))
	}
	p := &fakeProvider{
		items: map[models.Folder][]models.MailItem{models.FolderInbox: items},
		fail:  map[models.Folder]error{models.FolderInbox: models.ErrSourceOverloaded},
	}

	res, err := NewService(p, st, nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.True(t, res.Partial)
}

func TestSyncFolderOtherIterationErrorIsPartial(t *testing.T) {
	p := &fakeProvider{
		items: map[models.Folder][]models.MailItem{models.FolderInbox: {message("x", time.Now())}},
		fail:  map[models.Folder]error{models.FolderInbox: errors.New("decode failure")},
	}

	res, err := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.True(t, res.Partial)
}

func TestSyncFolderConnectionLostMidListing(t *testing.T) {
	p := &fakeProvider{
		items: map[models.Folder][]models.MailItem{models.FolderInbox: {message("x", time.Now())}},
		fail:  map[models.Folder]error{models.FolderInbox: models.ErrSourceUnavailable},
	}

	res, err := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, 1, res.Created)
	assert.True(t, res.Partial)
}

func TestSyncFolderSourceUnavailable(t *testing.T) {
	p := &fakeProvider{openErr: errors.New("dial tcp: connection refused")}

	res, err := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, Result{Folder: models.FolderInbox}, res)
}

func TestSyncFolderStoreUnavailable(t *testing.T) {
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderInbox: {message("a", time.Now()), message("b", time.Now())},
	}}
	st := &brokenStore{findErr: errors.New("connection refused")}

	res, err := NewService(p, st, nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 2, res.Failed)
}

func TestSyncFolderInsertRaceCountsAsDuplicate(t *testing.T) {
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderInbox: {message("a", time.Now())},
	}}
	st := &brokenStore{insertErr: models.ErrDuplicate}

	res, err := NewService(p, st, nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderInbox, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Failed)
}

func TestSyncFolderRecordsMetrics(t *testing.T) {
	created := SyncItemsTotal.WithLabelValues("sent", OutcomeCreated)
	before := testutil.ToFloat64(created)

	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderSent: {message("metric", time.Now())},
	}}
	_, err := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t)).SyncFolder(context.Background(), models.FolderSent, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(created))
}

func TestSyncAllSentThenInbox(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{items: map[models.Folder][]models.MailItem{
		models.FolderSent:  {message("s1", now)},
		models.FolderInbox: {message("i1", now), message("i2", now)},
	}}
	var windowArg time.Time
	window := func(t time.Time) time.Time { windowArg = t; return t.AddDate(0, 0, -3) }

	svc := NewService(p, newSQLite(t), window, zaptest.NewLogger(t))
	svc.now = func() time.Time { return now }

	summary, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Folder{models.FolderSent, models.FolderInbox}, p.calls)
	assert.Equal(t, 1, summary.Sent.Created)
	assert.Equal(t, 2, summary.Inbox.Created)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, now, windowArg)
}

func TestSyncAllJoinsFolderErrors(t *testing.T) {
	p := &fakeProvider{openErr: models.ErrSourceUnavailable}

	_, err := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t)).SyncAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Len(t, p.calls, 2)
}

func TestRunStopsWithContext(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(p, newSQLite(t), nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, time.Hour, true) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.calls) == 2
	}, time.Second, 10*time.Millisecond)
	assert.True(t, svc.Shutdown(time.Second))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
