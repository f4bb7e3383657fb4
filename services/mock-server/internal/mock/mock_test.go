package mock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailvault/internal/models"
)

func TestNewMailboxSeedsBothFolders(t *testing.T) {
	m := NewMailbox("archive@example.com", 7)
	assert.Equal(t, 7, m.Count(models.FolderSent))
	assert.Equal(t, 7, m.Count(models.FolderInbox))
}

func TestListPagesNewestFirst(t *testing.T) {
	m := NewMailbox("archive@example.com", 0)
	base := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m.Add(models.FolderInbox, base.Add(time.Duration(i)*time.Hour))
	}

	page, err := m.List(models.FolderInbox, time.Time{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.More)
	assert.Equal(t, 2, page.NextOffset)
	assert.Equal(t, base.Add(4*time.Hour), *page.Items[0].ReceivedAt)

	page, err = m.List(models.FolderInbox, time.Time{}, 4, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.More)
	assert.Equal(t, base, *page.Items[0].ReceivedAt)

	page, err = m.List(models.FolderInbox, time.Time{}, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.More)
}

func TestListFiltersBySince(t *testing.T) {
	m := NewMailbox("archive@example.com", 0)
	base := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	m.Add(models.FolderSent, base.Add(-time.Minute))
	m.Add(models.FolderSent, base)
	m.Add(models.FolderSent, base.Add(time.Minute))

	page, err := m.List(models.FolderSent, base, 0, 50)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestListOverload(t *testing.T) {
	m := NewMailbox("archive@example.com", 5)
	m.SetOverload(3)

	_, err := m.List(models.FolderInbox, time.Time{}, 0, 3)
	require.NoError(t, err)
	_, err = m.List(models.FolderInbox, time.Time{}, 3, 3)
	assert.ErrorIs(t, err, ErrTooManyObjectsOpened)

	m.SetOverload(-1)
	_, err = m.List(models.FolderInbox, time.Time{}, 3, 3)
	assert.NoError(t, err)
}

func TestGeneratedItemShapes(t *testing.T) {
	m := NewMailbox("archive@example.com", 0)
	now := time.Now()

	meeting := m.Add(models.FolderInbox, now)
	assert.Equal(t, models.KindOther, meeting.Kind)

	inline := m.Add(models.FolderInbox, now)
	require.Len(t, inline.Attachments, 1)
	a := inline.Attachments[0]
	assert.Nil(t, a.Content)
	require.NotNil(t, a.AttachmentID)
	data, ok := m.Attachment(*a.AttachmentID)
	require.True(t, ok)
	assert.Equal(t, pixel, data)
	assert.Contains(t, *inline.Body, "cid:image001@mock.example")

	forwarded := m.Add(models.FolderSent, now)
	require.Len(t, forwarded.Attachments, 2)
	assert.Equal(t, models.AttachmentItem, forwarded.Attachments[0].Kind)
	require.NotNil(t, forwarded.Attachments[0].Item)
	assert.Equal(t, "archive@example.com", *forwarded.Sender)
	assert.NotEmpty(t, forwarded.Attachments[1].Content)

	plain := m.Add(models.FolderInbox, now)
	assert.Equal(t, models.KindMessage, plain.Kind)
	assert.Empty(t, plain.Attachments)
	assert.Equal(t, "archive@example.com", *plain.Recipients[0].Address)

	_, ok = m.Attachment("missing")
	assert.False(t, ok)
}
