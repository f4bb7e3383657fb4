package provider

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailvault/internal/config"
	"github.com/stoik/mailvault/internal/models"
)

type imapFixture struct {
	addr string
	user *imapmemserver.User
}

func newIMAPFixture(t *testing.T) *imapFixture {
	t.Helper()

	user := imapmemserver.NewUser("archiver", "secret")
	require.NoError(t, user.Create("INBOX", nil))
	require.NoError(t, user.Create("Sent", nil))

	mem := imapmemserver.New()
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIMAP4rev2: {}},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return &imapFixture{addr: ln.Addr().String(), user: user}
}

func (f *imapFixture) appendMessage(t *testing.T, mailbox, subject string, delivered time.Time) imap.UID {
	t.Helper()
	raw := crlf(fmt.Sprintf("From: alice@corp.example\nTo: bob@corp.example\nSubject: %s\nMessage-ID: <%s@corp.example>\n\nbody\n",
		subject, strings.ReplaceAll(subject, " ", "-")))
	data, err := f.user.Append(mailbox, bytes.NewReader(raw), &imap.AppendOptions{Time: delivered})
	require.NoError(t, err)
	return data.UID
}

func (f *imapFixture) provider(t *testing.T, password string) *IMAPProvider {
	t.Helper()
	host, portStr, err := net.SplitHostPort(f.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewIMAPProvider(config.IMAPConfig{Host: host, Port: port}, config.ProviderConfig{
		Username: "archiver",
		Password: password,
	}, nil)
	p.dial = func(addr string) (*imapclient.Client, error) {
		return imapclient.DialInsecure(addr, nil)
	}
	return p
}

func subjects(items []models.MailItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.GetSubject()
		out = append(out, s)
	}
	return out
}

func TestIMAPFetchItemsNewestFirstSinceCutoff(t *testing.T) {
	f := newIMAPFixture(t)
	f.appendMessage(t, "INBOX", "too old", time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC))
	f.appendMessage(t, "INBOX", "same day earlier", time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))
	f.appendMessage(t, "INBOX", "same day later", time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC))
	f.appendMessage(t, "INBOX", "next day", time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC))
	f.appendMessage(t, "Sent", "outgoing", time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC))

	p := f.provider(t, "secret")
	since := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

	it, err := p.FetchItems(context.Background(), models.FolderInbox, since)
	require.NoError(t, err)
	items := collect(t, it)
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	assert.Equal(t, []string{"next day", "same day later"}, subjects(items))
	for _, item := range items {
		id, ok := item.GetItemID()
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(id, "INBOX/"), id)
	}
	received, ok := items[0].GetReceivedAt()
	require.True(t, ok)
	assert.True(t, received.Equal(time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC)))
}

func TestIMAPFetchItemsServerWestOfUTC(t *testing.T) {
	f := newIMAPFixture(t)
	// 23:45 on the 6th in New York is 04:45 on the 7th in UTC.
	est := time.FixedZone("EST", -5*3600)
	f.appendMessage(t, "INBOX", "late evening", time.Date(2024, 5, 6, 23, 45, 0, 0, est))

	p := f.provider(t, "secret")
	since := time.Date(2024, 5, 7, 4, 30, 0, 0, time.UTC)

	it, err := p.FetchItems(context.Background(), models.FolderInbox, since)
	require.NoError(t, err)
	items := collect(t, it)
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	assert.Equal(t, []string{"late evening"}, subjects(items))
}

func TestIMAPFetchItemsSkipsExpungedMessages(t *testing.T) {
	f := newIMAPFixture(t)
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	f.appendMessage(t, "INBOX", "first", start)
	gone := f.appendMessage(t, "INBOX", "second", start.Add(time.Hour))
	f.appendMessage(t, "INBOX", "third", start.Add(2*time.Hour))

	p := f.provider(t, "secret")
	it, err := p.FetchItems(context.Background(), models.FolderInbox, start.Add(-time.Hour))
	require.NoError(t, err)
	defer it.Close()

	// Another client removes a message after the listing was taken.
	other, err := imapclient.DialInsecure(f.addr, nil)
	require.NoError(t, err)
	require.NoError(t, other.Login("archiver", "secret").Wait())
	_, err = other.Select("INBOX", nil).Wait()
	require.NoError(t, err)
	require.NoError(t, other.Store(imap.UIDSetNum(gone), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close())
	require.NoError(t, other.Expunge().Close())
	require.NoError(t, other.Logout().Wait())

	items := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"third", "first"}, subjects(items))
}

func TestIMAPFetchItemsSentFolder(t *testing.T) {
	f := newIMAPFixture(t)
	f.appendMessage(t, "INBOX", "incoming", time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC))
	f.appendMessage(t, "Sent", "outgoing", time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC))

	p := f.provider(t, "secret")
	it, err := p.FetchItems(context.Background(), models.FolderSent, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	items := collect(t, it)
	require.NoError(t, it.Close())

	require.Len(t, items, 1)
	assert.Equal(t, []string{"outgoing"}, subjects(items))
	id, _ := items[0].GetItemID()
	assert.True(t, strings.HasPrefix(id, "Sent/"), id)
}

func TestIMAPFetchItemsBadPassword(t *testing.T) {
	f := newIMAPFixture(t)
	p := f.provider(t, "wrong")

	_, err := p.FetchItems(context.Background(), models.FolderInbox, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}
