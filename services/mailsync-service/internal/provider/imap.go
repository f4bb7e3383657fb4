package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/config"
	"github.com/stoik/mailvault/internal/models"
)

// IMAPProvider reads the mailbox over IMAP for servers that expose it
// alongside (or instead of) EWS.
type IMAPProvider struct {
	host       string
	port       string
	username   string
	password   string
	tls        bool
	sentFolder string
	logger     *zap.Logger

	// dial overrides the TLS/STARTTLS dialer when set.
	dial func(addr string) (*imapclient.Client, error)
}

// NewIMAPProvider creates a new IMAP provider. The login name falls back to
// the mailbox address when no username is configured.
func NewIMAPProvider(cfg config.IMAPConfig, creds config.ProviderConfig, logger *zap.Logger) *IMAPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	username := creds.Username
	if username == "" {
		username = creds.Email
	}
	port := cfg.Port
	if port == 0 {
		port = 993
	}
	sent := cfg.SentFolder
	if sent == "" {
		sent = "Sent"
	}

	return &IMAPProvider{
		host:       cfg.Host,
		port:       strconv.Itoa(port),
		username:   username,
		password:   creds.Password,
		tls:        cfg.TLS,
		sentFolder: sent,
		logger:     logger,
	}
}

// mailbox maps a synced folder to the server mailbox name.
func (p *IMAPProvider) mailbox(folder models.Folder) (string, error) {
	switch folder {
	case models.FolderInbox:
		return "INBOX", nil
	case models.FolderSent:
		return p.sentFolder, nil
	default:
		return "", fmt.Errorf("unknown folder %q", folder)
	}
}

// connect dials the server and authenticates. The caller logs out.
func (p *IMAPProvider) connect() (*imapclient.Client, error) {
	addr := p.host + ":" + p.port

	var client *imapclient.Client
	var err error
	switch {
	case p.dial != nil:
		client, err = p.dial(addr)
	case p.tls:
		client, err = imapclient.DialTLS(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, errors.Join(models.ErrSourceUnavailable, err))
	}

	if err := client.Login(p.username, p.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", p.username, errors.Join(models.ErrSourceUnavailable, err))
	}

	return client, nil
}

// FetchItems implements Provider.FetchItems. IMAP SINCE compares dates in the
// server's timezone, so the search starts a day early and items are filtered
// again on their received time while iterating.
func (p *IMAPProvider) FetchItems(ctx context.Context, folder models.Folder, since time.Time) (ItemIterator, error) {
	mailbox, err := p.mailbox(folder)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := p.connect()
	if err != nil {
		return nil, err
	}

	sel, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", mailbox, errors.Join(models.ErrSourceUnavailable, err))
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since.UTC().AddDate(0, 0, -1)}, nil).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("searching %s: %w", mailbox, classifyIMAPError(err))
	}

	uids := searchData.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	p.logger.Debug("imap folder opened",
		zap.String("folder", string(folder)),
		zap.String("mailbox", mailbox),
		zap.Int("candidates", len(uids)),
	)

	return &imapIterator{
		client:      client,
		mailbox:     mailbox,
		uidValidity: sel.UIDValidity,
		uids:        uids,
		since:       since,
		logger:      p.logger,
	}, nil
}

// classifyIMAPError maps server LIMIT responses to ErrSourceOverloaded.
func classifyIMAPError(err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeLimit {
		return errors.Join(models.ErrSourceOverloaded, err)
	}
	return err
}

// errExpunged reports a UID that vanished between search and fetch.
var errExpunged = errors.New("message expunged")

type imapIterator struct {
	client      *imapclient.Client
	mailbox     string
	uidValidity uint32
	uids        []imap.UID
	since       time.Time
	logger      *zap.Logger

	pos    int
	cur    models.MailItem
	err    error
	closed bool
}

func (it *imapIterator) Next(ctx context.Context) bool {
	for !it.closed && it.err == nil && it.pos < len(it.uids) {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		uid := it.uids[it.pos]
		it.pos++

		item, err := it.fetch(uid)
		if errors.Is(err, errExpunged) {
			continue
		}
		if err != nil {
			it.err = err
			return false
		}
		if received, ok := item.GetReceivedAt(); ok && received.Before(it.since) {
			continue
		}

		it.cur = item
		return true
	}
	return false
}

func (it *imapIterator) fetch(uid imap.UID) (models.MailItem, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := it.client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return models.MailItem{}, fmt.Errorf("fetching UID %d: %w", uid, classifyIMAPError(err))
		}
		return models.MailItem{}, errExpunged
	}

	buf, err := msg.Collect()
	if err != nil {
		return models.MailItem{}, fmt.Errorf("collecting UID %d: %w", uid, classifyIMAPError(err))
	}

	raw := buf.FindBodySection(bodySection)
	item, err := ParseMessage(raw)
	if err != nil {
		it.logger.Warn("unparseable message, keeping headers only",
			zap.Uint32("uid", uint32(uid)),
			zap.Error(err),
		)
	}

	item.ItemID = models.StringPtr(strings.Join([]string{
		it.mailbox,
		strconv.FormatUint(uint64(it.uidValidity), 10),
		strconv.FormatUint(uint64(uid), 10),
	}, "/"))
	// The internal date is the delivery time; the Date header is only a fallback.
	if !buf.InternalDate.IsZero() {
		item.ReceivedAt = models.TimePtr(buf.InternalDate.UTC())
	}

	return item, nil
}

func (it *imapIterator) Item() models.MailItem { return it.cur }

func (it *imapIterator) Err() error { return it.err }

func (it *imapIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if err := it.client.Logout().Wait(); err != nil {
		return it.client.Close()
	}
	return nil
}
