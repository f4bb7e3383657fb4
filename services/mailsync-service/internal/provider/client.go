package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/config"
	"github.com/stoik/mailvault/internal/models"
)

const (
	// DefaultPageSize is the number of items requested per gateway call.
	DefaultPageSize = 50

	// CodeTooManyObjectsOpened is the gateway error code for Exchange's
	// ErrorTooManyObjectsOpened.
	CodeTooManyObjectsOpened = "ErrorTooManyObjectsOpened"
)

// ItemPage is one page of a folder listing returned by the gateway.
type ItemPage struct {
	Items      []models.MailItem `json:"items"`
	More       bool              `json:"more"`
	NextOffset int               `json:"next_offset"`
}

// GatewayError is the JSON error body returned by the gateway.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EWSProvider implements the Provider interface against an EWS gateway: a
// small HTTP service that holds the Exchange session and exposes folders as
// paged JSON.
type EWSProvider struct {
	baseURL  string
	client   *http.Client
	cfg      config.ProviderConfig
	pageSize int
	logger   *zap.Logger
}

// NewEWSProvider creates a new EWS gateway client
func NewEWSProvider(cfg config.ProviderConfig, logger *zap.Logger) *EWSProvider {
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EWSProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:      cfg,
		pageSize: DefaultPageSize,
		logger:   logger,
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func (p *EWSProvider) WithHTTPClient(c *http.Client) *EWSProvider {
	p.client = c
	return p
}

// WithPageSize sets how many items are requested per call.
func (p *EWSProvider) WithPageSize(n int) *EWSProvider {
	if n > 0 {
		p.pageSize = n
	}
	return p
}

func (p *EWSProvider) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	if p.cfg.Username != "" || p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}
	if p.cfg.Email != "" {
		req.Header.Set("X-Mailbox", p.cfg.Email)
	}
	if p.cfg.Server != "" {
		req.Header.Set("X-Ews-Server", p.cfg.Server)
	}
	if p.cfg.Version != "" {
		req.Header.Set("X-Ews-Version", p.cfg.Version)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// statusError maps a non-200 gateway response to the error taxonomy.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var gwErr GatewayError
	_ = json.Unmarshal(body, &gwErr)

	switch {
	case gwErr.Code == CodeTooManyObjectsOpened:
		return fmt.Errorf("%s: %w", gwErr.Message, models.ErrSourceOverloaded)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("gateway refused credentials (status %d): %w", resp.StatusCode, models.ErrSourceUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("unexpected status %d: %s: %w", resp.StatusCode, string(body), models.ErrNotFound)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// getPage fetches one page of the folder listing.
func (p *EWSProvider) getPage(ctx context.Context, folder models.Folder, since time.Time, offset int) (ItemPage, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(p.pageSize))

	req, err := p.newRequest(ctx, "/ews/folders/"+url.PathEscape(string(folder))+"/items", q)
	if err != nil {
		return ItemPage{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ItemPage{}, fmt.Errorf("failed to get items: %w", errors.Join(models.ErrSourceUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ItemPage{}, statusError(resp)
	}

	var page ItemPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return ItemPage{}, fmt.Errorf("failed to decode response: %w", err)
	}

	for i := range page.Items {
		p.attachLoaders(&page.Items[i])
	}
	p.logger.Debug("fetched gateway page",
		zap.String("folder", string(folder)),
		zap.Int("offset", offset),
		zap.Int("items", len(page.Items)),
		zap.Bool("more", page.More),
	)
	return page, nil
}

// attachLoaders wires lazy downloads for file attachments the gateway listed
// without content, including those of nested items.
func (p *EWSProvider) attachLoaders(item *models.MailItem) {
	for i := range item.Attachments {
		a := &item.Attachments[i]
		switch a.Kind {
		case models.AttachmentFile:
			if a.Content == nil && a.AttachmentID != nil && *a.AttachmentID != "" {
				id := *a.AttachmentID
				a.Loader = func(ctx context.Context) ([]byte, error) {
					return p.GetAttachment(ctx, id)
				}
			}
		case models.AttachmentItem:
			if a.Item != nil {
				p.attachLoaders(a.Item)
			}
		}
	}
}

// GetAttachment downloads the raw content of a file attachment.
func (p *EWSProvider) GetAttachment(ctx context.Context, attachmentID string) ([]byte, error) {
	req, err := p.newRequest(ctx, "/ews/attachments/"+url.PathEscape(attachmentID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

// FetchItems implements Provider.FetchItems. The first page is requested
// eagerly so that connection and credential problems surface here.
func (p *EWSProvider) FetchItems(ctx context.Context, folder models.Folder, since time.Time) (ItemIterator, error) {
	it := &ewsIterator{provider: p, folder: folder, since: since}

	page, err := p.getPage(ctx, folder, since, 0)
	switch {
	case err == nil:
		it.setPage(page)
	case errors.Is(err, models.ErrSourceOverloaded):
		// The listing opened but cannot be served; report it from Next.
		it.err = err
	case errors.Is(err, models.ErrSourceUnavailable):
		return nil, fmt.Errorf("open folder %s: %w", folder, err)
	default:
		return nil, fmt.Errorf("open folder %s: %w", folder, errors.Join(models.ErrSourceUnavailable, err))
	}

	return it, nil
}

type ewsIterator struct {
	provider *EWSProvider
	folder   models.Folder
	since    time.Time

	page   []models.MailItem
	pos    int
	more   bool
	offset int

	cur    models.MailItem
	err    error
	closed bool
}

func (it *ewsIterator) setPage(page ItemPage) {
	next := page.NextOffset
	if next <= it.offset {
		next = it.offset + len(page.Items)
	}
	it.page = page.Items
	it.pos = 0
	it.more = page.More
	it.offset = next
}

func (it *ewsIterator) Next(ctx context.Context) bool {
	for !it.closed && it.err == nil {
		if it.pos < len(it.page) {
			it.cur = it.page[it.pos]
			it.pos++
			return true
		}
		if !it.more {
			return false
		}

		page, err := it.provider.getPage(ctx, it.folder, it.since, it.offset)
		if err != nil {
			it.err = fmt.Errorf("list folder %s at offset %d: %w", it.folder, it.offset, err)
			return false
		}
		if len(page.Items) == 0 && page.More && page.NextOffset <= it.offset {
			it.err = fmt.Errorf("list folder %s: gateway made no progress at offset %d", it.folder, it.offset)
			return false
		}
		it.setPage(page)
	}
	return false
}

func (it *ewsIterator) Item() models.MailItem { return it.cur }

func (it *ewsIterator) Err() error { return it.err }

func (it *ewsIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}

// NewProvider creates a provider instance based on configuration.
// provider.type can be "ews" or "imap" (defaults to "ews").
func NewProvider(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider.Type {
	case config.ProviderIMAP:
		return NewIMAPProvider(cfg.IMAP, cfg.Provider, logger), nil
	case config.ProviderEWS, "":
		return NewEWSProvider(cfg.Provider, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}
