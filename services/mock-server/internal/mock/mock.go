package mock

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoik/mailvault/internal/models"
)

// ErrTooManyObjectsOpened simulates Exchange refusing to serve more of a
// large listing.
var ErrTooManyObjectsOpened = errors.New("too many objects opened")

var (
	firstNames = []string{"John", "Jane", "Bob", "Alice", "Charlie", "Diana", "Eve", "Frank"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis"}
	domains    = []string{"example.com", "company.com", "business.org", "enterprise.net"}
	subjects   = []string{
		"Meeting tomorrow",
		"Project update",
		"Budget review",
		"Team lunch",
		"Quarterly report",
		"Client feedback",
		"Urgent: Action required",
		"Follow up",
	}

	// 1x1 transparent PNG.
	pixel = []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
)

// Page mirrors the gateway listing response.
type Page struct {
	Items      []models.MailItem `json:"items"`
	More       bool              `json:"more"`
	NextOffset int               `json:"next_offset"`
}

// Mailbox is an in-memory Exchange mailbox with a sent folder and an inbox.
// Items are kept newest first, the order Exchange lists them in.
type Mailbox struct {
	owner string

	mu          sync.RWMutex
	folders     map[models.Folder][]models.MailItem
	attachments map[string][]byte
	counter     int

	// overloadAfter >= 0 makes listings fail from that offset on.
	overloadAfter int
}

// NewMailbox creates a mailbox for owner holding perFolder generated items
// in each folder, spread over the last two days.
func NewMailbox(owner string, perFolder int) *Mailbox {
	m := &Mailbox{
		owner:         owner,
		folders:       make(map[models.Folder][]models.MailItem),
		attachments:   make(map[string][]byte),
		overloadAfter: -1,
	}

	now := time.Now().UTC()
	for _, folder := range models.SyncOrder {
		for i := 0; i < perFolder; i++ {
			m.Add(folder, now.Add(-time.Duration(rand.Intn(48*60))*time.Minute))
		}
	}
	return m
}

// Add generates one item in folder received at receivedAt and returns it.
func (m *Mailbox) Add(folder models.Folder, receivedAt time.Time) models.MailItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.generateItem(folder, receivedAt.UTC(), m.counter)
	m.counter++

	items := append(m.folders[folder], item)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ReceivedAt.After(*items[j].ReceivedAt)
	})
	m.folders[folder] = items
	return item
}

// SetOverload makes listings fail with ErrTooManyObjectsOpened once offset
// reaches afterOffset. A negative value turns it off.
func (m *Mailbox) SetOverload(afterOffset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overloadAfter = afterOffset
}

// Count returns the number of items in folder.
func (m *Mailbox) Count(folder models.Folder) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.folders[folder])
}

// List returns up to limit items of folder received at or after since,
// starting at offset.
func (m *Mailbox) List(folder models.Folder, since time.Time, offset, limit int) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.overloadAfter >= 0 && offset >= m.overloadAfter {
		return Page{}, fmt.Errorf("listing %s at offset %d: %w", folder, offset, ErrTooManyObjectsOpened)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}

	filtered := make([]models.MailItem, 0)
	for _, item := range m.folders[folder] {
		if !item.ReceivedAt.Before(since) {
			filtered = append(filtered, item)
		}
	}

	if offset >= len(filtered) {
		return Page{Items: []models.MailItem{}, NextOffset: offset}, nil
	}
	end := min(offset+limit, len(filtered))
	return Page{
		Items:      filtered[offset:end],
		More:       end < len(filtered),
		NextOffset: end,
	}, nil
}

// Attachment returns the content of a file attachment listed without it.
func (m *Mailbox) Attachment(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.attachments[id]
	return data, ok
}

// GeneratePeriodically adds 0-3 inbox items and 0-1 sent items every interval
// until stop is closed.
func (m *Mailbox) GeneratePeriodically(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for i := rand.Intn(4); i > 0; i-- {
				m.Add(models.FolderInbox, now.Add(-time.Duration(rand.Intn(int(interval/time.Second)+1))*time.Second))
			}
			if rand.Intn(2) == 0 {
				m.Add(models.FolderSent, now)
			}
		}
	}
}

func person(index int) (name, address string) {
	first := firstNames[index%len(firstNames)]
	last := lastNames[(index/len(firstNames))%len(lastNames)]
	domain := domains[index%len(domains)]
	return first + " " + last, fmt.Sprintf("%s.%s@%s", first, last, domain)
}

// generateItem builds the index-th item. Every fifth item is a meeting
// request; the others rotate through inline images, forwarded emails and
// plain messages. Caller holds m.mu.
func (m *Mailbox) generateItem(folder models.Folder, receivedAt time.Time, index int) models.MailItem {
	peerName, peerAddr := person(rand.Intn(64))
	subject := fmt.Sprintf("%s [%d]", subjects[index%len(subjects)], index)

	sender := m.owner
	to := models.Recipient{Name: models.StringPtr(peerName), Address: models.StringPtr(peerAddr)}
	if folder == models.FolderInbox {
		sender = peerAddr
		to = models.Recipient{Address: models.StringPtr(m.owner)}
	}

	item := models.MailItem{
		Kind:       models.KindMessage,
		MessageID:  models.StringPtr("<" + uuid.NewString() + "@mock.example>"),
		ItemID:     models.StringPtr(uuid.NewString()),
		Subject:    models.StringPtr(subject),
		Sender:     models.StringPtr(sender),
		Recipients: []models.Recipient{to},
		ReceivedAt: models.TimePtr(receivedAt),
		Body: models.StringPtr(fmt.Sprintf(
			"<html><body><p>Hello %s,</p><p>Full email body for: %s</p><p>Best regards,<br>The Mock Server</p></body></html>",
			peerName, subject,
		)),
	}

	switch index % 5 {
	case 0:
		item.Kind = models.KindOther
		item.Subject = models.StringPtr("Invitation: " + subject)
	case 1:
		cid := fmt.Sprintf("image%03d@mock.example", index)
		id := uuid.NewString()
		m.attachments[id] = pixel
		item.Body = models.StringPtr(fmt.Sprintf(
			`<html><body><p>See the chart below.</p><img src="cid:%s"></body></html>`, cid,
		))
		item.Attachments = []models.Attachment{{
			Kind:         models.AttachmentFile,
			AttachmentID: models.StringPtr(id),
			Name:         models.StringPtr("chart.png"),
			ContentType:  models.StringPtr("image/png"),
			ContentID:    models.StringPtr("<" + cid + ">"),
		}}
	case 2:
		fwdName, fwdAddr := person(rand.Intn(64))
		item.Subject = models.StringPtr("Fwd: " + subject)
		item.Attachments = []models.Attachment{
			{
				Kind: models.AttachmentItem,
				Name: models.StringPtr(subject),
				Item: &models.MailItem{
					Kind:       models.KindMessage,
					Subject:    models.StringPtr(subject),
					Sender:     models.StringPtr(fwdAddr),
					Recipients: []models.Recipient{{Name: models.StringPtr(fwdName), Address: models.StringPtr(fwdAddr)}},
					ReceivedAt: models.TimePtr(receivedAt.Add(-3 * time.Hour)),
					Body:       models.StringPtr("<p>Original message for " + fwdName + "</p>"),
				},
			},
			{
				Kind:        models.AttachmentFile,
				Name:        models.StringPtr("notes.txt"),
				ContentType: models.StringPtr("text/plain"),
				Content:     []byte("notes for " + subject + "\n"),
			},
		}
	}

	return item
}
