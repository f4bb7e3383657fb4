package models

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func optString(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return "", false
	}
	return *p, true
}

// IsMessage reports whether the item is a plain mail message.
func (m MailItem) IsMessage() bool {
	return m.Kind == KindMessage
}

// GetMessageID returns the protocol-level message identifier, if any.
func (m MailItem) GetMessageID() (string, bool) { return optString(m.MessageID) }

// GetItemID returns the folder-assigned identifier, if any.
func (m MailItem) GetItemID() (string, bool) { return optString(m.ItemID) }

// GetSubject returns the subject, if any.
func (m MailItem) GetSubject() (string, bool) { return optString(m.Subject) }

// GetSender returns the sender address, if any.
func (m MailItem) GetSender() (string, bool) { return optString(m.Sender) }

// GetBody returns the raw body, if any. Whitespace-only bodies are kept.
func (m MailItem) GetBody() (string, bool) {
	if m.Body == nil {
		return "", false
	}
	return *m.Body, true
}

// GetReceivedAt returns the received timestamp in UTC, if any.
func (m MailItem) GetReceivedAt() (time.Time, bool) {
	if m.ReceivedAt == nil || m.ReceivedAt.IsZero() {
		return time.Time{}, false
	}
	return m.ReceivedAt.UTC(), true
}

// GetName returns the display name, if any.
func (r Recipient) GetName() (string, bool) { return optString(r.Name) }

// GetAddress returns the mail address, if any.
func (r Recipient) GetAddress() (string, bool) { return optString(r.Address) }

// GetName returns the attachment file name, if any.
func (a Attachment) GetName() (string, bool) { return optString(a.Name) }

// GetContentType returns the attachment MIME type, if any.
func (a Attachment) GetContentType() (string, bool) { return optString(a.ContentType) }

// GetContentID returns the content-id used by inline references, if any.
func (a Attachment) GetContentID() (string, bool) { return optString(a.ContentID) }

// LoadContent returns the attachment bytes, calling the loader when the
// source did not deliver them inline. Missing content yields empty bytes.
func (a Attachment) LoadContent(ctx context.Context) ([]byte, error) {
	if a.Content != nil || a.Loader == nil {
		if a.Content == nil {
			return []byte{}, nil
		}
		return a.Content, nil
	}
	data, err := a.Loader(ctx)
	if err != nil {
		name, _ := a.GetName()
		return nil, fmt.Errorf("load attachment %q: %w", name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
