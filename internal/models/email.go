package models

import (
	"context"
	"time"
)

// ItemKind tags a mail item coming from the source mailbox.
type ItemKind string

const (
	// KindMessage is a plain mail message; the only kind that gets synced.
	KindMessage ItemKind = "message"
	// KindOther covers meeting requests, read receipts and other Exchange item types.
	KindOther ItemKind = "other"
)

// AttachmentKind tags a source attachment as a raw file or an embedded mail item.
type AttachmentKind string

const (
	AttachmentFile AttachmentKind = "file"
	AttachmentItem AttachmentKind = "item"
)

// Recipient is one (name, address) entry of a source item's To list.
// Either side may be missing.
type Recipient struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
}

// MailItem represents an item read from the mail source (EWS gateway, IMAP, ...).
// Every optional field is a pointer and should be read through its accessor.
type MailItem struct {
	Kind        ItemKind     `json:"kind"`
	MessageID   *string      `json:"message_id,omitempty"` // protocol-level Message-ID
	ItemID      *string      `json:"item_id,omitempty"`    // folder-assigned id
	Subject     *string      `json:"subject,omitempty"`
	Sender      *string      `json:"sender,omitempty"`
	Recipients  []Recipient  `json:"to_recipients,omitempty"`
	ReceivedAt  *time.Time   `json:"received_at,omitempty"`
	Body        *string      `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ContentLoader fetches attachment content that the source did not deliver inline.
type ContentLoader func(ctx context.Context) ([]byte, error)

// Attachment is a source attachment: a file (name, content, content-type,
// content-id) XOR an embedded mail item.
type Attachment struct {
	Kind         AttachmentKind `json:"kind"`
	AttachmentID *string        `json:"attachment_id,omitempty"`
	Name         *string        `json:"name,omitempty"`
	ContentType  *string        `json:"content_type,omitempty"`
	ContentID    *string        `json:"content_id,omitempty"`
	Content      []byte         `json:"content,omitempty"`
	Item         *MailItem      `json:"item,omitempty"`

	// Loader is set by sources that download content on demand.
	Loader ContentLoader `json:"-"`
}

// StoredEmail is the persisted form of a synced mail message.
// ExternalID is the dedup key; nil when the source gave no usable identifier.
type StoredEmail struct {
	ID               int64     `db:"id" json:"id"`
	ExternalID       *string   `db:"external_id" json:"external_id,omitempty"`
	Subject          string    `db:"subject" json:"subject"`
	Sender           string    `db:"sender" json:"sender"`
	Recipients       string    `db:"recipients" json:"recipients"`
	PrimaryRecipient string    `db:"primary_recipient" json:"primary_recipient"`
	Folder           Folder    `db:"folder" json:"folder"`
	ReceivedAt       time.Time `db:"received_at" json:"received_at"`
	BodyHTML         string    `db:"body_html" json:"-"`
	BodyPlain        string    `db:"body_plain" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// StoredAttachment belongs to exactly one StoredEmail and is removed with it.
type StoredAttachment struct {
	ID          int64   `db:"id" json:"id"`
	EmailID     int64   `db:"email_id" json:"email_id"`
	Filename    string  `db:"filename" json:"filename"`
	ContentType string  `db:"content_type" json:"content_type"`
	Size        int64   `db:"size" json:"size"`
	ContentID   *string `db:"content_id" json:"content_id,omitempty"`
	Data        []byte  `db:"data" json:"-"`
}
