package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/stoik/mailvault/internal/models"
)

// ParseMessage converts a raw RFC 5322 message into a MailItem. Embedded
// message/rfc822 parts become item attachments; parts that fail to parse
// leave a nil embedded item. On error the returned item holds whatever was
// read before the failure.
func ParseMessage(raw []byte) (models.MailItem, error) {
	item := models.MailItem{Kind: models.KindMessage}
	if len(bytes.TrimSpace(raw)) == 0 {
		return item, fmt.Errorf("empty message: %w", models.ErrItemMalformed)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return item, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	readHeader(&item, mr.Header)

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			setBody(&item, htmlBody, textBody)
			return item, fmt.Errorf("reading part: %w", err)
		}
		if part == nil {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := h.ContentType()
			switch ct {
			case "text/plain":
				if textBody == "" {
					textBody = string(body)
				}
			case "text/html":
				if htmlBody == "" {
					htmlBody = string(body)
				}
			case "text/calendar":
				// Meeting requests and updates are not archived.
				item.Kind = models.KindOther
			case "message/rfc822":
				item.Attachments = append(item.Attachments, nestedAttachment(body))
			default:
				item.Attachments = append(item.Attachments, fileAttachment(params["name"], ct, h.Get("Content-Id"), body))
			}

		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			if ct == "message/rfc822" {
				item.Attachments = append(item.Attachments, nestedAttachment(body))
				continue
			}
			filename, _ := h.Filename()
			item.Attachments = append(item.Attachments, fileAttachment(filename, ct, h.Get("Content-Id"), body))
		}
	}

	setBody(&item, htmlBody, textBody)
	return item, nil
}

func readHeader(item *models.MailItem, h mail.Header) {
	if ct, _, err := h.ContentType(); err == nil && ct == "multipart/report" {
		// Delivery and read receipts.
		item.Kind = models.KindOther
	}
	if subject, err := h.Subject(); err == nil && subject != "" {
		item.Subject = models.StringPtr(subject)
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		item.MessageID = models.StringPtr(id)
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 && from[0].Address != "" {
		item.Sender = models.StringPtr(from[0].Address)
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			var r models.Recipient
			if addr.Name != "" {
				r.Name = models.StringPtr(addr.Name)
			}
			if addr.Address != "" {
				r.Address = models.StringPtr(addr.Address)
			}
			item.Recipients = append(item.Recipients, r)
		}
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		item.ReceivedAt = models.TimePtr(date.UTC())
	}
}

func setBody(item *models.MailItem, html, text string) {
	switch {
	case html != "":
		item.Body = models.StringPtr(html)
	case text != "":
		item.Body = models.StringPtr(text)
	}
}

func fileAttachment(name, contentType, contentID string, data []byte) models.Attachment {
	a := models.Attachment{Kind: models.AttachmentFile, Content: data}
	if name != "" {
		a.Name = models.StringPtr(name)
	}
	if contentType != "" {
		a.ContentType = models.StringPtr(contentType)
	}
	if contentID = strings.TrimSpace(contentID); contentID != "" {
		a.ContentID = models.StringPtr(contentID)
	}
	return a
}

func nestedAttachment(raw []byte) models.Attachment {
	a := models.Attachment{Kind: models.AttachmentItem}
	nested, err := ParseMessage(raw)
	if err == nil {
		a.Item = &nested
	}
	return a
}
