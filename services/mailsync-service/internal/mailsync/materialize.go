package mailsync

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/mailfmt"
	"github.com/stoik/mailvault/internal/models"
)

const (
	nestedTimestampLayout = "20060102150405"
	nestedReceivedLayout  = "2006-01-02 15:04:05 MST"
	nestedContentType     = "text/html"
)

// MaterializeAttachments turns the source attachments of item into rows ready
// to persist. A file whose content cannot be loaded fails the whole item;
// a nested item that cannot be rendered is logged and left out.
func MaterializeAttachments(ctx context.Context, item models.MailItem, now time.Time, logger *zap.Logger) ([]models.StoredAttachment, error) {
	out := make([]models.StoredAttachment, 0, len(item.Attachments))

	for i, a := range item.Attachments {
		switch a.Kind {
		case models.AttachmentFile:
			data, err := a.LoadContent(ctx)
			if err != nil {
				return nil, fmt.Errorf("attachment %d: %w", i, err)
			}
			name, ok := a.GetName()
			if !ok {
				name = "attachment"
			}
			contentType, _ := a.GetContentType()

			stored := models.StoredAttachment{
				Filename:    mailfmt.SanitizeFilename(name),
				ContentType: contentType,
				Size:        int64(len(data)),
				Data:        data,
			}
			if cid, ok := a.GetContentID(); ok {
				stored.ContentID = models.StringPtr(cid)
			}
			out = append(out, stored)

		case models.AttachmentItem:
			filename, data, err := RenderNestedItem(a.Item, now)
			if err != nil {
				logger.Error("error saving attached email", zap.Int("attachment", i), zap.Error(err))
				continue
			}
			out = append(out, models.StoredAttachment{
				Filename:    mailfmt.SanitizeFilename(filename),
				ContentType: nestedContentType,
				Size:        int64(len(data)),
				Data:        data,
			})

		default:
			logger.Warn("skipping attachment of unknown kind", zap.Int("attachment", i), zap.String("kind", string(a.Kind)))
		}
	}

	return out, nil
}

// RenderNestedItem renders an email carried as an attachment into a
// standalone HTML file named attached_email_<subject>_<received UTC>.html.
// now stands in for a missing received time.
func RenderNestedItem(nested *models.MailItem, now time.Time) (string, []byte, error) {
	if nested == nil {
		return "", nil, fmt.Errorf("attached email has no content: %w", models.ErrItemMalformed)
	}

	subject, ok := nested.GetSubject()
	if !ok {
		subject = "Attached Email"
	}

	stamp := now.UTC()
	received := "Unknown"
	if t, ok := nested.GetReceivedAt(); ok {
		stamp = t
		received = t.Format(nestedReceivedLayout)
	}

	sender, ok := nested.GetSender()
	if !ok {
		sender = "Unknown Sender"
	}
	recipients, _ := mailfmt.FlattenRecipients(nested.Recipients)
	body, _ := nested.GetBody()

	doc := mailfmt.Document{
		Subject:    subject,
		Received:   received,
		Sender:     sender,
		Recipients: mailfmt.Or(recipients, "Unknown Recipients"),
		Body:       body,
	}

	return nestedFilename(subject, stamp), []byte(doc.HTML()), nil
}

// nestedFilename shortens the subject so the timestamp suffix and extension
// survive the file name length limit.
func nestedFilename(subject string, stamp time.Time) string {
	const prefix = "attached_email_"
	suffix := "_" + stamp.Format(nestedTimestampLayout) + ".html"

	name := []rune(mailfmt.SanitizeFilename(subject))
	if room := mailfmt.MaxFilenameLength - utf8.RuneCountInString(prefix) - utf8.RuneCountInString(suffix); len(name) > room {
		name = name[:room]
	}
	return prefix + string(name) + suffix
}
