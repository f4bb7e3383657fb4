// Package present renders stored emails for people: the HTML view, the zip
// export and search snippets. Times are converted to the display zone here
// and nowhere else.
package present

import (
	"strings"
	"time"
	"unicode"

	"github.com/stoik/mailvault/internal/mailfmt"
	"github.com/stoik/mailvault/internal/models"
)

const (
	DisplayLayout  = "01/02/2006 03:04 PM"
	baseNameLayout = "01-02-2006_03-04PM"

	snippetBefore = 50
	snippetAfter  = 150
)

// Resolver maps a stored attachment to the URL or path a rendered document
// should reference it by.
type Resolver func(models.StoredAttachment) string

// FormatDisplay formats t in loc, or returns "Unknown" for the zero time.
func FormatDisplay(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.In(location(loc)).Format(DisplayLayout)
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// RenderEmail renders email as a standalone HTML document with inline image
// references rewritten through resolve.
func RenderEmail(email models.StoredEmail, attachments []models.StoredAttachment, loc *time.Location, resolve Resolver) string {
	doc := mailfmt.Document{
		Subject:    mailfmt.Or(email.Subject, "No Subject"),
		Received:   FormatDisplay(email.ReceivedAt, loc),
		Sender:     mailfmt.Or(email.Sender, "Unknown Sender"),
		Recipients: mailfmt.Or(email.Recipients, "Unknown Recipients"),
		Body:       mailfmt.RewriteInlineReferences(email.BodyHTML, attachments, resolve),
	}
	return doc.HTML()
}

// BaseName is the export file stem of email:
// "to_<recipient> - <subject> - <MM-DD-YYYY_HH-MMAM>".
func BaseName(email models.StoredEmail, loc *time.Location, now time.Time) string {
	recipient := mailfmt.SanitizeFilename(mailfmt.Or(email.PrimaryRecipient, "Unknown_Recipient"))
	subject := mailfmt.SanitizeFilename(mailfmt.Or(email.Subject, "No_Subject"))

	received := email.ReceivedAt
	if received.IsZero() {
		received = now.UTC()
	}
	return "to_" + recipient + " - " + subject + " - " + received.In(location(loc)).Format(baseNameLayout)
}

// Snippet returns the part of body around the first case-insensitive match
// of query: up to 50 characters before and 150 after the match start, with
// "..." appended when the body continues past the window. It returns "" when
// query is empty or absent.
func Snippet(body, query string) string {
	query = strings.TrimSpace(query)
	if body == "" || query == "" {
		return ""
	}

	text := []rune(body)
	idx := indexFold(text, []rune(query))
	if idx < 0 {
		return ""
	}

	start := max(0, idx-snippetBefore)
	end := min(len(text), idx+snippetAfter)

	snippet := string(text[start:end])
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

// indexFold finds needle in haystack comparing lower-cased runes.
func indexFold(haystack, needle []rune) int {
	if len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i
	}
	return -1
}
