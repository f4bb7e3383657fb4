package mailfmt

import (
	"html"
	"strings"
)

// Document is the standalone HTML rendering of one email. Header fields are
// escaped; Body is written as-is.
type Document struct {
	Subject    string
	Received   string
	Sender     string
	Recipients string
	Body       string
}

// HTML renders the document.
func (d Document) HTML() string {
	parts := []string{
		"<html><body>",
		"<h1>Subject: " + html.EscapeString(d.Subject) + "</h1>",
		"<p><strong>Received:</strong> " + html.EscapeString(d.Received) + "</p>",
		"<p><strong>Sender:</strong> " + html.EscapeString(d.Sender) + "</p>",
		"<p><strong>To:</strong> " + html.EscapeString(d.Recipients) + "</p>",
		"<p><strong>Body:</strong></p>",
		d.Body,
		"</body></html>",
	}
	return strings.Join(parts, "\n")
}

// Or returns s, or def when s is blank.
func Or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
