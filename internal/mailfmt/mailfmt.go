// Package mailfmt turns mail item fields into values that are safe to store,
// search and write to disk: flattened recipient lists, tag-free bodies,
// sanitized file names and rewritten inline image references.
package mailfmt

import (
	"regexp"
	"strings"

	"github.com/stoik/mailvault/internal/models"
)

// MaxFilenameLength is the longest file name (in characters) SanitizeFilename returns.
const MaxFilenameLength = 245

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	htmlTag              = regexp.MustCompile(`<[^>]+>`)
	inlineReference      = regexp.MustCompile(`(?i)src=["']cid:(.*?)["']`)
)

// SanitizeFilename makes name safe to use as a file or zip entry name.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "unnamed"
	}
	if r := []rune(name); len(r) > MaxFilenameLength {
		name = string(r[:MaxFilenameLength])
	}
	return name
}

// StripTags removes everything that looks like an HTML tag. It only feeds the
// search index and is not an HTML sanitizer.
func StripTags(html string) string {
	if html == "" {
		return ""
	}
	return htmlTag.ReplaceAllString(html, "")
}

// FlattenRecipients renders the recipient list as "Name <addr>, addr, Name"
// and returns the primary recipient (name or address of the first entry).
// Entries with neither a name nor an address are dropped from the display
// string.
func FlattenRecipients(recipients []models.Recipient) (display, primary string) {
	if len(recipients) == 0 {
		return "", ""
	}

	parts := make([]string, 0, len(recipients))
	for _, r := range recipients {
		name, hasName := r.GetName()
		addr, hasAddr := r.GetAddress()
		switch {
		case hasName && hasAddr:
			parts = append(parts, name+" <"+addr+">")
		case hasAddr:
			parts = append(parts, addr)
		case hasName:
			parts = append(parts, name)
		}
	}

	first := recipients[0]
	if name, ok := first.GetName(); ok {
		primary = name
	} else if addr, ok := first.GetAddress(); ok {
		primary = addr
	}
	return strings.Join(parts, ", "), primary
}

// NormalizeContentID strips surrounding whitespace and angle brackets.
func NormalizeContentID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// RewriteInlineReferences replaces every src="cid:X" whose X matches the
// content-id of one of attachments with src="<resolve(attachment)>".
// The first matching attachment wins; references with no match are left
// untouched.
func RewriteInlineReferences(html string, attachments []models.StoredAttachment, resolve func(models.StoredAttachment) string) string {
	if html == "" {
		return ""
	}

	return inlineReference.ReplaceAllStringFunc(html, func(match string) string {
		sub := inlineReference.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		want := NormalizeContentID(sub[1])
		for _, a := range attachments {
			if a.ContentID == nil {
				continue
			}
			if NormalizeContentID(*a.ContentID) == want {
				return `src="` + resolve(a) + `"`
			}
		}
		return match
	})
}
