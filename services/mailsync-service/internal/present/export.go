package present

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/stoik/mailvault/internal/mailfmt"
	"github.com/stoik/mailvault/internal/models"
)

const archiveLayout = "20060102_150405"

// AttachmentLister loads the attachments of one email.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, emailID int64) ([]models.StoredAttachment, error)
}

// ArchiveName is the download name of a full export made at now.
func ArchiveName(now time.Time) string {
	return "all_emails_" + now.UTC().Format(archiveLayout) + ".zip"
}

// ExportAll writes a zip archive holding, for every email, <base>.html and
// its attachments under <base>_attachments/. Colliding names get a " (n)"
// suffix in the order emails are given. Inline images in the HTML point at
// the exported attachment files.
func ExportAll(ctx context.Context, w io.Writer, emails []models.StoredEmail, lister AttachmentLister, loc *time.Location, now time.Time) error {
	zw := zip.NewWriter(w)
	bases := make(map[string]int, len(emails))

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}

		attachments, err := lister.ListAttachments(ctx, email.ID)
		if err != nil {
			return fmt.Errorf("export email %d: %w", email.ID, err)
		}

		base := uniqueName(bases, BaseName(email, loc, now), false)
		dir := base + "_attachments"

		files := make(map[int64]string, len(attachments))
		names := make(map[string]int, len(attachments))
		for _, a := range attachments {
			files[a.ID] = uniqueName(names, mailfmt.SanitizeFilename(mailfmt.Or(a.Filename, "attachment")), true)
		}

		// Entry names stay raw; the reference in the HTML must be a valid
		// relative URL.
		resolve := func(a models.StoredAttachment) string {
			return url.PathEscape(dir) + "/" + url.PathEscape(files[a.ID])
		}
		modified := email.ReceivedAt
		if modified.IsZero() {
			modified = now
		}

		if err := writeEntry(zw, base+".html", modified, []byte(RenderEmail(email, attachments, loc, resolve))); err != nil {
			return err
		}
		for _, a := range attachments {
			if err := writeEntry(zw, dir+"/"+files[a.ID], modified, a.Data); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// uniqueName returns name, or name with " (n)" appended when it was already
// handed out. With keepExt the suffix goes before the file extension.
func uniqueName(seen map[string]int, name string, keepExt bool) string {
	key := strings.ToLower(name)
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return name
	}

	for {
		ext := ""
		if keepExt {
			ext = path.Ext(name)
		}
		candidate := strings.TrimSuffix(name, ext) + " (" + strconv.Itoa(n) + ")" + ext
		ckey := strings.ToLower(candidate)
		if seen[ckey] == 0 {
			seen[ckey] = 1
			return candidate
		}
		n++
		seen[key] = n + 1
	}
}
