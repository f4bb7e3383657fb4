package api

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/mailfmt"
	"github.com/stoik/mailvault/internal/models"
	"github.com/stoik/mailvault/services/mailsync-service/internal/mailsync"
	"github.com/stoik/mailvault/services/mailsync-service/internal/present"
	"github.com/stoik/mailvault/services/mailsync-service/internal/store"
)

// Syncer runs a full mailbox sync on demand.
type Syncer interface {
	SyncAll(ctx context.Context) (mailsync.Summary, error)
}

// EmailSummary is one row of the email list and of search results.
type EmailSummary struct {
	ID               int64         `json:"id"`
	Subject          string        `json:"subject"`
	Sender           string        `json:"sender"`
	Folder           models.Folder `json:"folder"`
	DatetimeReceived string        `json:"datetime_received"`
	Snippet          *string       `json:"snippet,omitempty"`
}

// AttachmentInfo describes a stored attachment without its content.
type AttachmentInfo struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	DownloadURL string `json:"download_url"`
}

type Handler struct {
	store  store.Store
	syncer Syncer
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(s store.Store, syncer Syncer, loc *time.Location, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:  s,
		syncer: syncer,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

func downloadURL(a models.StoredAttachment) string {
	return "/attachments/" + strconv.FormatInt(a.ID, 10) + "/download"
}

func (h *Handler) summarize(e models.StoredEmail) EmailSummary {
	return EmailSummary{
		ID:               e.ID,
		Subject:          mailfmt.Or(e.Subject, "No Subject"),
		Sender:           mailfmt.Or(e.Sender, "Unknown Sender"),
		Folder:           e.Folder,
		DatetimeReceived: present.FormatDisplay(e.ReceivedAt, h.loc),
	}
}

// idParam parses the :id path parameter. Anything that is not a positive
// integer cannot name a stored row.
func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", c.Param("id"), models.ErrNotFound)
	}
	return id, nil
}

// ListEmails handles GET /api/emails
func (h *Handler) ListEmails(c *gin.Context) {
	ctx := c.Request.Context()
	page := GetPaginationParams(c.Request.URL.Query())

	emails, err := h.store.ListRecent(ctx, page.Limit, page.Offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	total, err := h.store.CountEmails(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	items := make([]EmailSummary, 0, len(emails))
	for _, e := range emails {
		items = append(items, h.summarize(e))
	}

	c.JSON(http.StatusOK, gin.H{
		"emails":   items,
		"page":     page.Page,
		"limit":    page.Limit,
		"total":    total,
		"has_next": page.HasNext(total),
	})
}

// Search handles GET /api/search?query=
func (h *Handler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		respondError(c, h.logger, errNoQuery)
		return
	}

	emails, err := h.store.Search(c.Request.Context(), query, store.DefaultSearchLimit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	results := make([]EmailSummary, 0, len(emails))
	for _, e := range emails {
		s := h.summarize(e)
		snippet := present.Snippet(e.BodyPlain, query)
		s.Snippet = &snippet
		results = append(results, s)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ViewEmail handles GET /email/:id and serves the rendered document.
func (h *Handler) ViewEmail(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := idParam(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	email, err := h.store.GetEmail(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	attachments, err := h.store.ListAttachments(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	doc := present.RenderEmail(*email, attachments, h.loc, downloadURL)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

// ListAttachments handles GET /api/emails/:id/attachments
func (h *Handler) ListAttachments(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := idParam(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if _, err := h.store.GetEmail(ctx, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	attachments, err := h.store.ListAttachments(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	infos := make([]AttachmentInfo, 0, len(attachments))
	for _, a := range attachments {
		infos = append(infos, AttachmentInfo{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			SizeHuman:   humanize.Bytes(uint64(max(a.Size, 0))),
			DownloadURL: downloadURL(a),
		})
	}
	c.JSON(http.StatusOK, gin.H{"attachments": infos})
}

// DownloadAttachment handles GET /attachments/:id/download
func (h *Handler) DownloadAttachment(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	a, err := h.store.GetAttachment(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := mailfmt.SanitizeFilename(mailfmt.Or(a.Filename, "attachment"))

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, contentType, a.Data)
}

// CheckEmails handles POST /api/check-emails: a full sync of sent then inbox.
func (h *Handler) CheckEmails(c *gin.Context) {
	summary, err := h.syncer.SyncAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("failed to sync mailbox: %w", err))
		return
	}

	sent, inbox := summary.Sent.Created, summary.Inbox.Created
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Emails checked successfully. Processed %d sent and %d inbox emails.", sent, inbox),
		"data": gin.H{
			"sent":   sent,
			"inbox":  inbox,
			"run_id": summary.RunID,
		},
	})
}

// DownloadAll handles GET /download-all-emails. The archive is built in
// memory so that a failure still produces a proper error response.
func (h *Handler) DownloadAll(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.now()

	emails, err := h.store.ListRecent(ctx, 0, 0)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := present.ExportAll(ctx, &buf, emails, h.store, h.loc, now); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("export built", zap.Int("emails", len(emails)), zap.Int("bytes", buf.Len()))
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": present.ArchiveName(now)}))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}
