package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h *Handler) *Router {
	r := gin.New()
	r.Use(requestLogger(h.logger), gin.Recovery())
	r.SetHTMLTemplate(indexTemplate)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/", h.Index)
	r.GET("/email/:id", h.ViewEmail)
	r.GET("/attachments/:id/download", h.DownloadAttachment)
	r.GET("/download-all-emails", h.DownloadAll)

	api := r.Group("/api")
	{
		api.GET("/emails", h.ListEmails)
		api.GET("/emails/:id/attachments", h.ListAttachments)
		api.GET("/search", h.Search)
		api.POST("/check-emails", h.CheckEmails)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Index handles GET / with the most recent emails.
func (h *Handler) Index(c *gin.Context) {
	emails, err := h.store.ListRecent(c.Request.Context(), DefaultPageLimit, 0)
	if err != nil {
		h.logger.Error("error fetching recent emails", zap.Error(err))
		emails = nil
	}

	rows := make([]EmailSummary, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, h.summarize(e))
	}
	c.HTML(http.StatusOK, "index", gin.H{"Emails": rows})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>mailvault</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
td, th { border-bottom: 1px solid #ddd; padding: .4em; text-align: left; }
</style>
</head>
<body>
<h1>Recent emails</h1>
<p>
<button id="check">Check emails</button>
<a href="/download-all-emails">Download all</a>
</p>
<form id="search">
<input name="query" placeholder="Search">
<button type="submit">Search</button>
</form>
<p id="status"></p>
<table id="emails">
<tr><th>Received</th><th>Sender</th><th>Subject</th></tr>
{{range .Emails}}<tr><td>{{.DatetimeReceived}}</td><td>{{.Sender}}</td><td><a href="/email/{{.ID}}">{{.Subject}}</a></td></tr>
{{else}}<tr><td colspan="3">No emails yet.</td></tr>
{{end}}</table>
<script>
const statusEl = document.getElementById("status");
document.getElementById("check").onclick = async () => {
  statusEl.textContent = "Checking...";
  const res = await fetch("/api/check-emails", {method: "POST"});
  const body = await res.json();
  statusEl.textContent = body.message;
  if (body.success) location.reload();
};
document.getElementById("search").onsubmit = async (ev) => {
  ev.preventDefault();
  const q = new FormData(ev.target).get("query");
  const res = await fetch("/api/search?query=" + encodeURIComponent(q));
  const body = await res.json();
  if (!res.ok) { statusEl.textContent = body.message; return; }
  statusEl.textContent = body.results.length + " result(s)";
  const table = document.getElementById("emails");
  table.querySelectorAll("tr:not(:first-child)").forEach((tr) => tr.remove());
  for (const r of body.results) {
    const tr = table.insertRow();
    tr.insertCell().textContent = r.datetime_received;
    tr.insertCell().textContent = r.sender;
    const a = document.createElement("a");
    a.href = "/email/" + r.id;
    a.textContent = r.subject;
    const cell = tr.insertCell();
    cell.appendChild(a);
    if (r.snippet) {
      const p = document.createElement("div");
      p.textContent = r.snippet;
      cell.appendChild(p);
    }
  }
};
</script>
</body>
</html>
`))
