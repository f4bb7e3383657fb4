package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/logger"
	"github.com/stoik/mailvault/internal/models"
	"github.com/stoik/mailvault/services/mock-server/internal/mock"
)

const codeTooManyObjectsOpened = "ErrorTooManyObjectsOpened"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log, err := logger.New(os.Getenv("LOG_LEVEL"), true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	owner := os.Getenv("MOCK_MAILBOX")
	if owner == "" {
		owner = "archive@example.com"
	}
	perFolder, err := strconv.Atoi(os.Getenv("MOCK_ITEMS_PER_FOLDER"))
	if err != nil || perFolder < 0 {
		perFolder = 120
	}

	mailbox := mock.NewMailbox(owner, perFolder)
	stop := make(chan struct{})
	defer close(stop)
	go mailbox.GeneratePeriodically(30*time.Second, stop)

	srv := &server{
		mailbox:  mailbox,
		username: os.Getenv("MOCK_USERNAME"),
		password: os.Getenv("MOCK_PASSWORD"),
		logger:   log,
	}

	addr := fmt.Sprintf(":%s", port)
	log.Info("starting mock EWS gateway", zap.String("addr", addr), zap.String("mailbox", owner), zap.Int("items_per_folder", perFolder))
	if err := http.ListenAndServe(addr, srv.router()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

type server struct {
	mailbox  *mock.Mailbox
	username string
	password string
	logger   *zap.Logger
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// EWS gateway endpoints
	ews := r.Group("/ews", s.requireCredentials)
	{
		ews.GET("/folders/:folder/items", s.handleListItems)
		ews.GET("/attachments/:id", s.handleGetAttachment)
	}

	// Admin endpoints for testing
	admin := r.Group("/admin")
	{
		admin.POST("/items/add", s.handleAddItems)
		admin.POST("/overload", s.handleOverload)
	}

	return r
}

// requireCredentials checks basic auth when the mock was started with
// MOCK_USERNAME or MOCK_PASSWORD.
func (s *server) requireCredentials(c *gin.Context) {
	if s.username == "" && s.password == "" {
		return
	}
	user, pass, ok := c.Request.BasicAuth()
	if !ok || user != s.username || pass != s.password {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "ErrorAccessDenied", "message": "invalid credentials"})
	}
}

func (s *server) handleListItems(c *gin.Context) {
	folder, err := models.ParseFolder(c.Param("folder"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "ErrorFolderNotFound", "message": err.Error()})
		return
	}

	var since time.Time
	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err = time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "ErrorInvalidRequest", "message": "invalid since format (use RFC3339)"})
			return
		}
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	page, err := s.mailbox.List(folder, since, offset, limit)
	if err != nil {
		if errors.Is(err, mock.ErrTooManyObjectsOpened) {
			s.logger.Warn("simulating overload", zap.String("folder", string(folder)), zap.Int("offset", offset))
			c.JSON(http.StatusInternalServerError, gin.H{"code": codeTooManyObjectsOpened, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ErrorInternalServerError", "message": err.Error()})
		return
	}

	s.logger.Debug("listed items",
		zap.String("folder", string(folder)),
		zap.Int("offset", offset),
		zap.Int("items", len(page.Items)),
	)
	c.JSON(http.StatusOK, page)
}

func (s *server) handleGetAttachment(c *gin.Context) {
	data, ok := s.mailbox.Attachment(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "ErrorItemNotFound", "message": "attachment not found"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *server) handleAddItems(c *gin.Context) {
	var req struct {
		Folder string `json:"folder"`
		Count  int    `json:"count"`
	}

	// Try JSON body first
	if err := c.ShouldBindJSON(&req); err != nil {
		// Fall back to query parameters
		req.Folder = c.DefaultQuery("folder", string(models.FolderInbox))
		req.Count, _ = strconv.Atoi(c.DefaultQuery("count", "1"))
	}
	if req.Folder == "" {
		req.Folder = string(models.FolderInbox)
	}
	if req.Count < 1 {
		req.Count = 1
	}

	folder, err := models.ParseFolder(req.Folder)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	for i := 0; i < req.Count; i++ {
		s.mailbox.Add(folder, now)
	}
	total := s.mailbox.Count(folder)

	c.JSON(http.StatusOK, gin.H{
		"added":   req.Count,
		"total":   total,
		"message": fmt.Sprintf("Added %d item(s) to %s. Total items: %d", req.Count, folder, total),
	})
}

// handleOverload toggles the simulated ErrorTooManyObjectsOpened response.
func (s *server) handleOverload(c *gin.Context) {
	var req struct {
		Enabled     bool `json:"enabled"`
		AfterOffset int  `json:"after_offset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AfterOffset < 0 {
		req.AfterOffset = 0
	}

	if req.Enabled {
		s.mailbox.SetOverload(req.AfterOffset)
	} else {
		s.mailbox.SetOverload(-1)
	}
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled, "after_offset": req.AfterOffset})
}
