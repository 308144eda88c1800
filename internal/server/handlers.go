package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"go-book-download/internal/api"
	"go-book-download/internal/extract"
	"go-book-download/internal/models"
	"go-book-download/internal/service"
)

// Backend is the part of the service the HTTP layer drives.
type Backend interface {
	Search(ctx context.Context, query string) ([]models.Record, error)
	Info(ctx context.Context, id string) (models.Record, error)
	Enqueue(ctx context.Context, id string) (bool, error)
	Status() models.StatusSnapshot
	LocalDownload(id string) (service.LocalFile, error)
}

// BookHandler serves the catalog and queue endpoints.
type BookHandler struct {
	backend Backend
}

// NewBookHandler creates a new book handler
func NewBookHandler(backend Backend) *BookHandler {
	return &BookHandler{backend: backend}
}

// Search returns the records matching q, or an empty list.
func (h *BookHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	results, err := h.backend.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "search failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, results)
}

// Info returns the full record of one title.
func (h *BookHandler) Info(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'id' is required"})
		return
	}

	rec, err := h.backend.Info(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Download queues a title and answers with a JSON boolean.
func (h *BookHandler) Download(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'id' is required"})
		return
	}

	ok, err := h.backend.Enqueue(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).WithField("id", id).Debug("Download request not accepted")
	}
	c.JSON(http.StatusOK, ok)
}

// Status returns every tracked job grouped by status.
func (h *BookHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Status())
}

// LocalDownload streams the ingest artifact of an available job.
func (h *BookHandler) LocalDownload(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'id' is required"})
		return
	}

	lf, err := h.backend.LocalDownload(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNotAvailable) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer lf.File.Close()

	contentType := mime.TypeByExtension(filepath.Ext(lf.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, lf.Size, contentType, lf.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", lf.Name),
	})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrNotFound), errors.Is(err, extract.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// StatusFeedHandler upgrades requests to websocket status feeds.
type StatusFeedHandler struct {
	hub *Hub
}

// NewStatusFeedHandler creates a new status feed handler
func NewStatusFeedHandler(hub *Hub) *StatusFeedHandler {
	return &StatusFeedHandler{hub: hub}
}

// Connect subscribes the caller to job transitions, optionally filtered by ?id=.
func (h *StatusFeedHandler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	newClient(h.hub, conn, c.Query("id")).start()
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now()}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "book-downloader",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}
