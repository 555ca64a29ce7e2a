package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"

	"x-keeper/broadcaster"
	"x-keeper/classifier"
	"x-keeper/database"
	"x-keeper/models"
	"x-keeper/queue"
)

const (
	defaultLogLimit = 50
	maxImportBytes  = 32 << 20
	keepAlivePeriod = 15 * time.Second
)

// LogReader serves the recent processing log.
type LogReader interface {
	Recent(limit int) ([]models.LogEntry, error)
}

// Handler implements the HTTP operations.
type Handler struct {
	ledger      database.Ledger
	queue       *queue.Manager
	logs        LogReader
	broadcaster *broadcaster.Broadcaster
}

// NewHandler wires the handlers to the core components.
func NewHandler(ledger database.Ledger, q *queue.Manager, logs LogReader, b *broadcaster.Broadcaster) *Handler {
	return &Handler{ledger: ledger, queue: q, logs: logs, broadcaster: b}
}

type submitRequest struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

type rejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

type queueEntry struct {
	URL       string            `json:"url"`
	State     models.QueueState `json:"state"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"lastError,omitempty"`
	QueuedAt  time.Time         `json:"queuedAt"`
}

type logEntry struct {
	URLs      []string  `json:"urls"`
	Status    string    `json:"status"`
	FileCount *int      `json:"fileCount,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": true})
}

// Submit enqueues URLs on the direct queue. Unsupported and already fetched URLs are rejected.
func (h *Handler) Submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	urls := body.URLs
	if strings.TrimSpace(body.URL) != "" {
		urls = append([]string{body.URL}, urls...)
	}
	if len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url or urls required"})
		return
	}

	accepted := []string{}
	rejected := []rejection{}
	for _, raw := range urls {
		target := classifier.Classify(raw)
		if reason := h.rejectReason(target); reason != "" {
			rejected = append(rejected, rejection{URL: raw, Reason: reason})
			continue
		}
		if _, err := h.queue.Enqueue(models.SourceDirect, target.URL, []string{target.URL}); err != nil {
			h.writeError(c, err)
			return
		}
		accepted = append(accepted, target.URL)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "rejected": rejected})
}

func (h *Handler) rejectReason(target classifier.Target) string {
	switch target.Kind {
	case classifier.Unsupported:
		return "unsupported"
	case classifier.PostStatusRef:
		if h.ledger.Contains(target.PostID) {
			return "already downloaded"
		}
	case classifier.ArtworkRef, classifier.GenericImageHostRef:
		if h.ledger.ContainsURL(target.URL) {
			return "already downloaded"
		}
	}
	return ""
}

func (h *Handler) ListQueue(c *gin.Context) {
	items, err := h.queue.List(models.SourceDirect)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]queueEntry, 0, len(items))
	for _, item := range items {
		out = append(out, queueEntry{
			URL:       item.Key,
			State:     item.State,
			Attempts:  item.Attempts,
			LastError: item.LastError,
			QueuedAt:  item.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteQueueItem(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}
	key := strings.TrimSpace(body.URL)
	deleted, err := h.queue.Remove(models.SourceDirect, key)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		// Clients may hold the canonical or the raw form of the URL.
		if target := classifier.Classify(key); target.Supported() && target.URL != key {
			deleted, err = h.queue.Remove(models.SourceDirect, target.URL)
			if err != nil {
				h.writeError(c, err)
				return
			}
		}
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"deleted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) ClearQueue(c *gin.Context) {
	n, err := h.queue.Clear(models.SourceDirect)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) IDs(c *gin.Context) {
	c.JSON(http.StatusOK, h.broadcaster.SnapshotIDs())
}

func (h *Handler) IDCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.ledger.Count()})
}

func (h *Handler) URLs(c *gin.Context) {
	c.JSON(http.StatusOK, h.broadcaster.SnapshotURLs())
}

func (h *Handler) URLCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.ledger.CountURLs()})
}

func (h *Handler) Export(c *gin.Context) {
	doc, err := h.ledger.Export()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="downloaded_ids.json"`)
	c.Data(http.StatusOK, "application/json", doc)
}

// Import merges an uploaded interchange document, sent either as the raw body
// or as a multipart "file" field.
func (h *Handler) Import(c *gin.Context) {
	var (
		doc []byte
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		f, oerr := fh.Open()
		if oerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
			return
		}
		defer f.Close()
		doc, err = io.ReadAll(io.LimitReader(f, maxImportBytes))
	} else {
		doc, err = io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read document"})
		return
	}

	imported, err := h.ledger.Import(doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if imported > 0 {
		h.broadcaster.Check()
	}
	log.Info().Int("imported", imported).Msg("ledger import")
	c.JSON(http.StatusOK, gin.H{"imported": imported})
}

func (h *Handler) Logs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, database.MaxLogEntries)
	}

	entries, err := h.logs.Recent(limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]logEntry, 0, len(entries))
	for _, e := range entries {
		entry := logEntry{URLs: e.URLs, Status: e.Status, Timestamp: e.Timestamp}
		if e.Status == models.LogStatusSuccess {
			count := e.FileCount
			entry.FileCount = &count
		} else {
			entry.Error = e.Error
		}
		if entry.URLs == nil {
			entry.URLs = []string{}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, out)
}

// Events streams a "snapshot" event on connect and after every ledger change.
func (h *Handler) Events(c *gin.Context) {
	ch, cancel := h.broadcaster.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAlivePeriod)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snapshot)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		return
	}
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
