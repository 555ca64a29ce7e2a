package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"x-keeper/models"
)

var ErrUnauthorized = errors.New("x-keeper unauthorized")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("x-keeper status %d", e.Code)
	}
	return fmt.Sprintf("x-keeper %d: %s", e.Code, e.Message)
}

// Rejection is a submitted URL the server refused, with a reason.
type Rejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// SubmitResult is the answer to a submission.
type SubmitResult struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// QueueEntry is one item of the direct queue.
type QueueEntry struct {
	URL       string            `json:"url"`
	State     models.QueueState `json:"state"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"lastError,omitempty"`
	QueuedAt  time.Time         `json:"queuedAt"`
}

// LogEntry is one row of the server's processing log.
type LogEntry struct {
	URLs      []string  `json:"urls"`
	Status    string    `json:"status"`
	FileCount *int      `json:"fileCount,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}

type countBody struct {
	Count int `json:"count"`
}

// Client talks to the HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

func (c *Client) Submit(ctx context.Context, urls []string) (SubmitResult, error) {
	var out SubmitResult
	err := c.do(ctx, http.MethodPost, "/api/queue", map[string][]string{"urls": urls}, &out)
	return out, err
}

func (c *Client) IDs(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/api/ids", nil, &out)
	return out, err
}

func (c *Client) IDCount(ctx context.Context) (int, error) {
	var out countBody
	err := c.do(ctx, http.MethodGet, "/api/ids/count", nil, &out)
	return out.Count, err
}

func (c *Client) URLs(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/api/urls", nil, &out)
	return out, err
}

func (c *Client) URLCount(ctx context.Context) (int, error) {
	var out countBody
	err := c.do(ctx, http.MethodGet, "/api/urls/count", nil, &out)
	return out.Count, err
}

// Export downloads the interchange document.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/export", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Import uploads an interchange document and returns how many ids were new.
func (c *Client) Import(ctx context.Context, doc []byte) (int, error) {
	var out struct {
		Imported int `json:"imported"`
	}
	err := c.do(ctx, http.MethodPost, "/api/import", json.RawMessage(doc), &out)
	return out.Imported, err
}

func (c *Client) Queue(ctx context.Context) ([]QueueEntry, error) {
	var out []QueueEntry
	err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out)
	return out, err
}

// DeleteQueueItem removes one direct queue item. An unknown URL returns false without an error.
func (c *Client) DeleteQueueItem(ctx context.Context, url string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/queue/item", map[string]string{"url": url}, &out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return false, nil
	}
	return out.Deleted, err
}

func (c *Client) ClearQueue(ctx context.Context) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/queue", nil, &out)
	return out.Deleted, err
}

// Logs fetches the newest log entries. A non-positive limit uses the server default.
func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	path := "/api/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []LogEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(eb.Error)}
}
