package odin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	metadataAccept = "application/json;metadata=true"
	jsonType       = "application/json"
)

var ErrNotConnected = errors.New("no HTTP connection established")

// StatusError is returned for non-2xx responses. Body holds the decoded
// response object when the server sent one.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       map[string]any
}

func (e *StatusError) Error() string {
	if msg, ok := e.Body["error"]; ok {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Connection is a JSON client for one odin-control server. It is safe for
// concurrent use once opened.
type Connection struct {
	host    string
	port    int
	timeout time.Duration

	mu     sync.RWMutex
	client *http.Client
}

func NewConnection(host string, port int, timeout time.Duration) *Connection {
	return &Connection{
		host:    host,
		port:    port,
		timeout: timeout,
	}
}

// Open creates the underlying HTTP client. Opening an open connection is a no-op.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.client = &http.Client{
		Timeout:   c.timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
	return nil
}

// Close releases idle connections. Requests issued afterwards fail with
// ErrNotConnected.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	c.client.CloseIdleConnections()
	c.client = nil
	return nil
}

func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// FullURL expands a resource URI into an absolute URL.
func (c *Connection) FullURL(uri string) string {
	return fmt.Sprintf("http://%s:%d/%s", c.host, c.port, strings.TrimPrefix(uri, "/"))
}

// Get fetches the plain value representation of a resource.
func (c *Connection) Get(ctx context.Context, uri string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, uri, nil, jsonType)
}

// GetMetadata fetches the metadata-augmented representation of a resource.
func (c *Connection) GetMetadata(ctx context.Context, uri string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, uri, nil, metadataAccept)
}

// Put writes a JSON value to a resource. On a non-2xx reply the decoded
// body is returned together with a *StatusError.
func (c *Connection) Put(ctx context.Context, uri string, value any) (map[string]any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return c.do(ctx, http.MethodPut, uri, payload, jsonType)
}

func (c *Connection) do(ctx context.Context, method, uri string, payload []byte, accept string) (map[string]any, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, ErrNotConnected
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	url := c.FullURL(uri)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", jsonType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, url, err)
	}
	defer resp.Body.Close()

	decoded, decodeErr := decodeObject(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decoded, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: decoded}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s %s: malformed response: %w", method, url, decodeErr)
	}

	return decoded, nil
}

func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return out, nil
}
