package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Maximum HTTP response body the transport will buffer (4MB).
const maxHTTPBodySize = 4 * 1024 * 1024

// sessionIDHeader carries the Streamable HTTP session identifier.
const sessionIDHeader = "Mcp-Session-Id"

// HTTPTransport implements Streamable HTTP: one POST per outgoing message,
// with the response either a single JSON document or a text/event-stream
// whose events are decoded into the incoming queue.
type HTTPTransport struct {
	url     string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
	logger  *Logger

	incoming chan json.RawMessage

	mu        sync.Mutex
	sessionID string
	malformed int
}

// NewHTTPTransport creates a transport for the given endpoint. Custom
// headers are attached to every request.
func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration, logger *Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		url:      url,
		headers:  headers,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		incoming: make(chan json.RawMessage, 256),
	}
}

// Start is a no-op for HTTP; the connection is per-request.
func (t *HTTPTransport) Start(ctx context.Context) error {
	return nil
}

// Send POSTs one JSON value. Responses are queued for Receive: a JSON body
// becomes one message, an event-stream body becomes one message per event.
// A 401 surfaces as AuthRequiredError carrying the WWW-Authenticate
// challenge.
func (t *HTTPTransport) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return t.post(ctx, data)
}

// SendInvalid POSTs a syntactically invalid body. Any HTTP-level rejection
// is fine; the point is that subsequent well-formed traffic still works.
func (t *HTTPTransport) SendInvalid(ctx context.Context) error {
	err := t.post(ctx, []byte(`{"jsonrpc": "2.0", invalid`))
	if err != nil {
		// Rejecting the request outright is a valid server reaction.
		t.logger.Debug("invalid payload rejected at HTTP level: %v", err)
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionIDHeader, sid)
	}
	for name, value := range t.headers {
		req.Header.Set(name, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthRequiredError{
			URL:       t.url,
			Challenge: resp.Header.Get("WWW-Authenticate"),
		}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/event-stream"):
		for _, event := range parseSSEStream(bytes.NewReader(payload)) {
			t.queue([]byte(event.Data))
		}
	case len(bytes.TrimSpace(payload)) > 0:
		t.queue(payload)
	}
	return nil
}

// queue enqueues one raw message, counting it as malformed when it does not
// parse as JSON.
func (t *HTTPTransport) queue(data []byte) {
	if !json.Valid(data) {
		t.mu.Lock()
		t.malformed++
		t.mu.Unlock()
		t.logger.Debug("non-JSON payload from server: %.200s", data)
		return
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	select {
	case t.incoming <- raw:
	default:
		t.logger.WarningVerbose("incoming queue full, dropping message")
	}
}

// Receive returns the next queued message.
func (t *HTTPTransport) Receive(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-t.incoming:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MalformedCount reports how many unparseable payloads the server produced.
func (t *HTTPTransport) MalformedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.malformed
}

// SessionID returns the server-assigned session id, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// URL returns the endpoint this transport targets.
func (t *HTTPTransport) URL() string { return t.url }

// Close deletes the server-side session when one was assigned. A 405 from
// servers that do not support DELETE is ignored.
func (t *HTTPTransport) Close() error {
	sid := t.SessionID()
	if sid == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, t.url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionIDHeader, sid)
	for name, value := range t.headers {
		req.Header.Set(name, value)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("session DELETE failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		t.logger.Debug("server does not support session DELETE (405)")
	}
	return nil
}
