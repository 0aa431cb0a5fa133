package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// LifecycleState tracks the MCP handshake. It only ever advances.
type LifecycleState int

const (
	StateUninitialized LifecycleState = iota
	StateInitializing
	StateInitialized
	StateShuttingDown
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Label returns the spec name for well-known error codes, "custom"
// otherwise.
func (e *RPCError) Label() string {
	if label, ok := jsonRPCErrorLabels[e.Code]; ok {
		return label
	}
	return "custom"
}

// Response is a correlated JSON-RPC response as received off the wire. Raw
// preserves the exact bytes for shape checks.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// HasResult reports whether the response carries a result member.
func (r *Response) HasResult() bool { return len(r.Result) > 0 }

// ResultMap decodes the result into a generic object. A missing or
// non-object result yields an empty map.
func (r *Response) ResultMap() map[string]any {
	m := map[string]any{}
	if len(r.Result) > 0 {
		_ = json.Unmarshal(r.Result, &m)
	}
	return m
}

// Notification is a server-pushed message with no correlated request.
type Notification struct {
	Method string
	Params map[string]any
	Raw    json.RawMessage
}

// maxRecordedNotifications bounds the session's notification record.
const maxRecordedNotifications = 1024

// pumpPollInterval is how long each Transport.Receive poll of the reader
// pump blocks before checking for shutdown.
const pumpPollInterval = 200 * time.Millisecond

// Session owns a Transport and layers JSON-RPC request/response correlation
// on top of it: unique request ids, a pending-request table, and concurrent
// demultiplexing of server-pushed notifications. A single background reader
// pump is the only consumer of the Transport, so notification delivery is
// never blocked behind a pending request wait.
type Session struct {
	transport Transport
	logger    *Logger
	timeout   time.Duration

	nextID  atomic.Int64
	nextSub atomic.Int64

	mu            sync.Mutex
	pending       map[int64]chan *Response
	notifications []Notification
	subs          map[int64]chan Notification
	violations    []string
	state         LifecycleState
	serverInfo    json.RawMessage
	capabilities  map[string]any
	initResponse  *Response
	discErr       error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a Session over the given transport. The timeout bounds
// every request/response wait unless a check overrides it.
func NewSession(transport Transport, timeout time.Duration, logger *Logger) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		transport: transport,
		logger:    logger,
		timeout:   timeout,
		pending:   map[int64]chan *Response{},
		subs:      map[int64]chan Notification{},
		done:      make(chan struct{}),
	}
}

// Start opens the transport and starts the reader pump.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pump(pumpCtx)
	return nil
}

// Transport exposes the underlying transport for checks that need
// transport-specific behavior (raw invalid payloads, SIGTERM).
func (s *Session) Transport() Transport { return s.transport }

// pump continuously drains the transport so notifications are delivered
// even while a request wait is in progress. It exits when the transport
// disconnects or the session closes.
func (s *Session) pump(ctx context.Context) {
	defer close(s.done)
	for {
		raw, err := s.transport.Receive(ctx, pumpPollInterval)
		switch {
		case err == nil:
			s.dispatch(raw)
		case errors.Is(err, ErrTimedOut):
			continue
		case errors.Is(err, context.Canceled):
			return
		default:
			s.mu.Lock()
			s.discErr = err
			s.mu.Unlock()
			return
		}
	}
}

// dispatch routes one inbound message: anything carrying a method and no id
// is a notification; anything with an id is matched against the pending
// table; an unmatched id is recorded as a protocol violation without
// touching other entries.
func (s *Session) dispatch(raw json.RawMessage) {
	var env struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("undecodable message: %v", err)
		return
	}

	if env.Method != "" || env.ID == nil {
		var notif struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		_ = json.Unmarshal(raw, &notif)
		s.logger.Notification(notif.Method, notif.Params)
		s.recordNotification(Notification{Method: notif.Method, Params: notif.Params, Raw: raw})
		return
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.logger.Debug("undecodable response: %v", err)
		return
	}
	resp.Raw = raw

	id, ok := numericID(resp.ID)
	if !ok {
		s.recordViolation(fmt.Sprintf("response with non-numeric id %v", resp.ID))
		return
	}

	s.mu.Lock()
	ch, found := s.pending[id]
	if found {
		delete(s.pending, id)
	} else {
		s.violations = append(s.violations, fmt.Sprintf("response with unknown id %d", id))
	}
	s.mu.Unlock()

	if found {
		ch <- &resp
	} else {
		s.logger.Debug("dropping response with unknown id %d", id)
	}
}

func (s *Session) recordNotification(n Notification) {
	s.mu.Lock()
	if len(s.notifications) < maxRecordedNotifications {
		s.notifications = append(s.notifications, n)
	}
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Session) recordViolation(v string) {
	s.mu.Lock()
	s.violations = append(s.violations, v)
	s.mu.Unlock()
}

// numericID normalizes a decoded JSON id to int64.
func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Request sends a request with a session-assigned id and waits for the
// matching response within the session timeout.
func (s *Session) Request(ctx context.Context, method string, params any) (*Response, error) {
	return s.RequestTimeout(ctx, method, params, s.timeout)
}

// RequestTimeout is Request with an explicit timeout. On timeout the
// pending entry is removed and ErrTimedOut returned; the table and all
// other pending entries are left intact. The request is never retried.
func (s *Session) RequestTimeout(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	id := s.nextID.Add(1)
	if params == nil {
		params = map[string]any{}
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	s.logger.Request(method, params)
	resp, err := s.sendAndWait(ctx, id, msg, timeout)
	if err != nil {
		return nil, err
	}
	s.logger.Response(method, json.RawMessage(resp.Raw))
	return resp, nil
}

// SendRaw writes an arbitrary payload. When the payload carries a numeric
// id the matching response is awaited; without an id nothing is expected
// back and (nil, nil) is returned.
func (s *Session) SendRaw(ctx context.Context, payload map[string]any, timeout time.Duration) (*Response, error) {
	rawID, hasID := payload["id"]
	if !hasID {
		return nil, s.transport.Send(ctx, payload)
	}
	id, ok := numericID(rawID)
	if !ok {
		return nil, fmt.Errorf("raw payload id must be numeric, got %v", rawID)
	}
	return s.sendAndWait(ctx, id, payload, timeout)
}

// SendNotification writes a notification (no id, no reply expected).
func (s *Session) SendNotification(ctx context.Context, method string, params any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	s.logger.Request(method, params)
	return s.transport.Send(ctx, msg)
}

func (s *Session) sendAndWait(ctx context.Context, id int64, msg any, timeout time.Duration) (*Response, error) {
	ch := make(chan *Response, 1)

	s.mu.Lock()
	if s.discErr != nil {
		s.mu.Unlock()
		return nil, ErrDisconnected
	}
	s.pending[id] = ch
	s.mu.Unlock()

	unregister := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	if err := s.transport.Send(ctx, msg); err != nil {
		unregister()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		unregister()
		return nil, ErrTimedOut
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	case <-s.done:
		unregister()
		return nil, ErrDisconnected
	}
}

// Initialize performs the MCP handshake: initialize, capability capture,
// then notifications/initialized. The lifecycle state advances to
// Initialized only when the response is well-formed.
func (s *Session) Initialize(ctx context.Context) (*Response, error) {
	s.advanceState(StateInitializing)

	params := map[string]any{
		"protocolVersion": SpecVersion,
		"capabilities":    mcp.ClientCapabilities{},
		"clientInfo": mcp.Implementation{
			Name:    "mcp-probe",
			Version: ProbeVersion,
		},
	}
	resp, err := s.Request(ctx, methodInitialize, params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.initResponse = resp
	s.mu.Unlock()

	if resp.HasResult() {
		result := resp.ResultMap()
		version, versionOK := result["protocolVersion"].(string)
		caps, capsOK := result["capabilities"].(map[string]any)
		if versionOK && version != "" && capsOK {
			s.mu.Lock()
			s.capabilities = caps
			if info, ok := result["serverInfo"]; ok {
				s.serverInfo, _ = json.Marshal(info)
			}
			s.mu.Unlock()
			s.advanceState(StateInitialized)
		}
	}

	if err := s.SendNotification(ctx, notificationInitialized, nil); err != nil {
		return resp, err
	}
	return resp, nil
}

// ListPaginated fetches every page of a list method, following nextCursor.
// It reports whether the server paginated at all.
func (s *Session) ListPaginated(ctx context.Context, method, key string) ([]map[string]any, bool, error) {
	var (
		items     []map[string]any
		paginated bool
		cursor    string
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		resp, err := s.Request(ctx, method, params)
		if err != nil {
			return nil, paginated, err
		}
		if resp.Error != nil {
			return nil, paginated, fmt.Errorf("%s error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		result := resp.ResultMap()
		rawItems, ok := result[key].([]any)
		if !ok && result[key] != nil {
			return nil, paginated, fmt.Errorf("%q is not a list", key)
		}
		for _, item := range rawItems {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
		next, _ := result["nextCursor"].(string)
		if next == "" {
			return items, paginated, nil
		}
		paginated = true
		cursor = next
	}
}

// Notifications returns a snapshot of recorded notifications for a method;
// an empty method matches all.
func (s *Session) Notifications(method string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notifications {
		if method == "" || n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

// CollectNotifications returns already-recorded notifications for a method
// plus any that arrive within the collection window. It never blocks past
// the window.
func (s *Session) CollectNotifications(ctx context.Context, method string, window time.Duration) []Notification {
	ch := make(chan Notification, 64)
	subID := s.nextSub.Add(1)
	s.mu.Lock()
	s.subs[subID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
	}()

	out := s.Notifications(method)
	seen := len(out)

	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case n := <-ch:
			if method == "" || n.Method == method {
				out = append(out, n)
				seen++
			}
		case <-timer.C:
			return out
		case <-ctx.Done():
			return out
		case <-s.done:
			return out
		}
	}
}

// Violations returns the protocol violations the reader pump has recorded
// (unmatched or non-numeric response ids).
func (s *Session) Violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// State returns the current lifecycle state.
func (s *Session) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advanceState moves the lifecycle forward; regressions are ignored.
func (s *Session) advanceState(to LifecycleState) {
	s.mu.Lock()
	if to > s.state {
		s.state = to
	}
	s.mu.Unlock()
}

// Capabilities returns the capability object captured at initialize time.
func (s *Session) Capabilities() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// HasCapability reports whether the server advertises a top-level
// capability.
func (s *Session) HasCapability(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.capabilities[name]
	return ok
}

// SubCapability reports whether a nested boolean capability (for example
// resources.subscribe) is advertised as true.
func (s *Session) SubCapability(name, sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	nested, ok := s.capabilities[name].(map[string]any)
	if !ok {
		return false
	}
	val, _ := nested[sub].(bool)
	return val
}

// ServerInfo returns the serverInfo object from the handshake.
func (s *Session) ServerInfo() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// InitResponse returns the raw initialize response for the lifecycle suite.
func (s *Session) InitResponse() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initResponse
}

// Disconnected reports whether the reader pump observed a transport loss.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discErr != nil
}

// Close shuts the session down: lifecycle advances through ShuttingDown to
// Closed, the pump stops, and the transport is released.
func (s *Session) Close() error {
	s.advanceState(StateShuttingDown)
	if s.cancel != nil {
		s.cancel()
	}
	err := s.transport.Close()
	s.advanceState(StateClosed)
	return err
}
