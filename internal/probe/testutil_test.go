package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Test timeout constants
const (
	testTimeoutShort  = 100 * time.Millisecond
	testTimeoutNormal = 2 * time.Second
)

func testLogger() *Logger {
	return NewLoggerWithWriter(false, false, false, nil)
}

// fakeTransport is an in-memory Transport for session tests. Its handler
// maps each sent message to zero or more raw inbound messages.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []map[string]any
	incoming   chan json.RawMessage
	handler    func(msg map[string]any) []string
	malformed  int
	receiveErr error
}

func newFakeTransport(handler func(msg map[string]any) []string) *fakeTransport {
	return &fakeTransport{
		incoming: make(chan json.RawMessage, 64),
		handler:  handler,
	}
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, m)
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		for _, out := range handler(m) {
			f.incoming <- json.RawMessage(out)
		}
	}
	return nil
}

func (f *fakeTransport) SendInvalid(ctx context.Context) error { return nil }

func (f *fakeTransport) Receive(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	recvErr := f.receiveErr
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-f.incoming:
		return msg, nil
	default:
	}
	if recvErr != nil {
		return nil, recvErr
	}
	select {
	case msg := <-f.incoming:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failReceives makes every subsequent Receive return err once the queue is
// drained, simulating a transport loss.
func (f *fakeTransport) failReceives(err error) {
	f.mu.Lock()
	f.receiveErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) MalformedCount() int { return f.malformed }

func (f *fakeTransport) Close() error { return nil }

// push injects a server-originated message.
func (f *fakeTransport) push(raw string) {
	f.incoming <- json.RawMessage(raw)
}

func (f *fakeTransport) sentMessages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.sent...)
}

// echoHandler answers every request with an empty result under the same id.
func echoHandler(m map[string]any) []string {
	id, ok := m["id"].(float64)
	if !ok {
		return nil
	}
	return []string{fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, int64(id))}
}

// mockMCPServer is a Streamable HTTP MCP server for transport and runner
// tests. It implements enough of the protocol to drive a full probe run.
type mockMCPServer struct {
	*httptest.Server
	t *testing.T

	// Configuration
	failInitialize bool
	paginateTools  bool
	capabilities   map[string]any

	mu           sync.Mutex
	requestCount int
	methods      []string
}

func newMockMCPServer(t *testing.T) *mockMCPServer {
	t.Helper()

	mms := &mockMCPServer{
		t: t,
		capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{"subscribe": true},
			"prompts":   map[string]any{},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", mms.handleRequest)
	mms.Server = httptest.NewServer(mux)
	return mms
}

func (mms *mockMCPServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusOK)
		return
	}

	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "parse error", http.StatusBadRequest)
		return
	}

	method, _ := msg["method"].(string)
	mms.mu.Lock()
	mms.requestCount++
	mms.methods = append(mms.methods, method)
	mms.mu.Unlock()

	id, hasID := msg["id"]
	if !hasID {
		// Notification: accepted with no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(sessionIDHeader, "sess-test-1")

	respond := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  result,
		})
	}
	respondError := func(code int, message string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"error":   map[string]any{"code": code, "message": message},
		})
	}

	params, _ := msg["params"].(map[string]any)

	switch method {
	case methodInitialize:
		if mms.failInitialize {
			respondError(-32603, "initialize refused")
			return
		}
		respond(map[string]any{
			"protocolVersion": SpecVersion,
			"capabilities":    mms.capabilities,
			"serverInfo":      map[string]any{"name": "mock-server", "version": "1.0.0"},
		})
	case methodPing:
		respond(map[string]any{})
	case methodToolsList:
		cursor, _ := params["cursor"].(string)
		switch {
		case mms.paginateTools && cursor == "":
			respond(map[string]any{
				"tools":      []any{echoToolDefinition()},
				"nextCursor": "page-2",
			})
		case mms.paginateTools && cursor == "page-2":
			respond(map[string]any{"tools": []any{uppercaseToolDefinition()}})
		default:
			respond(map[string]any{"tools": []any{echoToolDefinition()}})
		}
	case methodToolsCall:
		name, _ := params["name"].(string)
		if name == "echo" {
			respond(map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "ok"}},
			})
			return
		}
		respondError(-32602, "unknown tool")
	case methodResourcesList:
		respond(map[string]any{"resources": []any{map[string]any{
			"uri":      "mock://greeting",
			"name":     "greeting",
			"mimeType": "text/plain",
		}}})
	case methodResourcesRead:
		uri, _ := params["uri"].(string)
		if uri != "mock://greeting" {
			respondError(-32002, "resource not found")
			return
		}
		respond(map[string]any{"contents": []any{map[string]any{
			"uri":  uri,
			"text": "hello",
		}}})
	case methodResourcesSub, methodResourcesUnsub:
		respond(map[string]any{})
	case methodPromptsList:
		respond(map[string]any{"prompts": []any{map[string]any{
			"name":        "greet",
			"description": "Greets someone",
			"arguments":   []any{map[string]any{"name": "who"}},
		}}})
	case methodPromptsGet:
		respond(map[string]any{"messages": []any{map[string]any{
			"role":    "user",
			"content": map[string]any{"type": "text", "text": "hi"},
		}}})
	default:
		respondError(codeMethodNotFound, "Method not found")
	}
}

func echoToolDefinition() map[string]any {
	return map[string]any{
		"name":        "echo",
		"description": "Echoes its input",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}
}

func uppercaseToolDefinition() map[string]any {
	return map[string]any{
		"name":        "uppercase",
		"description": "Uppercases its input",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}
}

func (mms *mockMCPServer) calledMethods() []string {
	mms.mu.Lock()
	defer mms.mu.Unlock()
	return append([]string(nil), mms.methods...)
}
