package probe

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{
			name:    "simple",
			command: "npx my-server --flag",
			want:    []string{"npx", "my-server", "--flag"},
		},
		{
			name:    "double quotes",
			command: `python "my server.py"`,
			want:    []string{"python", "my server.py"},
		},
		{
			name:    "single quotes",
			command: `sh -c 'echo "hi"'`,
			want:    []string{"sh", "-c", `echo "hi"`},
		},
		{
			name:    "adjacent quoted and bare",
			command: `node --arg="a b"`,
			want:    []string{"node", "--arg=a b"},
		},
		{
			name:    "tabs and repeated spaces",
			command: "cmd\t\targ1   arg2",
			want:    []string{"cmd", "arg1", "arg2"},
		},
		{
			name:    "empty quoted argument",
			command: `cmd ""`,
			want:    []string{"cmd", ""},
		},
		{
			name:    "empty command",
			command: "",
			want:    nil,
		},
		{
			name:    "unbalanced quote",
			command: `sh -c 'oops`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitCommandLine(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitCommandLine(%q) = %#v, want %#v", tt.command, got, tt.want)
			}
		})
	}
}

func TestStdioTransportSendBeforeStart(t *testing.T) {
	tr := NewStdioTransport("cat", testLogger())
	if err := tr.Send(context.Background(), map[string]any{"id": 1}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send() before Start = %v, want ErrNotStarted", err)
	}
	if err := tr.SendInvalid(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendInvalid() before Start = %v, want ErrNotStarted", err)
	}
}

func TestStdioTransportStartBadCommand(t *testing.T) {
	tr := NewStdioTransport("/nonexistent-binary-xyz", testLogger())
	if err := tr.Start(context.Background()); err == nil {
		_ = tr.Close()
		t.Fatal("expected spawn failure")
	}
}

func TestStdioTransportRoundTrip(t *testing.T) {
	// cat echoes each request line back verbatim.
	tr := NewStdioTransport("cat", testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	msg := map[string]any{"jsonrpc": "2.0", "id": 5, "method": methodPing}
	if err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	raw, err := tr.Receive(context.Background(), testTimeoutNormal)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if !strings.Contains(string(raw), `"id":5`) {
		t.Errorf("echoed line does not contain the id: %s", raw)
	}
}

func TestStdioTransportMalformedLines(t *testing.T) {
	command := `sh -c 'printf "not json at all\n{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n"; sleep 2'`
	tr := NewStdioTransport(command, testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	raw, err := tr.Receive(context.Background(), testTimeoutNormal)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if !strings.Contains(string(raw), `"result"`) {
		t.Errorf("valid line not delivered: %s", raw)
	}
	if got := tr.MalformedCount(); got != 1 {
		t.Errorf("MalformedCount() = %d, want 1", got)
	}
}

func TestStdioTransportDisconnect(t *testing.T) {
	tr := NewStdioTransport("true", testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Receive(context.Background(), testTimeoutNormal); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Receive() after exit = %v, want ErrDisconnected", err)
	}
	if !tr.Disconnected() {
		t.Error("Disconnected() = false after stdout EOF")
	}
}

func TestStdioTransportFinalOutputNotLost(t *testing.T) {
	// A short-lived server: one response, then exit. The queued message must
	// still be delivered after the process is gone.
	command := `sh -c 'printf "{\"jsonrpc\":\"2.0\",\"id\":9,\"result\":{}}\n"'`
	tr := NewStdioTransport(command, testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	time.Sleep(200 * time.Millisecond)

	raw, err := tr.Receive(context.Background(), testTimeoutNormal)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if !strings.Contains(string(raw), `"id":9`) {
		t.Errorf("final output lost: %s", raw)
	}
}

func TestStdioTransportStderrCaptured(t *testing.T) {
	command := `sh -c 'echo "startup warning" >&2; sleep 2'`
	tr := NewStdioTransport(command, testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	time.Sleep(200 * time.Millisecond)
	if got := tr.Stderr(); !strings.Contains(got, "startup warning") {
		t.Errorf("Stderr() = %q, want startup warning", got)
	}
}

func TestStdioTransportTerminateGraceful(t *testing.T) {
	command := `sh -c 'trap "exit 0" TERM; while true; do sleep 0.1; done'`
	tr := NewStdioTransport(command, testLogger())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tr.Close()

	time.Sleep(100 * time.Millisecond)

	code, err := tr.Terminate(syscall.SIGTERM)
	if err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if tr.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", tr.ExitCode())
	}
}
