package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// terminateGrace is how long a SIGTERM'd server process gets before SIGKILL.
const terminateGrace = 5 * time.Second

// StdioTransport talks newline-delimited JSON to a spawned server process
// over its standard streams. A background reader continuously parses stdout
// into an incoming queue while a second reader drains stderr; the process's
// exit status is observed on Close or Terminate.
type StdioTransport struct {
	command string
	logger  *Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	group *errgroup.Group

	incoming chan json.RawMessage
	done     chan struct{}

	mu        sync.Mutex
	stderr    bytes.Buffer
	malformed int
	eof       bool
	exitCode  int
	exited    bool
	closeOnce sync.Once
}

// NewStdioTransport creates a transport that will spawn the given shell
// command on Start.
func NewStdioTransport(command string, logger *Logger) *StdioTransport {
	return &StdioTransport{
		command:  command,
		logger:   logger,
		incoming: make(chan json.RawMessage, 256),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// Start spawns the server process and begins reading its output streams.
func (t *StdioTransport) Start(ctx context.Context) error {
	args, err := splitCommandLine(t.command)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("empty server command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %q: %w", args[0], err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.group = &errgroup.Group{}
	t.group.Go(func() error { return t.readStdout(stdout) })
	t.group.Go(func() error { return t.readStderr(stderr) })

	return nil
}

// readStdout parses newline-delimited JSON from the server's stdout into the
// incoming queue. Non-JSON lines are counted, not fatal. EOF marks the
// transport disconnected.
func (t *StdioTransport) readStdout(r io.Reader) error {
	defer close(t.done)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(trimmed)) > 0 {
			if json.Valid(trimmed) {
				raw := make(json.RawMessage, len(trimmed))
				copy(raw, trimmed)
				select {
				case t.incoming <- raw:
				default:
					t.logger.WarningVerbose("incoming queue full, dropping message")
				}
			} else {
				t.mu.Lock()
				t.malformed++
				t.mu.Unlock()
				t.logger.Debug("non-JSON line from server stdout: %.200s", trimmed)
			}
		}
		if err != nil {
			t.mu.Lock()
			t.eof = true
			t.mu.Unlock()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (t *StdioTransport) readStderr(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.mu.Lock()
		t.stderr.WriteString(scanner.Text())
		t.stderr.WriteByte('\n')
		t.mu.Unlock()
	}
	return nil
}

// Send writes one JSON value as a single newline-terminated line.
func (t *StdioTransport) Send(ctx context.Context, msg any) error {
	if t.stdin == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return t.writeLine(append(data, '\n'))
}

// SendInvalid writes one line that is not JSON, then leaves the stream
// usable for well-formed traffic.
func (t *StdioTransport) SendInvalid(ctx context.Context) error {
	if t.stdin == nil {
		return ErrNotStarted
	}
	return t.writeLine([]byte("not json at all\n"))
}

func (t *StdioTransport) writeLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.stdin.Write(line); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Receive returns the next queued message. Messages already queued are
// delivered even after the process exits, so a short-lived server's final
// output is not lost.
func (t *StdioTransport) Receive(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-t.incoming:
		return msg, nil
	default:
	}

	select {
	case msg := <-t.incoming:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		// Drain anything that raced with the close.
		select {
		case msg := <-t.incoming:
			return msg, nil
		default:
			return nil, ErrDisconnected
		}
	}
}

// MalformedCount reports the number of non-JSON stdout lines seen so far.
func (t *StdioTransport) MalformedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.malformed
}

// Stderr returns everything the server wrote to its error stream so far.
func (t *StdioTransport) Stderr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stderr.String()
}

// Disconnected reports whether the server closed its stdout.
func (t *StdioTransport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eof
}

// Terminate signals the server process and waits for it to exit within the
// grace window, escalating to SIGKILL if it does not. It returns the exit
// code, or an error when the process would not die on its own.
func (t *StdioTransport) Terminate(sig syscall.Signal) (int, error) {
	if t.cmd == nil || t.cmd.Process == nil {
		return -1, ErrNotStarted
	}

	if err := t.cmd.Process.Signal(sig); err != nil {
		return -1, fmt.Errorf("failed to signal process: %w", err)
	}

	waited := make(chan error, 1)
	go func() { waited <- t.cmd.Wait() }()

	select {
	case <-waited:
		code := t.cmd.ProcessState.ExitCode()
		t.recordExit(code)
		return code, nil
	case <-time.After(terminateGrace):
		_ = t.cmd.Process.Kill()
		<-waited
		t.recordExit(t.cmd.ProcessState.ExitCode())
		return t.ExitCode(), fmt.Errorf("process did not exit within %s, killed", terminateGrace)
	}
}

func (t *StdioTransport) recordExit(code int) {
	t.mu.Lock()
	t.exitCode = code
	t.exited = true
	t.mu.Unlock()
}

// ExitCode returns the observed exit code, or -1 if the process has not
// been waited on.
func (t *StdioTransport) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Close terminates the subprocess if it is still running and waits for the
// background readers. Safe to call more than once.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.cmd == nil {
			return
		}
		t.mu.Lock()
		exited := t.exited
		t.mu.Unlock()
		if !exited && t.cmd.Process != nil {
			_, err = t.Terminate(syscall.SIGTERM)
		}
		if t.group != nil {
			_ = t.group.Wait()
		}
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
	})
	return err
}

// splitCommandLine splits a shell-ish command into argv, honoring single and
// double quotes. It is intentionally simpler than a full shell: no variable
// expansion, no escapes inside single quotes.
func splitCommandLine(command string) ([]string, error) {
	var (
		args    []string
		current []rune
		quote   rune
		inArg   bool
	)

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current = append(current, r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, string(current))
				current = current[:0]
				inArg = false
			}
		default:
			current = append(current, r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in command: %s", command)
	}
	if inArg {
		args = append(args, string(current))
	}
	return args, nil
}
