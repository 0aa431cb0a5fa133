package probe

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions the runner and checks branch on.
var (
	// ErrTimedOut is returned when a request/response exchange or a bounded
	// wait exceeds its deadline. The wait is cancelled; nothing else is.
	ErrTimedOut = errors.New("timed out")

	// ErrDisconnected is returned once the transport is lost mid-run. All
	// remaining checks are skipped; recorded results stand.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrNotStarted is returned when a transport is used before Start.
	ErrNotStarted = errors.New("transport not started")
)

// ConnectError reports that the transport could not be established at all.
// It is the only condition that aborts a run before any suite executes.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthRequiredError is returned by the HTTP transport when the server
// answers 401. It carries the WWW-Authenticate challenge for the auth suite.
type AuthRequiredError struct {
	URL       string
	Challenge string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("server returned 401 Unauthorized: %s", e.URL)
}

// OAuthFlowError reports a failure inside the OAuth discovery or
// authorization-code flow. It degrades only the affected auth checks.
type OAuthFlowError struct {
	Step string
	Err  error
}

func (e *OAuthFlowError) Error() string {
	return fmt.Sprintf("oauth %s failed: %v", e.Step, e.Err)
}

func (e *OAuthFlowError) Unwrap() error { return e.Err }
