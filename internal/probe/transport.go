package probe

import (
	"context"
	"encoding/json"
	"time"
)

// Transport is a bidirectional raw JSON message channel to the server under
// test. Implementations must tolerate malformed server output: a message
// that fails to parse increments the malformed counter instead of aborting
// the run.
//
// The Session is the sole reader and writer of a Transport once the run
// starts.
type Transport interface {
	// Start establishes the channel (spawns the subprocess or prepares the
	// HTTP client).
	Start(ctx context.Context) error

	// Send writes one JSON value.
	Send(ctx context.Context, msg any) error

	// Receive returns the next available raw JSON value, or ErrTimedOut
	// once the timeout elapses, or ErrDisconnected when the channel is
	// gone.
	Receive(ctx context.Context, timeout time.Duration) (json.RawMessage, error)

	// SendInvalid writes one deliberately malformed payload. Well-formed
	// traffic must still work afterwards.
	SendInvalid(ctx context.Context) error

	// MalformedCount reports how many unparseable messages the server has
	// produced so far.
	MalformedCount() int

	// Close releases all resources. It must be safe on every exit path,
	// including after a failure.
	Close() error
}
