package probe

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Outcome is the verdict a check body produces. Severity and duration are
// stamped on by the runner from the check's definition.
type Outcome struct {
	Status   Status
	Details  string
	TimedOut bool
}

// Pass marks the check successful, with optional detail.
func Pass(format string, args ...any) Outcome {
	return Outcome{Status: StatusPass, Details: fmt.Sprintf(format, args...)}
}

// Fail marks the check failed.
func Fail(format string, args ...any) Outcome {
	return Outcome{Status: StatusFail, Details: fmt.Sprintf(format, args...)}
}

// FailTimeout marks the check failed because the server never answered
// within the per-operation timeout.
func FailTimeout(format string, args ...any) Outcome {
	return Outcome{Status: StatusFail, Details: fmt.Sprintf(format, args...), TimedOut: true}
}

// Warn marks a non-fatal deviation.
func Warn(format string, args ...any) Outcome {
	return Outcome{Status: StatusWarn, Details: fmt.Sprintf(format, args...)}
}

// Skip marks the check not applicable, with the reason.
func Skip(format string, args ...any) Outcome {
	return Outcome{Status: StatusSkip, Details: fmt.Sprintf(format, args...)}
}

// Info records an observation that never affects the exit code.
func Info(format string, args ...any) Outcome {
	return Outcome{Status: StatusInfo, Details: fmt.Sprintf(format, args...)}
}

// runContext carries shared state between checks: the live session, the
// discovery results earlier suites produced, and everything later suites
// consume.
type runContext struct {
	session *Session
	cfg     *Config
	logger  *Logger
	timeout time.Duration

	// newTransport opens a fresh channel to the same server, for checks
	// that need an uninitialized connection.
	newTransport func() (Transport, error)

	tools              []map[string]any
	toolsPaginated     bool
	resources          []map[string]any
	resourcesPaginated bool
	prompts            []map[string]any
	promptsPaginated   bool
	tasks              []map[string]any

	subscribedURI string
	errorCodes    []int

	oauth *oauthContext
}

// recordErrorCode accumulates JSON-RPC error codes for the summary check.
func (rc *runContext) recordErrorCode(resp *Response) {
	if resp != nil && resp.Error != nil {
		rc.errorCodes = append(rc.errorCodes, resp.Error.Code)
	}
}

// errorCodeSummary renders the distinct codes seen, labeled where the code
// is one the JSON-RPC or MCP spec reserves.
func (rc *runContext) errorCodeSummary() string {
	if len(rc.errorCodes) == 0 {
		return ""
	}
	seen := map[int]bool{}
	var codes []int
	for _, code := range rc.errorCodes {
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)
	summary := ""
	for i, code := range codes {
		if i > 0 {
			summary += ", "
		}
		label := jsonRPCErrorLabels[code]
		if label == "" {
			label = "custom"
		}
		summary += fmt.Sprintf("%d (%s)", code, label)
	}
	return summary
}

// checkFunc is one check body. It returns the outcome; errors are expressed
// as FAIL outcomes, not Go errors, so a single flaky server response never
// aborts the suite.
type checkFunc func(ctx context.Context, rc *runContext) Outcome

// checkDef pairs a stable check id with its severity and body.
type checkDef struct {
	ID          string
	Description string
	Severity    Severity
	Run         checkFunc
}

// suiteDef is an ordered set of checks gated on an advertised capability.
// An empty Capability means the suite always applies.
type suiteDef struct {
	Name       string
	Capability string
	Checks     []checkDef
}
