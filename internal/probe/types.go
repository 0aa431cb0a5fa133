package probe

import (
	"encoding/json"
	"time"
)

const (
	// SpecVersion is the MCP protocol revision the probe validates against.
	SpecVersion = "2025-11-25"

	// ProbeVersion is reported in clientInfo and in the report header.
	ProbeVersion = "0.1.0"

	// DefaultTimeout bounds every individual request/response exchange.
	DefaultTimeout = 30 * time.Second
)

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusSkip Status = "SKIP"
	StatusInfo Status = "INFO"
)

// Severity governs the impact of a check on the overall run: a FAIL at
// CRITICAL or ERROR severity fails the run, WARNING fails it only in strict
// mode, INFO never does.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// jsonRPCErrorLabels maps well-known JSON-RPC and MCP error codes to their
// spec names, used by the error-code summary check.
var jsonRPCErrorLabels = map[int]string{
	-32700: "Parse error",
	-32600: "Invalid Request",
	-32601: "Method not found",
	-32602: "Invalid params",
	-32603: "Internal error",
	-32800: "Request cancelled",
	-32801: "Content too large",
}

// CheckResult is the immutable outcome of one check invocation. Exactly one
// is recorded per executed (or skipped) check.
type CheckResult struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Status      Status  `json:"status"`
	Severity    Severity `json:"severity"`
	DurationMS  float64 `json:"duration_ms"`
	Details     string  `json:"details,omitempty"`

	// TimedOut distinguishes a timeout from an ordinary failure; the status
	// is still FAIL, but reporting and debugging treat the two differently.
	TimedOut bool `json:"timed_out,omitempty"`
}

// SuiteResult groups the ordered results of one suite.
type SuiteResult struct {
	Name   string        `json:"name"`
	Checks []CheckResult `json:"checks"`
}

// Summary holds aggregate counts per status for a whole run.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`
	Info     int `json:"info"`
}

// Report is the sole artifact a probe run produces. It is not mutated after
// Runner.Run returns.
type Report struct {
	ProbeVersion string          `json:"mcp_probe_version"`
	SpecVersion  string          `json:"spec_version"`
	RunID        string          `json:"run_id"`
	Target       string          `json:"target"`
	Transport    string          `json:"transport"`
	Timestamp    string          `json:"timestamp"`
	DurationMS   float64         `json:"duration_ms"`
	ServerInfo   json.RawMessage `json:"server_info,omitempty"`
	Capabilities map[string]bool `json:"capabilities"`
	Suites       []SuiteResult   `json:"suites"`

	// Aborted names the terminal condition when the run ended early
	// (handshake failure or transport disconnect). Results recorded before
	// that point stand; the remaining checks are reported as SKIP.
	Aborted string `json:"aborted,omitempty"`
}

// Summary aggregates status counts across all suites.
func (r *Report) Summary() Summary {
	var s Summary
	for _, suite := range r.Suites {
		for _, c := range suite.Checks {
			s.Total++
			switch c.Status {
			case StatusPass:
				s.Passed++
			case StatusFail:
				s.Failed++
			case StatusWarn:
				s.Warnings++
			case StatusSkip:
				s.Skipped++
			case StatusInfo:
				s.Info++
			}
		}
	}
	return s
}

// ExitCode computes the process exit code the report implies: 0 when no
// CRITICAL/ERROR-severity FAIL exists, 1 otherwise. In strict mode a
// WARNING-severity FAIL or any WARN status also yields 1. Exit code 2
// (configuration or connection failure before any suite ran) is decided by
// the caller, not from a report.
func ExitCode(r *Report, strict bool) int {
	for _, suite := range r.Suites {
		for _, c := range suite.Checks {
			if c.Status == StatusFail {
				if c.Severity == SeverityCritical || c.Severity == SeverityError {
					return 1
				}
				if strict && c.Severity == SeverityWarning {
					return 1
				}
			}
			if strict && c.Status == StatusWarn {
				if c.Severity == SeverityCritical || c.Severity == SeverityError || c.Severity == SeverityWarning {
					return 1
				}
			}
		}
	}
	return 0
}
