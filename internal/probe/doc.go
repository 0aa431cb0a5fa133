// Package probe implements the MCP server compliance probe engine.
//
// The engine drives a Model Context Protocol server, spawned as a
// subprocess (stdio transport) or reached over Streamable HTTP, through a
// fixed catalog of behavioral checks grouped into suites (lifecycle,
// JSON-RPC, tools, resources, prompts, notifications, tasks, auth, edge
// cases) and produces an immutable report with one result per check.
//
// # Key Components
//
//   - Transport: stdio-subprocess or HTTP channel with raw JSON message
//     exchange, tolerant of malformed server output
//   - Session: request-id correlation, pending-request table, concurrent
//     notification demultiplexing, lifecycle state tracking
//   - Runner: executes the check catalog in order, applies precondition
//     and severity policy, and aggregates the Report
//   - oauthContext: OAuth 2.1 discovery (RFC 9728, RFC 8414) and
//     authorization-code exchange with PKCE for the auth suite
//   - Logger: formatted logging with color support and JSON-RPC message
//     tracing
//
// Result rendering (console, JSON) lives in reporter.go; the cmd package
// owns flag parsing, file output, and process exit codes.
package probe
