package probe

import (
	"context"
	"strings"
	"syscall"
	"time"
)

// largePayloadSize is the oversized string argument used to probe payload
// limits (100KB).
const largePayloadSize = 100 * 1024

// edgeSuite stresses behavior at the boundaries: absent params, oversized
// payloads, latency, and process shutdown.
func edgeSuite() suiteDef {
	return suiteDef{
		Name: "edge",
		Checks: []checkDef{
			{
				ID:          "EDGE-001",
				Description: "tools/list accepts empty params object",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 301,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return FailTimeout("No response (timeout)")
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("Server returned error for empty params: %s", resp.Error.Message)
					}
					return Pass("Server accepted empty params object")
				},
			},
			{
				ID:          "EDGE-002",
				Description: "tools/list accepts missing params field",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 302,
						"method":  methodToolsList,
					}, rc.timeout)
					if err != nil || resp == nil {
						return FailTimeout("No response (timeout)")
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("Server returned error for missing params: %s", resp.Error.Message)
					}
					return Pass("Server accepted request without params field")
				},
			},
			{
				ID:          "EDGE-003",
				Description: "Server handles 100KB+ payload",
				Severity:    SeverityInfo,
				Run:         checkLargePayload,
			},
			{
				ID:          "EDGE-004",
				Description: "Response time within timeout",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					start := time.Now()
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 304,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					elapsed := time.Since(start)
					if err != nil || resp == nil {
						return FailTimeout("No response (timeout)")
					}
					threshold := time.Duration(float64(rc.timeout) * 0.8)
					switch {
					case elapsed > rc.timeout:
						return Fail("Response took %.2fs (timeout=%s)", elapsed.Seconds(), rc.timeout)
					case elapsed > threshold:
						return Warn("Response took %.2fs (>%.1fs = 80%% of timeout)", elapsed.Seconds(), threshold.Seconds())
					}
					return Pass("Response in %.3fs", elapsed.Seconds())
				},
			},
			{
				ID:          "EDGE-005",
				Description: "Server graceful shutdown on SIGTERM",
				Severity:    SeverityInfo,
				Run:         checkGracefulShutdown,
			},
		},
	}
}

// findStringParamTool returns the first tool exposing a plain string
// parameter, with the parameter name.
func findStringParamTool(tools []map[string]any) (toolName, paramName string, found bool) {
	for _, t := range tools {
		schema, _ := t["inputSchema"].(map[string]any)
		props, _ := schema["properties"].(map[string]any)
		for name, raw := range props {
			prop, _ := raw.(map[string]any)
			if typ, _ := prop["type"].(string); typ == "string" {
				toolName, _ = t["name"].(string)
				return toolName, name, true
			}
		}
	}
	return "", "", false
}

// checkLargePayload sends a 100KB string argument. Both acceptance and a
// clean error (such as -32801 Content too large) pass; only an unresponsive
// server fails.
func checkLargePayload(ctx context.Context, rc *runContext) Outcome {
	toolName, paramName, found := findStringParamTool(rc.tools)
	if !found {
		return Skip("No tool with string parameter found")
	}
	huge := strings.Repeat("x", largePayloadSize)
	resp, err := rc.session.CallTool(ctx, toolName, map[string]any{paramName: huge}, nil)
	if err != nil {
		if err == ErrTimedOut {
			return FailTimeout("Server timed out on 100KB+ payload")
		}
		return Pass("Server rejected large payload at transport level: %v", err)
	}
	rc.recordErrorCode(resp)
	if resp.Error != nil {
		return Pass("Server returned error for large payload: %.100s", resp.Error.Message)
	}
	return Pass("Server handled 100KB+ payload successfully")
}

// checkGracefulShutdown SIGTERMs a stdio server and inspects the exit code.
// This check runs last: the subprocess is gone afterwards.
func checkGracefulShutdown(ctx context.Context, rc *runContext) Outcome {
	stdio, ok := rc.session.Transport().(*StdioTransport)
	if !ok {
		return Skip("SIGTERM test only applicable to stdio transport")
	}
	code, err := stdio.Terminate(syscall.SIGTERM)
	if err != nil {
		return Fail("Process did not terminate cleanly after SIGTERM: %v", err)
	}
	if code == 0 {
		return Pass("Process exited with code 0 after SIGTERM")
	}
	return Warn("Process exited with code %d after SIGTERM", code)
}
