package probe

import (
	"context"
	"time"
)

// settleDelay gives the server a moment to die (or not) after deliberately
// hostile input before the follow-up request.
const settleDelay = 300 * time.Millisecond

// jsonrpcSuite validates wire-level JSON-RPC conformance using raw payloads
// with ids from the reserved range, so the session's own counter is never
// confused.
func jsonrpcSuite() suiteDef {
	return suiteDef{
		Name: "jsonrpc",
		Checks: []checkDef{
			{
				ID:          "RPC-001",
				Description: "Response contains jsonrpc 2.0 field",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 101,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("No response received")
					}
					if resp.JSONRPC != "2.0" {
						return Fail("jsonrpc field is %q, expected \"2.0\"", resp.JSONRPC)
					}
					return Pass("")
				},
			},
			{
				ID:          "RPC-002",
				Description: "Response id matches request id",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 142,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("No response received")
					}
					// SendRaw correlates by id, so a delivered response is
					// the match. Verify the echoed value anyway.
					if id, ok := numericID(resp.ID); !ok || id != rawIDBase+142 {
						return Fail("Response id is %v, expected %d", resp.ID, rawIDBase+142)
					}
					return Pass("")
				},
			},
			{
				ID:          "RPC-003",
				Description: "Error response has valid structure",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 103,
						"method":  "nonexistent/method_for_rpc003",
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("No response received")
					}
					rc.recordErrorCode(resp)
					if resp.Error == nil {
						return Fail("Server did not return an error for unknown method")
					}
					if resp.Error.Message == "" {
						return Fail("error.message is empty or not a string")
					}
					return Pass("code=%d, message=%q", resp.Error.Code, resp.Error.Message)
				},
			},
			{
				ID:          "RPC-004",
				Description: "Server survives invalid JSON input",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					_ = rc.session.Transport().SendInvalid(ctx)
					time.Sleep(settleDelay)

					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 104,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("Server stopped responding after invalid JSON")
					}
					return Pass("Server still responds after invalid JSON")
				},
			},
			{
				ID:          "RPC-005",
				Description: "Unknown method returns -32601",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 105,
						"method":  "nonexistent/method_for_rpc005",
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("No response received")
					}
					rc.recordErrorCode(resp)
					if resp.Error == nil {
						return Fail("Server did not return an error for unknown method")
					}
					if resp.Error.Code == codeMethodNotFound {
						return Pass("Correct error code -32601 (Method not found)")
					}
					return Warn("Error returned but code is %d, expected -32601", resp.Error.Code)
				},
			},
			{
				ID:          "RPC-006",
				Description: "Server ignores unknown notification",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					_ = rc.session.SendNotification(ctx, "nonexistent/notification_for_rpc006", nil)
					time.Sleep(settleDelay)

					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 106,
						"method":  methodToolsList,
						"params":  map[string]any{},
					}, rc.timeout)
					if err != nil || resp == nil {
						return Fail("Server stopped responding after unknown notification")
					}
					return Pass("Server still responds after unknown notification")
				},
			},
			{
				ID:          "RPC-007",
				Description: "Error codes summary",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					summary := rc.errorCodeSummary()
					if summary == "" {
						return Info("No error codes observed during testing")
					}
					return Info("Error codes seen: %s", summary)
				},
			},
		},
	}
}
