package probe

import (
	"context"
	"errors"
)

// lifecycleSuite covers the initialize handshake. INIT-001 is the gateway
// check: when it fails the runner skips everything downstream.
func lifecycleSuite() suiteDef {
	return suiteDef{
		Name: "lifecycle",
		Checks: []checkDef{
			{
				ID:          "INIT-001",
				Description: "Server responds to initialize",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.Initialize(ctx)
					if errors.Is(err, ErrTimedOut) {
						return FailTimeout("No response to initialize within %s", rc.timeout)
					}
					if err != nil {
						return Fail("initialize failed: %v", err)
					}
					if !resp.HasResult() {
						return Fail("No 'result' in response: %s", compactJSON(resp.Raw))
					}
					return Pass("")
				},
			},
			{
				ID:          "INIT-002",
				Description: "protocolVersion is present and valid",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp := rc.session.InitResponse()
					if resp == nil {
						return Skip("INIT-001 did not complete")
					}
					version, ok := resp.ResultMap()["protocolVersion"].(string)
					if !ok || version == "" {
						return Fail("protocolVersion missing or not a string")
					}
					return Pass("protocolVersion=%s", version)
				},
			},
			{
				ID:          "INIT-003",
				Description: "capabilities object is present",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp := rc.session.InitResponse()
					if resp == nil {
						return Skip("INIT-001 did not complete")
					}
					caps, ok := resp.ResultMap()["capabilities"].(map[string]any)
					if !ok {
						return Fail("capabilities missing or not an object")
					}
					return Pass("capabilities keys: %v", mapKeys(caps))
				},
			},
			{
				ID:          "INIT-004",
				Description: "notifications/initialized does not crash server",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if rc.session.InitResponse() == nil {
						return Skip("INIT-001 did not complete")
					}
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 1,
						"method":  methodPing,
					}, rc.timeout)
					if err == nil && resp != nil {
						return Pass("Server still responds after notifications/initialized")
					}
					// Some servers do not implement ping. Fall back to a
					// known method before calling the server dead.
					if _, err := rc.session.Request(ctx, methodToolsList, nil); err != nil {
						return Fail("Server stopped responding after notifications/initialized")
					}
					return Pass("Server still responds after notifications/initialized")
				},
			},
			{
				ID:          "INIT-005",
				Description: "Request before initialize is rejected",
				Severity:    SeverityWarning,
				Run:         checkRequestBeforeInitialize,
			},
			{
				ID:          "INIT-006",
				Description: "Double initialize is rejected",
				Severity:    SeverityWarning,
				Run:         checkDoubleInitialize,
			},
		},
	}
}

// checkRequestBeforeInitialize opens a fresh connection and sends tools/list
// without the handshake. No response, or an error response, is acceptable;
// a success result is the deviation.
func checkRequestBeforeInitialize(ctx context.Context, rc *runContext) Outcome {
	transport, err := rc.newTransport()
	if err != nil {
		return Skip("could not open a second connection: %v", err)
	}

	probe := NewSession(transport, rc.timeout, rc.logger)
	if err := probe.Start(ctx); err != nil {
		_ = transport.Close()
		return Skip("could not start a second connection: %v", err)
	}
	defer probe.Close()

	resp, err := probe.SendRaw(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      rawIDBase + 5,
		"method":  methodToolsList,
		"params":  map[string]any{},
	}, rc.timeout)
	if err != nil || resp == nil {
		return Pass("Server did not respond (acceptable)")
	}
	if resp.Error != nil {
		return Pass("Server rejected with error: %s", resp.Error.Message)
	}
	return Warn("Server accepted request without prior initialize")
}

// checkDoubleInitialize performs a full handshake on a fresh connection,
// then sends initialize again. Rejection or silence passes; acceptance is
// the deviation.
func checkDoubleInitialize(ctx context.Context, rc *runContext) Outcome {
	transport, err := rc.newTransport()
	if err != nil {
		return Skip("could not open a second connection: %v", err)
	}

	probe := NewSession(transport, rc.timeout, rc.logger)
	if err := probe.Start(ctx); err != nil {
		_ = transport.Close()
		return Skip("could not start a second connection: %v", err)
	}
	defer probe.Close()

	if _, err := probe.Initialize(ctx); err != nil {
		return Skip("first initialize on second connection failed: %v", err)
	}

	resp, err := probe.SendRaw(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      rawIDBase + 6,
		"method":  methodInitialize,
		"params": map[string]any{
			"protocolVersion": SpecVersion,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "mcp-probe", "version": ProbeVersion},
		},
	}, rc.timeout)
	if err != nil || resp == nil {
		return Pass("Server did not respond to second initialize")
	}
	if resp.Error != nil {
		return Pass("Server rejected double init: %s", resp.Error.Message)
	}
	return Warn("Server accepted double initialize")
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func compactJSON(raw []byte) string {
	const max = 300
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
