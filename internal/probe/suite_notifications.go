package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// validateNotificationFormat checks one raw server notification against the
// JSON-RPC notification shape: jsonrpc 2.0, a method, no id, and params
// either absent or an object.
func validateNotificationFormat(raw json.RawMessage) string {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Sprintf("not a JSON object: %v", err)
	}
	if version, _ := msg["jsonrpc"].(string); version != "2.0" {
		return fmt.Sprintf("jsonrpc is %v, expected \"2.0\"", msg["jsonrpc"])
	}
	if _, ok := msg["method"]; !ok {
		return "missing 'method' field"
	}
	if _, ok := msg["id"]; ok {
		return "notification should not have 'id' field"
	}
	if params, ok := msg["params"]; ok && params != nil {
		if _, isObject := params.(map[string]any); !isObject {
			return "params is not an object"
		}
	}
	return ""
}

// checkNotificationFormats validates every recorded notification for one
// method; none recorded means the check does not apply.
func checkNotificationFormats(rc *runContext, method string) Outcome {
	notifs := rc.session.Notifications(method)
	if len(notifs) == 0 {
		return Skip("No %s notifications received", method)
	}
	for _, n := range notifs {
		if msg := validateNotificationFormat(n.Raw); msg != "" {
			return Fail("Invalid format: %s", msg)
		}
	}
	return Pass("Validated %d notification(s)", len(notifs))
}

// notificationsSuite validates server-pushed notification traffic observed
// during the run plus the resource subscription handshake. It always runs;
// individual checks skip themselves when no traffic arrived.
func notificationsSuite() suiteDef {
	return suiteDef{
		Name: "notifications",
		Checks: []checkDef{
			{
				ID:          "NOTIF-001",
				Description: "Server accepts notifications/initialized",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.SendRaw(ctx, map[string]any{
						"jsonrpc": "2.0",
						"id":      rawIDBase + 201,
						"method":  methodPing,
					}, rc.timeout)
					if err == nil && resp != nil {
						return Pass("Server responds after notifications/initialized")
					}
					resp2, err := rc.session.Request(ctx, methodToolsList, nil)
					if err == nil && (resp2.HasResult() || resp2.Error != nil) {
						return Pass("Server still operational after notifications/initialized")
					}
					return Fail("Server not responding after notifications/initialized")
				},
			},
			{
				ID:          "NOTIF-002",
				Description: "notifications/tools/list_changed format",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					return checkNotificationFormats(rc, notificationToolsListChanged)
				},
			},
			{
				ID:          "NOTIF-003",
				Description: "notifications/resources/list_changed format",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					return checkNotificationFormats(rc, notificationResourcesListChanged)
				},
			},
			{
				ID:          "NOTIF-004",
				Description: "notifications/prompts/list_changed format",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					return checkNotificationFormats(rc, notificationPromptsListChanged)
				},
			},
			{
				ID:          "NOTIF-005",
				Description: "notifications/progress format and monotonicity",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					return checkProgressNotifications(rc)
				},
			},
			{
				ID:          "SUB-001",
				Description: "resources/subscribe returns success",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if !rc.session.SubCapability("resources", "subscribe") {
						return Skip("Server does not advertise resources.subscribe capability")
					}
					if len(rc.resources) == 0 {
						return Skip("No resources available for subscribe test")
					}
					uri, _ := rc.resources[0]["uri"].(string)
					resp, err := rc.session.SubscribeResource(ctx, uri)
					if err != nil {
						return Fail("subscribe failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("subscribe error: %s", resp.Error.Message)
					}
					rc.subscribedURI = uri
					return Pass("Subscribed to %q", uri)
				},
			},
			{
				ID:          "SUB-002",
				Description: "resources/unsubscribe returns success",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if rc.subscribedURI == "" {
						return Skip("No active subscription (SUB-001 did not run or failed)")
					}
					resp, err := rc.session.UnsubscribeResource(ctx, rc.subscribedURI)
					if err != nil {
						return Fail("unsubscribe failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("unsubscribe error: %s", resp.Error.Message)
					}
					return Pass("Unsubscribed from %q", rc.subscribedURI)
				},
			},
			{
				ID:          "SUB-003",
				Description: "Resource update triggers notification",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					return Skip("No automatic way to trigger resource update (requires server-specific tool)")
				},
			},
		},
	}
}

// checkProgressNotifications validates progress payloads and verifies that
// progress values never decrease within a token's sequence.
func checkProgressNotifications(rc *runContext) Outcome {
	notifs := rc.session.Notifications(notificationProgress)
	if len(notifs) == 0 {
		return Skip("No progress notifications received")
	}

	var issues []string
	byToken := map[string][]float64{}
	var tokenOrder []string

	for _, n := range notifs {
		if msg := validateNotificationFormat(n.Raw); msg != "" {
			issues = append(issues, msg)
			continue
		}
		token, ok := n.Params["progressToken"]
		if !ok || token == nil {
			issues = append(issues, "progress notification missing progressToken")
			continue
		}
		progress, ok := n.Params["progress"].(float64)
		if !ok || progress < 0 {
			issues = append(issues, fmt.Sprintf("progress is %v, expected number >= 0", n.Params["progress"]))
			continue
		}
		if rawTotal, present := n.Params["total"]; present && rawTotal != nil {
			total, isNumber := rawTotal.(float64)
			switch {
			case !isNumber || total <= 0:
				issues = append(issues, fmt.Sprintf("total is %v, expected number > 0", rawTotal))
			case progress > total:
				issues = append(issues, fmt.Sprintf("progress %v > total %v", progress, total))
			}
		}
		key := fmt.Sprint(token)
		if _, seen := byToken[key]; !seen {
			tokenOrder = append(tokenOrder, key)
		}
		byToken[key] = append(byToken[key], progress)
	}

	sort.Strings(tokenOrder)
	for _, token := range tokenOrder {
		values := byToken[token]
		for i := 1; i < len(values); i++ {
			if values[i] < values[i-1] {
				issues = append(issues, fmt.Sprintf("token %s: progress not monotonic (%v -> %v)", token, values[i-1], values[i]))
			}
		}
	}

	if len(issues) > 0 {
		return Fail("%s", joinLimited(issues, 5))
	}
	return Pass("Validated %d progress notification(s)", len(notifs))
}
