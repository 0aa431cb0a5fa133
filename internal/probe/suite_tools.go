package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolsSuite discovers the tool catalog and exercises tools/call with both
// synthesized-valid and deliberately invalid arguments. Discovery results
// feed the tasks and edge suites.
func toolsSuite() suiteDef {
	return suiteDef{
		Name:       "tools",
		Capability: "tools",
		Checks: []checkDef{
			{
				ID:          "TOOL-001",
				Description: "tools/list returns a list of tools",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					tools, paginated, err := rc.session.ListPaginated(ctx, methodToolsList, "tools")
					if err != nil {
						return Fail("tools/list failed: %v", err)
					}
					rc.tools = tools
					rc.toolsPaginated = paginated
					return Pass("Found %d tools", len(tools))
				},
			},
			{
				ID:          "TOOL-002",
				Description: "Each tool has name, description, inputSchema",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.tools) == 0 {
						return Skip("No tools discovered")
					}
					var missing []string
					for _, t := range rc.tools {
						name, _ := t["name"].(string)
						if name == "" {
							missing = append(missing, "tool missing 'name'")
						}
						if _, ok := t["inputSchema"].(map[string]any); !ok {
							missing = append(missing, fmt.Sprintf("tool %q missing 'inputSchema' (object)", name))
						}
					}
					if len(missing) > 0 {
						return Fail("%s", joinLimited(missing, 5))
					}
					return Pass("All %d tools have required fields", len(rc.tools))
				},
			},
			{
				ID:          "TOOL-003",
				Description: "inputSchema is valid JSON Schema",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.tools) == 0 {
						return Skip("No tools discovered")
					}
					var invalid []string
					for _, t := range rc.tools {
						name, _ := t["name"].(string)
						if msg := validateToolSchema(t["inputSchema"]); msg != "" {
							invalid = append(invalid, fmt.Sprintf("%q: %s", name, msg))
						}
					}
					if len(invalid) > 0 {
						return Fail("%s", joinLimited(invalid, 5))
					}
					return Pass("All schemas valid")
				},
			},
			{
				ID:          "TOOL-004",
				Description: "Tool call with valid arguments succeeds",
				Severity:    SeverityError,
				Run:         checkToolCallValid,
			},
			{
				ID:          "TOOL-005",
				Description: "Tool call with invalid arguments returns error",
				Severity:    SeverityError,
				Run:         checkToolCallInvalid,
			},
			{
				ID:          "TOOL-006",
				Description: "Nonexistent tool returns error",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.CallTool(ctx, "__nonexistent_tool_name__", map[string]any{}, nil)
					if err != nil {
						return Fail("Server crashed on nonexistent tool: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Pass("Server returned error for nonexistent tool")
					}
					if isError, _ := resp.ResultMap()["isError"].(bool); isError {
						return Pass("Server returned isError=true for nonexistent tool")
					}
					return Fail("Server did not return error for nonexistent tool")
				},
			},
			{
				ID:          "TOOL-007",
				Description: "Tool names follow naming convention",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.tools) == 0 {
						return Skip("No tools discovered")
					}
					var nonConforming []string
					for _, t := range rc.tools {
						name, _ := t["name"].(string)
						if !toolNamePattern.MatchString(name) {
							nonConforming = append(nonConforming, name)
						}
					}
					if len(nonConforming) > 0 {
						return Info("Non-standard names: %s", joinLimited(nonConforming, 10))
					}
					return Pass("All tool names follow [a-z0-9_-] convention")
				},
			},
			{
				ID:          "TOOL-008",
				Description: "tools/list pagination works",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if !rc.toolsPaginated {
						return Skip("Server returned all tools in a single page")
					}
					return Pass("Pagination verified during TOOL-001")
				},
			},
		},
	}
}

// checkToolCallValid calls the first tool whose schema is simple enough for
// argument synthesis. The call carries a progress token so progress
// notifications have something to correlate with.
func checkToolCallValid(ctx context.Context, rc *runContext) Outcome {
	if len(rc.tools) == 0 {
		return Skip("No tools discovered")
	}
	for _, t := range rc.tools {
		schema, _ := t["inputSchema"].(map[string]any)
		args := generateValidArgs(schema)
		if args == nil {
			continue
		}
		name, _ := t["name"].(string)
		meta := map[string]any{"progressToken": uuid.NewString()}
		resp, err := rc.session.CallTool(ctx, name, args, meta)
		if err != nil {
			return Fail("Tool %q call failed: %v", name, err)
		}
		rc.recordErrorCode(resp)
		if resp.Error != nil {
			return Fail("Tool %q returned error: %s", name, resp.Error.Message)
		}
		if decodeErr := decodeToolResult(resp); decodeErr != "" {
			return Fail("Tool %q response malformed: %s", name, decodeErr)
		}
		return Pass("Tool %q called successfully", name)
	}
	return Skip("All tool schemas too complex for auto-generation")
}

// decodeToolResult checks the tools/call result against the protocol
// result shape, decoding content items through the SDK types.
func decodeToolResult(resp *Response) string {
	result := resp.ResultMap()
	content, ok := result["content"]
	if !ok {
		return "no 'content' in result"
	}
	items, ok := content.([]any)
	if !ok {
		return "'content' is not a list"
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return "content item is not an object"
		}
		if _, err := mcp.ParseContent(m); err != nil {
			return fmt.Sprintf("undecodable content item: %v", err)
		}
	}
	return ""
}

// checkToolCallInvalid sends arguments that violate the first tool's
// schema. An error response, isError result, or error-bearing text content
// all count as rejection.
func checkToolCallInvalid(ctx context.Context, rc *runContext) Outcome {
	if len(rc.tools) == 0 {
		return Skip("No tools discovered")
	}
	t := rc.tools[0]
	name, _ := t["name"].(string)
	schema, _ := t["inputSchema"].(map[string]any)
	args := generateInvalidArgs(schema)

	resp, err := rc.session.CallTool(ctx, name, args, nil)
	if err != nil {
		return Fail("Server crashed on invalid args: %v", err)
	}
	rc.recordErrorCode(resp)
	if resp.Error != nil {
		return Pass("Server returned error for invalid args on %q", name)
	}

	result := resp.ResultMap()
	if isError, _ := result["isError"].(bool); isError {
		return Pass("Server returned isError=true for invalid args on %q", name)
	}
	if content, ok := result["content"].([]any); ok {
		for _, item := range content {
			m, _ := item.(map[string]any)
			typ, _ := m["type"].(string)
			text, _ := m["text"].(string)
			if typ == "text" && strings.Contains(strings.ToLower(text), "error") {
				return Pass("Server returned error content for invalid args on %q", name)
			}
		}
	}
	return Warn("Server accepted invalid args without error on %q", name)
}

// joinLimited joins at most limit entries, noting how many were elided.
func joinLimited(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(items[:limit], "; "), len(items)-limit)
}
