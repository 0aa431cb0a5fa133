package probe

import "context"

// Convenience wrappers over Request for the MCP operations the check
// catalog exercises. All of them return the raw correlated response so
// checks can inspect result and error shape directly.

// CallTool invokes tools/call. A nil meta omits the _meta member.
func (s *Session) CallTool(ctx context.Context, name string, arguments, meta map[string]any) (*Response, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	if meta != nil {
		params["_meta"] = meta
	}
	return s.Request(ctx, methodToolsCall, params)
}

// CallToolWithTask invokes tools/call augmented with a task request, asking
// the server to run the tool asynchronously with the given result TTL in
// milliseconds.
func (s *Session) CallToolWithTask(ctx context.Context, name string, arguments map[string]any, ttlMS int) (*Response, error) {
	return s.Request(ctx, methodToolsCall, map[string]any{
		"name":      name,
		"arguments": arguments,
		"task":      map[string]any{"ttl": ttlMS},
	})
}

// ReadResource invokes resources/read for one URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*Response, error) {
	return s.Request(ctx, methodResourcesRead, map[string]any{"uri": uri})
}

// SubscribeResource invokes resources/subscribe.
func (s *Session) SubscribeResource(ctx context.Context, uri string) (*Response, error) {
	return s.Request(ctx, methodResourcesSub, map[string]any{"uri": uri})
}

// UnsubscribeResource invokes resources/unsubscribe.
func (s *Session) UnsubscribeResource(ctx context.Context, uri string) (*Response, error) {
	return s.Request(ctx, methodResourcesUnsub, map[string]any{"uri": uri})
}

// GetPrompt invokes prompts/get. A nil arguments map omits the member.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*Response, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	return s.Request(ctx, methodPromptsGet, params)
}

// GetTask invokes tasks/get for one task id.
func (s *Session) GetTask(ctx context.Context, taskID string) (*Response, error) {
	return s.Request(ctx, methodTasksGet, map[string]any{"taskId": taskID})
}

// CancelTask invokes tasks/cancel.
func (s *Session) CancelTask(ctx context.Context, taskID string) (*Response, error) {
	return s.Request(ctx, methodTasksCancel, map[string]any{"taskId": taskID})
}

// GetTaskResult invokes tasks/result for a terminal task.
func (s *Session) GetTaskResult(ctx context.Context, taskID string) (*Response, error) {
	return s.Request(ctx, methodTasksResult, map[string]any{"taskId": taskID})
}
