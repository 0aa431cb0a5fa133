package probe

import "context"

// promptsSuite discovers the prompt catalog and renders the first prompt
// with placeholder arguments.
func promptsSuite() suiteDef {
	return suiteDef{
		Name:       "prompts",
		Capability: "prompts",
		Checks: []checkDef{
			{
				ID:          "PROMPT-001",
				Description: "prompts/list returns a list of prompts",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					prompts, paginated, err := rc.session.ListPaginated(ctx, methodPromptsList, "prompts")
					if err != nil {
						return Fail("prompts/list failed: %v", err)
					}
					rc.prompts = prompts
					rc.promptsPaginated = paginated
					return Pass("Found %d prompts", len(prompts))
				},
			},
			{
				ID:          "PROMPT-002",
				Description: "Each prompt has name and description",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.prompts) == 0 {
						return Skip("No prompts discovered")
					}
					var issues []string
					for _, p := range rc.prompts {
						if name, _ := p["name"].(string); name == "" {
							issues = append(issues, "prompt missing 'name'")
						}
					}
					if len(issues) > 0 {
						return Fail("%s", joinLimited(issues, 5))
					}
					return Pass("All %d prompts have required fields", len(rc.prompts))
				},
			},
			{
				ID:          "PROMPT-003",
				Description: "prompts/get returns messages",
				Severity:    SeverityError,
				Run:         checkPromptGet,
			},
			{
				ID:          "PROMPT-004",
				Description: "prompts/list pagination works",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if !rc.promptsPaginated {
						return Skip("Server returned all prompts in a single page")
					}
					return Pass("Pagination verified during PROMPT-001")
				},
			},
		},
	}
}

// checkPromptGet renders the first prompt. Every declared argument gets the
// placeholder value "test" regardless of being required.
func checkPromptGet(ctx context.Context, rc *runContext) Outcome {
	if len(rc.prompts) == 0 {
		return Skip("No prompts discovered")
	}
	prompt := rc.prompts[0]
	name, _ := prompt["name"].(string)

	var arguments map[string]any
	if declared, ok := prompt["arguments"].([]any); ok && len(declared) > 0 {
		arguments = map[string]any{}
		for _, raw := range declared {
			arg, _ := raw.(map[string]any)
			argName, _ := arg["name"].(string)
			arguments[argName] = "test"
		}
	}

	resp, err := rc.session.GetPrompt(ctx, name, arguments)
	if err != nil {
		return Fail("Error getting prompt %q: %v", name, err)
	}
	rc.recordErrorCode(resp)
	if resp.Error != nil {
		return Fail("Error getting prompt %q: %s", name, resp.Error.Message)
	}
	messages, ok := resp.ResultMap()["messages"].([]any)
	if !ok {
		return Fail("No 'messages' list in prompts/get response for %q", name)
	}
	return Pass("Prompt %q returned %d message(s)", name, len(messages))
}
