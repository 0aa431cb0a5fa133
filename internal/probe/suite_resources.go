package probe

import (
	"context"
	"fmt"
)

// resourcesSuite discovers the resource catalog and reads the first entry.
func resourcesSuite() suiteDef {
	return suiteDef{
		Name:       "resources",
		Capability: "resources",
		Checks: []checkDef{
			{
				ID:          "RES-001",
				Description: "resources/list returns a list of resources",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resources, paginated, err := rc.session.ListPaginated(ctx, methodResourcesList, "resources")
					if err != nil {
						return Fail("resources/list failed: %v", err)
					}
					rc.resources = resources
					rc.resourcesPaginated = paginated
					return Pass("Found %d resources", len(resources))
				},
			},
			{
				ID:          "RES-002",
				Description: "Each resource has uri and name",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.resources) == 0 {
						return Skip("No resources discovered")
					}
					var issues []string
					for _, r := range rc.resources {
						name, _ := r["name"].(string)
						if uri, _ := r["uri"].(string); uri == "" {
							issues = append(issues, fmt.Sprintf("resource %q missing 'uri'", name))
						}
						if name == "" {
							issues = append(issues, "resource missing 'name'")
						}
						if mime, ok := r["mimeType"]; ok {
							if _, isString := mime.(string); !isString {
								issues = append(issues, fmt.Sprintf("resource %q mimeType is not a string", name))
							}
						}
					}
					if len(issues) > 0 {
						return Fail("%s", joinLimited(issues, 5))
					}
					return Pass("All %d resources have required fields", len(rc.resources))
				},
			},
			{
				ID:          "RES-003",
				Description: "resources/read returns content",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.resources) == 0 {
						return Skip("No resources discovered")
					}
					uri, _ := rc.resources[0]["uri"].(string)
					resp, err := rc.session.ReadResource(ctx, uri)
					if err != nil {
						return Fail("Error reading %q: %v", uri, err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("Error reading %q: %s", uri, resp.Error.Message)
					}
					contents, ok := resp.ResultMap()["contents"].([]any)
					if !ok {
						return Fail("No 'contents' in read response for %q", uri)
					}
					return Pass("Read %q returned %d content item(s)", uri, len(contents))
				},
			},
			{
				ID:          "RES-004",
				Description: "Nonexistent resource returns error",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.ReadResource(ctx, "nonexistent://fake-resource-uri")
					if err != nil {
						return Fail("Server crashed on nonexistent resource: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Pass("Server returned error for nonexistent resource")
					}
					return Fail("Server did not return error for nonexistent resource")
				},
			},
			{
				ID:          "RES-005",
				Description: "resources/list pagination works",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if !rc.resourcesPaginated {
						return Skip("Server returned all resources in a single page")
					}
					return Pass("Pagination verified during RES-001")
				},
			},
		},
	}
}
