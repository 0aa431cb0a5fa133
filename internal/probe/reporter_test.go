package probe

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleReport() *Report {
	return &Report{
		ProbeVersion: ProbeVersion,
		SpecVersion:  SpecVersion,
		RunID:        "run-1",
		Target:       "https://mcp.example.com/mcp",
		Transport:    TransportHTTP,
		Timestamp:    "2026-01-01T00:00:00Z",
		DurationMS:   1234.5,
		Capabilities: map[string]bool{"tools": true},
		Suites: []SuiteResult{
			{
				Name: "tools",
				Checks: []CheckResult{
					{ID: "TOOL-001", Description: "tools/list returns a list of tools", Status: StatusPass, Severity: SeverityCritical, DurationMS: 12},
					{ID: "TOOL-005", Description: "Tool call with invalid arguments returns error", Status: StatusWarn, Severity: SeverityError, Details: "Server accepted invalid args"},
				},
			},
		},
	}
}

func TestFormatReportJSON(t *testing.T) {
	rendered, err := FormatReport(sampleReport(), "json", false, false)
	if err != nil {
		t.Fatalf("FormatReport() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(rendered), &decoded); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	if decoded["mcp_probe_version"] != ProbeVersion {
		t.Errorf("mcp_probe_version = %v", decoded["mcp_probe_version"])
	}
	if decoded["spec_version"] != SpecVersion {
		t.Errorf("spec_version = %v", decoded["spec_version"])
	}
	suites, _ := decoded["suites"].([]any)
	if len(suites) != 1 {
		t.Fatalf("suites = %v", decoded["suites"])
	}
	if _, present := decoded["aborted"]; present {
		t.Error("aborted must be omitted when empty")
	}
}

func TestFormatReportConsole(t *testing.T) {
	out := formatConsole(sampleReport(), false, false)

	for _, want := range []string{
		"mcp-probe v" + ProbeVersion,
		"Target: https://mcp.example.com/mcp",
		"Transport: http",
		"Spec: MCP " + SpecVersion,
		"Tools",
		"TOOL-001",
		"Summary: 1 passed, 1 warnings",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q", want)
		}
	}

	// WARN details always show; PASS details only in verbose mode.
	if !strings.Contains(out, "Server accepted invalid args") {
		t.Error("warn details missing from non-verbose output")
	}
	if strings.Contains(out, "Run aborted") {
		t.Error("aborted line present for a completed run")
	}
}

func TestFormatReportConsoleAborted(t *testing.T) {
	report := sampleReport()
	report.Aborted = "initialize handshake failed"

	out := formatConsole(report, false, false)
	if !strings.Contains(out, "Run aborted: initialize handshake failed") {
		t.Errorf("aborted reason missing: %q", out)
	}
}

func TestFormatReportConsoleUnknownSuiteTitle(t *testing.T) {
	report := sampleReport()
	report.Suites[0].Name = "experimental"

	out := formatConsole(report, false, false)
	if !strings.Contains(out, "experimental") {
		t.Error("unknown suite must fall back to its raw name")
	}
}

func TestResolveColor(t *testing.T) {
	if resolveColor(false) {
		t.Error("resolveColor(false) must stay false")
	}

	t.Setenv("NO_COLOR", "1")
	if resolveColor(true) {
		t.Error("NO_COLOR must disable color")
	}
}

func TestColorize(t *testing.T) {
	if got := colorize("PASS", StatusPass, false); got != "PASS" {
		t.Errorf("colorize without color = %q", got)
	}
	// An unmapped status stays unwrapped even with color on.
	if got := colorize("???", Status("???"), true); got != "???" {
		t.Errorf("unknown status = %q", got)
	}
}
