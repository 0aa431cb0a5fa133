package probe

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// suiteTitles maps internal suite names to the headings in console output.
var suiteTitles = map[string]string{
	"auth":          "Authentication (OAuth)",
	"lifecycle":     "Lifecycle & Handshake",
	"jsonrpc":       "JSON-RPC Protocol",
	"tools":         "Tools",
	"resources":     "Resources",
	"prompts":       "Prompts",
	"notifications": "Notifications & Subscriptions",
	"tasks":         "Tasks",
	"edge":          "Edge Cases",
}

var statusColors = map[Status]text.Color{
	StatusPass: text.FgGreen,
	StatusFail: text.FgRed,
	StatusWarn: text.FgYellow,
	StatusSkip: text.FgHiBlack,
	StatusInfo: text.FgBlue,
}

// FormatReport renders a report as "console" or "json". The console form is
// for humans; the JSON form is the machine-readable artifact and is stable
// across runs up to timing and ids.
func FormatReport(report *Report, format string, verbose, color bool) (string, error) {
	if format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode report: %w", err)
		}
		return string(data), nil
	}
	return formatConsole(report, verbose, resolveColor(color)), nil
}

// resolveColor honors NO_COLOR and disables color for non-terminal output.
func resolveColor(color bool) bool {
	if !color {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	return true
}

func colorize(s string, status Status, color bool) string {
	if !color {
		return s
	}
	c, ok := statusColors[status]
	if !ok {
		return s
	}
	return c.Sprint(s)
}

func formatConsole(report *Report, verbose, color bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "mcp-probe v%s - MCP Server Protocol Compliance Validator\n", report.ProbeVersion)
	fmt.Fprintf(&b, "Target: %s\n", report.Target)
	fmt.Fprintf(&b, "Transport: %s\n", report.Transport)
	fmt.Fprintf(&b, "Spec: MCP %s\n\n", report.SpecVersion)

	for _, suite := range report.Suites {
		title := suiteTitles[suite.Name]
		if title == "" {
			title = suite.Name
		}

		tw := table.NewWriter()
		tw.SetStyle(table.StyleLight)
		tw.SetTitle(title)
		tw.AppendHeader(table.Row{"Status", "Check", "Description", "Duration"})

		for _, check := range suite.Checks {
			status := colorize(string(check.Status), check.Status, color)
			tw.AppendRow(table.Row{
				status,
				check.ID,
				check.Description,
				fmt.Sprintf("%.0fms", check.DurationMS),
			})
			if check.Details != "" && (verbose || check.Status == StatusFail || check.Status == StatusWarn) {
				tw.AppendRow(table.Row{"", "", "  " + check.Details, ""})
			}
		}

		b.WriteString(tw.Render())
		b.WriteString("\n\n")
	}

	if report.Aborted != "" {
		fmt.Fprintf(&b, " Run aborted: %s\n", report.Aborted)
	}

	summary := report.Summary()
	var parts []string
	if summary.Passed > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d passed", summary.Passed), StatusPass, color))
	}
	if summary.Failed > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d failed", summary.Failed), StatusFail, color))
	}
	if summary.Warnings > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d warnings", summary.Warnings), StatusWarn, color))
	}
	if summary.Skipped > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d skipped", summary.Skipped), StatusSkip, color))
	}
	if summary.Info > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d info", summary.Info), StatusInfo, color))
	}
	if len(parts) == 0 {
		parts = append(parts, "no checks executed")
	}

	fmt.Fprintf(&b, " Summary: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, " Duration: %.1fs\n", report.DurationMS/1000)

	return b.String()
}
