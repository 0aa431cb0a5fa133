package probe

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerNilReceiver(t *testing.T) {
	var l *Logger
	// None of these may panic.
	l.Info("info")
	l.Success("success")
	l.Warning("warning")
	l.Error("error")
	l.Debug("debug")
	l.InfoVerbose("verbose")
	l.WarningVerbose("verbose warning")
	l.Request("ping", nil)
	l.Response("ping", nil)
	l.Notification("notifications/progress", nil)
	l.SetVerbose(true)
	l.SetWriter(nil)
}

func TestLoggerWritesPlainText(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(false, false, false, &buf)

	l.Info("hello %s", "world")
	l.Error("bad thing")

	out := buf.String()
	if !strings.Contains(out, "hello world") {
		t.Errorf("Info output missing: %q", out)
	}
	if !strings.Contains(out, "bad thing") {
		t.Errorf("Error output missing: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("color codes present with color disabled: %q", out)
	}
}

func TestLoggerColorCodes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(false, true, false, &buf)

	l.Success("done")
	if !strings.Contains(buf.String(), ansiGreen) {
		t.Errorf("green code missing: %q", buf.String())
	}
}

func TestLoggerVerboseGating(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(false, false, false, &buf)

	l.Debug("hidden")
	l.InfoVerbose("also hidden")
	if buf.Len() != 0 {
		t.Errorf("verbose-only output leaked: %q", buf.String())
	}

	l.SetVerbose(true)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("Debug suppressed in verbose mode: %q", buf.String())
	}
}

func TestLoggerJSONRPCTracing(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(false, false, true, &buf)

	l.Request("tools/list", map[string]any{"cursor": "abc"})
	l.Response("tools/list", map[string]any{"tools": []any{}})
	l.Notification("notifications/progress", map[string]any{"progress": 1})

	out := buf.String()
	for _, want := range []string{"--> tools/list", "<-- tools/list", "<<- notifications/progress", `"cursor": "abc"`} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q: %q", want, out)
		}
	}
}

func TestLoggerJSONRPCModeOff(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(true, false, false, &buf)

	l.Request("tools/list", nil)
	l.Response("tools/list", nil)
	if buf.Len() != 0 {
		t.Errorf("traces emitted without json-rpc mode: %q", buf.String())
	}
}
