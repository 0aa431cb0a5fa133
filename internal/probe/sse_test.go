package probe

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseSSEStream(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []sseEvent
	}{
		{
			name:  "single event",
			input: "data: {\"a\":1}\n\n",
			want:  []sseEvent{{Data: `{"a":1}`}},
		},
		{
			name:  "event type and id",
			input: "event: message\nid: 7\ndata: hello\n\n",
			want:  []sseEvent{{Event: "message", Data: "hello", ID: "7"}},
		},
		{
			name:  "multiple events",
			input: "data: one\n\ndata: two\n\n",
			want:  []sseEvent{{Data: "one"}, {Data: "two"}},
		},
		{
			name:  "multi-line data joined with newlines",
			input: "data: line1\ndata: line2\n\n",
			want:  []sseEvent{{Data: "line1\nline2"}},
		},
		{
			name:  "comments ignored",
			input: ": keepalive\ndata: real\n\n",
			want:  []sseEvent{{Data: "real"}},
		},
		{
			name:  "trailing event without blank line",
			input: "data: last",
			want:  []sseEvent{{Data: "last"}},
		},
		{
			name:  "crlf line endings",
			input: "data: windows\r\n\r\n",
			want:  []sseEvent{{Data: "windows"}},
		},
		{
			name:  "fields without data produce no event",
			input: "event: ping\n\n",
			want:  nil,
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSSEStream(strings.NewReader(tt.input))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSSEStream(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}
