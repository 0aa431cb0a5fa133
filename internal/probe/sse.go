package probe

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one event of a text/event-stream response body.
type sseEvent struct {
	Event string
	Data  string
	ID    string
}

// parseSSEStream splits a Server-Sent Events stream into events. Comment
// lines are ignored; multi-line data fields are joined with newlines. A
// trailing event without a blank-line terminator is still emitted.
func parseSSEStream(r io.Reader) []sseEvent {
	var (
		events    []sseEvent
		eventType string
		eventID   string
		dataLines []string
	)

	flush := func() {
		if len(dataLines) > 0 {
			events = append(events, sseEvent{
				Event: eventType,
				Data:  strings.Join(dataLines, "\n"),
				ID:    eventID,
			})
		}
		eventType = ""
		eventID = ""
		dataLines = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(line[len("id:"):])
		}
	}
	flush()

	return events
}
