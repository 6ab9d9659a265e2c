// Package sse reads text/event-stream bodies.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry string
}

// DefaultEventType is the type of events sent without an "event:" field.
const DefaultEventType = "message"

// parseEvent parses the raw lines of a single event block.
func parseEvent(raw []byte) Event {
	var evt Event

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")

	var dataParts []string
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || line[0] == ':' {
			continue // comment or empty line
		}

		var field, value string
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = line[idx+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		} else {
			field = line
		}

		switch field {
		case "id":
			evt.ID = value
		case "event":
			evt.Event = value
		case "data":
			dataParts = append(dataParts, value)
		case "retry":
			evt.Retry = value
		}
	}

	if len(dataParts) > 0 {
		evt.Data = strings.Join(dataParts, "\n")
	}
	if evt.Event == "" {
		evt.Event = DefaultEventType
	}
	return evt
}

// Read scans body and calls fn for every complete event. It stops when fn
// returns false, at EOF (returning io.EOF) or on a read error.
func Read(body io.Reader, fn func(Event) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	var eventBuf bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line = event boundary
		if strings.TrimSuffix(line, "\r") == "" {
			raw := eventBuf.Bytes()
			if len(bytes.TrimSpace(raw)) > 0 && hasField(raw) {
				if !fn(parseEvent(raw)) {
					return nil
				}
			}
			eventBuf.Reset()
			continue
		}
		eventBuf.WriteString(line)
		eventBuf.WriteByte('\n')
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// hasField reports whether the block carries anything besides comments.
func hasField(raw []byte) bool {
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) > 0 && line[0] != ':' {
			return true
		}
	}
	return false
}
