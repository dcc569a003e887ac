package httpapi

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// readSSE parses a text/event-stream body into Events. Frames whose data
// payload is not JSON are surfaced as raw message events rather than
// dropped; the stream is the only observability the transport offers.
func readSSE(r io.Reader) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var data strings.Builder
		flush := func() {
			if data.Len() == 0 {
				return
			}
			payload := data.String()
			data.Reset()
			var ev Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				ev = Event{Type: "message", Content: payload}
			}
			ch <- ev
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			default:
				// Comment or field we do not consume (event:, id:, retry:).
			}
		}
		flush()
	}()
	return ch
}
