// ABOUTME: Server-Sent Events (SSE) streaming parser for provider response streams.
// ABOUTME: Reads from an io.Reader and yields SSE events per the WHATWG EventSource processing model.

package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is a single Server-Sent Event parsed from a stream.
type Event struct {
	Type  string // from "event:" line, defaults to "message"
	Data  string // from "data:" line(s), joined with newlines for multi-line
	ID    string // from "id:" line
	Retry int    // from "retry:" line, -1 if not set
}

// maxLineSize bounds a single SSE line. Provider deltas are small, but a
// complete response embedded in one data line can run to megabytes.
const maxLineSize = 16 * 1024 * 1024

// Parser incrementally reads SSE events from an io.Reader.
type Parser struct {
	scanner *bufio.Scanner
	done    bool

	// Accumulation state for the event currently being built.
	eventType string
	data      strings.Builder
	wroteData bool
	id        string
	retry     int
}

// NewParser creates a parser reading from r. Input is consumed line by line;
// CR, LF, and CRLF all terminate a line.
func NewParser(r io.Reader) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	sc.Split(scanEventLines)
	return &Parser{scanner: sc, retry: -1}
}

// Next returns the next event from the stream, or io.EOF once the stream is
// exhausted. An event still being accumulated when the stream ends is
// dispatched before io.EOF is reported.
func (p *Parser) Next() (Event, error) {
	if p.done {
		return Event{}, io.EOF
	}

	for p.scanner.Scan() {
		line := p.scanner.Text()

		// A blank line dispatches the current event. Frames that never
		// wrote a data field are dropped, so comment-only keepalives and
		// runs of blank lines produce nothing.
		if line == "" {
			if !p.wroteData {
				continue
			}
			return p.dispatch(), nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		p.processField(splitField(line))
	}

	p.done = true
	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	if p.wroteData {
		return p.dispatch(), nil
	}
	return Event{}, io.EOF
}

// splitField splits an SSE line at the first colon. A missing colon makes the
// whole line the field name with an empty value. A single space after the
// colon is stripped; further spaces belong to the value.
func splitField(line string) (field, value string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

// processField folds one parsed field into the accumulation state. Data lines
// append with a newline separator; invalid retry values and unknown fields
// are ignored.
func (p *Parser) processField(field, value string) {
	switch field {
	case "event":
		p.eventType = value
	case "data":
		p.data.WriteString(value)
		p.data.WriteByte('\n')
		p.wroteData = true
	case "id":
		p.id = value
	case "retry":
		if n, err := strconv.Atoi(value); err == nil {
			p.retry = n
		}
	}
}

// dispatch builds the accumulated Event and resets state for the next one.
// Every field resets per event, including id.
func (p *Parser) dispatch() Event {
	evt := Event{
		Type:  p.eventType,
		Data:  strings.TrimSuffix(p.data.String(), "\n"),
		ID:    p.id,
		Retry: p.retry,
	}
	if evt.Type == "" {
		evt.Type = "message"
	}

	p.eventType = ""
	p.data.Reset()
	p.wroteData = false
	p.id = ""
	p.retry = -1
	return evt
}

// scanEventLines is a bufio.SplitFunc that terminates lines on CR, LF, or
// CRLF. A CR as the final byte of the buffer needs one more byte to tell CR
// from CRLF, so more data is requested unless the input is at EOF.
func scanEventLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
