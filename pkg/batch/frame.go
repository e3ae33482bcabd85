package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lumeview/tagrunner/pkg/logging"
)

const (
	framePrefix    = "data: "
	frameDelimiter = "\n\n"
)

// WriteFrame encodes ev as one wire frame: a "data: " line carrying
// the JSON event, terminated by a blank line.
func WriteFrame(w io.Writer, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s%s%s", framePrefix, body, frameDelimiter); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Emitter adapts a writer into an EmitFunc.
func Emitter(w io.Writer) EmitFunc {
	return func(ev Event) error {
		return WriteFrame(w, ev)
	}
}

// Decoder reassembles events from a chunked byte stream. Chunks may
// split a frame anywhere, including mid-field; incomplete frames stay
// buffered until the terminating blank line arrives.
type Decoder struct {
	buf []byte
	log logging.Logger
}

func NewDecoder(log logging.Logger) *Decoder {
	return &Decoder{log: log}
}

// Feed appends chunk to the buffer and returns every event whose frame
// is now complete. Malformed frames are logged and skipped.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		end := bytes.Index(d.buf, []byte(frameDelimiter))
		if end < 0 {
			return events
		}
		frame := d.buf[:end]
		d.buf = d.buf[end+len(frameDelimiter):]

		ev, err := parseFrame(frame)
		if err != nil {
			d.log.Warnf("skipping malformed frame: %v", err)
			continue
		}
		events = append(events, ev)
	}
}

// Buffered reports whether a partial frame is still waiting for data.
func (d *Decoder) Buffered() bool {
	return len(bytes.TrimSpace(d.buf)) > 0
}

func parseFrame(frame []byte) (Event, error) {
	frame = bytes.TrimLeft(frame, "\n")
	if !bytes.HasPrefix(frame, []byte(framePrefix)) {
		return Event{}, fmt.Errorf("frame does not start with %q: %q", framePrefix, frame)
	}
	var ev Event
	if err := json.Unmarshal(frame[len(framePrefix):], &ev); err != nil {
		return Event{}, fmt.Errorf("decoding frame %q: %w", frame, err)
	}
	return ev, nil
}
