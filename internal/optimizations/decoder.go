package optimizations

import (
	"bytes"
	"strings"
)

// streamMarker prefixes every event line. streamTerminator is the reserved
// non-JSON payload that marks the logical end of a stream.
const (
	streamMarker     = "data: "
	streamTerminator = "[DONE]"
)

// Decoder incrementally splits a byte stream into protocol events. Feed may
// be called with arbitrarily sized chunks; complete lines are decoded in
// order and an incomplete tail is kept for the next call, so splitting a
// stream at any byte boundary yields the same event sequence as decoding it
// whole.
//
// A marker line whose payload does not parse as JSON is treated as not yet
// complete: the decoder keeps it buffered and retries once more bytes
// arrive. Whatever is still buffered when the stream ends is surfaced by
// Finish for anomaly logging and discarded.
type Decoder struct {
	buf     []byte
	done    bool
	stalled bool
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns the events it completed, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	if len(chunk) > 0 {
		d.stalled = false
	}

	var events []Event
	for !d.done && !d.stalled {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(d.buf[:idx]), "\r")
		rest := d.buf[idx+1:]

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ":") {
			d.buf = rest
			continue
		}
		if !strings.HasPrefix(line, streamMarker) {
			// Not an event frame; skipped.
			d.buf = rest
			continue
		}

		payload := strings.TrimSpace(line[len(streamMarker):])
		if payload == streamTerminator {
			d.buf = rest
			d.done = true
			break
		}

		ev, err := ParseEvent([]byte(payload))
		if err != nil {
			// Not valid JSON yet; keep the whole line buffered and wait
			// for more bytes before retrying.
			d.stalled = true
			break
		}
		d.buf = rest
		events = append(events, ev)
	}
	return events
}

// Done reports whether the terminator has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Finish marks end of input and returns any unconsumed fragment. The
// fragment is discarded; callers log it as a protocol anomaly.
func (d *Decoder) Finish() (string, bool) {
	pending := strings.TrimSpace(string(d.buf))
	d.buf = nil
	d.stalled = false
	if pending == "" {
		return "", false
	}
	return pending, true
}
