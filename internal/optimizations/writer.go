package optimizations

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EventSink receives pipeline events in emission order.
type EventSink interface {
	Send(ev Event) error
}

// StreamWriter frames events onto an HTTP response as marker lines, flushing
// after each one so clients observe progress as it happens.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewStreamWriter wraps a response writer. Flushing is best-effort: writers
// that do not implement http.Flusher are still valid sinks.
func NewStreamWriter(w io.Writer) *StreamWriter {
	sw := &StreamWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Send writes one event frame.
func (s *StreamWriter) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "%s%s\n", streamMarker, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Heartbeat writes a comment line to keep idle connections alive.
func (s *StreamWriter) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close writes the stream terminator.
func (s *StreamWriter) Close() error {
	if _, err := fmt.Fprintf(s.w, "%s%s\n", streamMarker, streamTerminator); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

var _ EventSink = (*StreamWriter)(nil)
