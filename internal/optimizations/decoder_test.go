package optimizations

import (
	"reflect"
	"strings"
	"testing"
)

const sampleStream = "data: {\"type\":\"progress\",\"step\":\"researcher\",\"message\":\"collecting role evidence\"}\n" +
	"data: {\"type\":\"researcher_done\",\"step\":\"researcher\",\"checklist\":[\"lead with impact\",\"quantify outcomes\"]}\n" +
	": heartbeat\n" +
	"data: {\"type\":\"writer_done\",\"step\":\"writer\",\"round\":1}\n" +
	"data: {\"type\":\"critic_done\",\"step\":\"critic\",\"round\":1,\"scorecard\":{\"overall\":91,\"ats_fitness\":90,\"keyword_coverage\":88,\"clarity\":93}}\n" +
	"data: {\"type\":\"complete\",\"optimization\":{\"ats_text\":\"text\",\"styled_html\":\"<p>text</p>\",\"markdown\":\"text\",\"rounds_completed\":1}}\n" +
	"data: [DONE]\n"

func decodeAll(t *testing.T, raw string, chunkSize int) []Event {
	t.Helper()
	dec := NewDecoder()
	var events []Event
	for start := 0; start < len(raw); start += chunkSize {
		end := start + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		events = append(events, dec.Feed([]byte(raw[start:end]))...)
	}
	if !dec.Done() {
		t.Fatalf("expected terminator to be consumed")
	}
	if fragment, ok := dec.Finish(); ok {
		t.Fatalf("expected clean finish, got fragment %q", fragment)
	}
	return events
}

func TestDecoderChunkSizeDoesNotChangeEvents(t *testing.T) {
	whole := decodeAll(t, sampleStream, len(sampleStream))
	if len(whole) != 5 {
		t.Fatalf("expected 5 events, got %d", len(whole))
	}

	for _, size := range []int{1, 3, 7, 64} {
		chunked := decodeAll(t, sampleStream, size)
		if !reflect.DeepEqual(whole, chunked) {
			t.Fatalf("chunk size %d produced different events", size)
		}
	}
}

func TestDecoderBuffersPayloadSplitMidLine(t *testing.T) {
	dec := NewDecoder()

	events := dec.Feed([]byte("data: {\"type\":\"prog"))
	if len(events) != 0 {
		t.Fatalf("expected no events from a partial line, got %d", len(events))
	}

	events = dec.Feed([]byte("ress\",\"step\":\"writer\"}\n"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event once the line completed, got %d", len(events))
	}
	if events[0].Type != EventProgress || events[0].Step != StepWriter {
		t.Fatalf("unexpected event decoded: %+v", events[0])
	}
}

func TestDecoderHoldsUnparseablePayload(t *testing.T) {
	dec := NewDecoder()

	events := dec.Feed([]byte("data: {broken\ndata: {\"type\":\"complete\"}\n"))
	if len(events) != 0 {
		t.Fatalf("expected no events past an unparseable payload, got %d", len(events))
	}
	if dec.Done() {
		t.Fatalf("expected stream to remain open")
	}

	fragment, ok := dec.Finish()
	if !ok {
		t.Fatalf("expected the held bytes to surface on finish")
	}
	if !strings.Contains(fragment, "{broken") {
		t.Fatalf("expected fragment to carry the bad payload, got %q", fragment)
	}
}

func TestDecoderStopsAtTerminator(t *testing.T) {
	dec := NewDecoder()

	events := dec.Feed([]byte("data: {\"type\":\"progress\",\"step\":\"designer\"}\ndata: [DONE]\ndata: {\"type\":\"complete\"}\n"))
	if len(events) != 1 {
		t.Fatalf("expected only the event before the terminator, got %d", len(events))
	}
	if !dec.Done() {
		t.Fatalf("expected Done after terminator")
	}

	if more := dec.Feed([]byte("data: {\"type\":\"error\"}\n")); len(more) != 0 {
		t.Fatalf("expected no events after the terminator, got %d", len(more))
	}
	if fragment, ok := dec.Finish(); !ok || !strings.Contains(fragment, "complete") {
		t.Fatalf("expected post-terminator bytes as fragment, got %q ok=%v", fragment, ok)
	}
}

func TestDecoderSkipsNonEventLines(t *testing.T) {
	dec := NewDecoder()

	raw := "\n: keepalive\nevent: ping\ndata: {\"type\":\"writer_done\",\"round\":2}\r\n"
	events := dec.Feed([]byte(raw))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventWriterDone || events[0].Round != 2 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDecoderFinishReportsTrailingFragment(t *testing.T) {
	dec := NewDecoder()

	if events := dec.Feed([]byte("data: {\"type\":\"progress\"}\ndata: {\"type\":\"wr")); len(events) != 1 {
		t.Fatalf("expected 1 complete event, got %d", len(events))
	}

	fragment, ok := dec.Finish()
	if !ok {
		t.Fatalf("expected trailing fragment")
	}
	if fragment != "data: {\"type\":\"wr" {
		t.Fatalf("unexpected fragment %q", fragment)
	}

	if fragment, ok := dec.Finish(); ok {
		t.Fatalf("expected fragment to be consumed, got %q", fragment)
	}
}
