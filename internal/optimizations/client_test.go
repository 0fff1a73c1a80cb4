package optimizations

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientStartAcceptsAnySuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/optimizations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Optimization-Id", "sess-1")
		// Some proxies rewrite streamed responses to 202; any 2xx is a
		// live stream.
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "data: {\"type\":\"progress\"}\n\n")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	body, sessionID, err := client.Start(context.Background(), StartRequest{TargetContentID: "doc-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = body.Close() })
	if sessionID != "sess-1" {
		t.Fatalf("expected session id from header, got %q", sessionID)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(raw), "progress") {
		t.Fatalf("expected streamed events, got %q", raw)
	}
}

func TestClientContinueReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"code":"CONTINUATION_CONSUMED","message":"continuation already used"}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	_, _, err := client.Continue(context.Background(), ContinueRequest{ContinuationID: "tok-1"})
	if err == nil {
		t.Fatal("expected an error for a 409 response")
	}
	for _, want := range []string{"409", "continuation already used", "CONTINUATION_CONSUMED"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %q, got %v", want, err)
		}
	}
}
