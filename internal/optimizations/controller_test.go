package optimizations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedAPI serves canned stream segments in order: the first segment
// answers Start and each following segment answers the next Continue.
type scriptedAPI struct {
	mu           sync.Mutex
	segments     []io.ReadCloser
	sessionIDs   []string
	startReqs    []StartRequest
	continueReqs []ContinueRequest
}

func (a *scriptedAPI) next() (io.ReadCloser, string, error) {
	if len(a.segments) == 0 {
		return nil, "", errors.New("no scripted segment left")
	}
	body := a.segments[0]
	a.segments = a.segments[1:]
	sid := ""
	if len(a.sessionIDs) > 0 {
		sid = a.sessionIDs[0]
		a.sessionIDs = a.sessionIDs[1:]
	}
	return body, sid, nil
}

func (a *scriptedAPI) Start(ctx context.Context, req StartRequest) (io.ReadCloser, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startReqs = append(a.startReqs, req)
	return a.next()
}

func (a *scriptedAPI) Continue(ctx context.Context, req ContinueRequest) (io.ReadCloser, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.continueReqs = append(a.continueReqs, req)
	return a.next()
}

func segment(t *testing.T, events ...Event) io.ReadCloser {
	t.Helper()
	var sb strings.Builder
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		fmt.Fprintf(&sb, "%s%s\n", streamMarker, payload)
	}
	return io.NopCloser(strings.NewReader(sb.String()))
}

func rawSegment(raw string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(raw))
}

// stallingBody blocks every Read until the body is closed.
type stallingBody struct {
	closed chan struct{}
	once   sync.Once
}

func newStallingBody() *stallingBody {
	return &stallingBody{closed: make(chan struct{})}
}

func (b *stallingBody) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.EOF
}

func (b *stallingBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// sequencedBody serves one chunk per Read, optionally waiting on a gate
// before a chunk becomes available.
type bodyStep struct {
	wait <-chan struct{}
	data []byte
}

type sequencedBody struct {
	mu     sync.Mutex
	steps  []bodyStep
	closed chan struct{}
	once   sync.Once
}

func newSequencedBody(steps ...bodyStep) *sequencedBody {
	return &sequencedBody{steps: steps, closed: make(chan struct{})}
}

func (b *sequencedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.steps) == 0 {
		b.mu.Unlock()
		return 0, io.EOF
	}
	step := b.steps[0]
	b.steps = b.steps[1:]
	b.mu.Unlock()

	if step.wait != nil {
		select {
		case <-step.wait:
		case <-b.closed:
			return 0, io.EOF
		}
	}
	return copy(p, step.data), nil
}

func (b *sequencedBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func completeEvent(rounds int) Event {
	return Event{Type: EventComplete, Optimization: &Result{
		ATSText:         "optimized text",
		StyledHTML:      "<p>optimized</p>",
		Markdown:        "optimized",
		RoundsCompleted: rounds,
	}}
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Type
	}
	return kinds
}

func TestControllerAutoRunToCompletion(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t,
				Event{Type: EventProgress, Step: StepResearcher, Message: "profiling target role"},
				Event{Type: EventResearcherDone, Step: StepResearcher, Checklist: []string{"lead with impact"}},
				Event{Type: EventWriterDone, Step: StepWriter, Round: 1},
				Event{Type: EventCriticDone, Step: StepCritic, Round: 1, Scorecard: &Scorecard{Overall: 70, RequiredEdits: []string{"quantify results"}}},
				Event{Type: EventGatekeeperFail, Step: StepCritic, Round: 1, Retry: 1, BlockingIssues: []string{"quantify results"}},
				Event{Type: EventAutoContinue, Step: StepCritic, NextStep: StepWriter, Round: 2, ContinuationID: "tok-1"},
			),
			segment(t,
				Event{Type: EventWriterDone, Step: StepWriter, Round: 2},
				Event{Type: EventCriticDone, Step: StepCritic, Round: 2, Scorecard: &Scorecard{Overall: 92}},
				Event{Type: EventGatekeeperPass, Step: StepCritic, Round: 2, NextStep: StepDesigner, Evidence: []string{"overall score 92"}},
				Event{Type: EventAutoContinue, Step: StepCritic, NextStep: StepDesigner, Round: 2, ContinuationID: "tok-2"},
			),
			segment(t,
				Event{Type: EventProgress, Step: StepDesigner, Message: "rendering formats"},
				Event{Type: EventDesignerDone, Step: StepDesigner},
				completeEvent(2),
			),
		},
		sessionIDs: []string{"sess-1", "", ""},
	}

	var observed []EventKind
	ctrl := NewController(api)
	ctrl.OnEvent = func(ev Event) { observed = append(observed, ev.Type) }

	target := Target{DocumentID: "doc-1", Role: "Backend Engineer", Location: "Austin, TX"}
	if err := ctrl.Start(context.Background(), target); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(api.startReqs) != 1 {
		t.Fatalf("expected 1 start call, got %d", len(api.startReqs))
	}
	if api.startReqs[0].TargetContentID != "doc-1" || api.startReqs[0].TargetRole != "Backend Engineer" {
		t.Fatalf("unexpected start request: %+v", api.startReqs[0])
	}
	if api.startReqs[0].ManualMode {
		t.Fatalf("expected auto mode on the wire")
	}

	if len(api.continueReqs) != 2 {
		t.Fatalf("expected 2 auto continues, got %d", len(api.continueReqs))
	}
	if api.continueReqs[0].ContinuationID != "tok-1" || api.continueReqs[1].ContinuationID != "tok-2" {
		t.Fatalf("unexpected continuation tokens: %+v", api.continueReqs)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusComplete {
		t.Fatalf("expected status complete, got %s", snap.Status)
	}
	if snap.SessionID != "sess-1" {
		t.Fatalf("expected the session id from the first segment, got %q", snap.SessionID)
	}
	if snap.Result == nil || snap.Result.RoundsCompleted != 2 {
		t.Fatalf("expected a two round result, got %+v", snap.Result)
	}
	if snap.CompletedRounds != 2 || snap.Round != 2 {
		t.Fatalf("expected round counters at 2, got round=%d completed=%d", snap.Round, snap.CompletedRounds)
	}
	if snap.Scorecard == nil || snap.Scorecard.Overall != 92 {
		t.Fatalf("expected the latest scorecard, got %+v", snap.Scorecard)
	}
	if len(snap.Verdicts) != 2 || snap.Verdicts[0].Passed || !snap.Verdicts[1].Passed {
		t.Fatalf("expected fail then pass verdicts, got %+v", snap.Verdicts)
	}
	if snap.Pending != nil {
		t.Fatalf("expected no pending continuation after completion")
	}

	wantOrder := []EventKind{
		EventProgress, EventResearcherDone, EventWriterDone, EventCriticDone,
		EventGatekeeperFail, EventAutoContinue,
		EventWriterDone, EventCriticDone, EventGatekeeperPass, EventAutoContinue,
		EventProgress, EventDesignerDone, EventComplete,
	}
	if len(observed) != len(wantOrder) {
		t.Fatalf("expected %d dispatched events, got %d", len(wantOrder), len(observed))
	}
	for i, kind := range wantOrder {
		if observed[i] != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, observed[i])
		}
	}
	if got := eventKinds(snap.Events); len(got) != len(wantOrder) {
		t.Fatalf("expected the event log to match dispatch, got %d events", len(got))
	}
}

func TestControllerManualPauseWaitsForContinue(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t,
				Event{Type: EventResearcherDone, Step: StepResearcher, Checklist: []string{"tighten summary"}},
				Event{Type: EventWriterDone, Step: StepWriter, Round: 1},
				Event{Type: EventCriticDone, Step: StepCritic, Round: 1, Scorecard: &Scorecard{Overall: 90}},
				Event{Type: EventGatekeeperPass, Step: StepCritic, Round: 1, NextStep: StepDesigner},
				Event{Type: EventAwaitUserContinue, Step: StepCritic, NextStep: StepDesigner, Round: 1, ContinuationID: "tok-9"},
			),
			segment(t,
				Event{Type: EventDesignerDone, Step: StepDesigner},
				completeEvent(1),
			),
		},
		sessionIDs: []string{"sess-2", "sess-2"},
	}

	ctrl := NewController(api)
	target := Target{DocumentID: "doc-7", Role: "Platform Engineer", Manual: true}
	if err := ctrl.Start(context.Background(), target); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusAwaitingContinue {
		t.Fatalf("expected awaiting_continue, got %s", snap.Status)
	}
	if snap.Pending == nil || snap.Pending.Token != "tok-9" || snap.Pending.Mode != ContinuationManual {
		t.Fatalf("unexpected pending continuation: %+v", snap.Pending)
	}
	if snap.Pending.NextStep != StepDesigner {
		t.Fatalf("expected designer as next step, got %q", snap.Pending.NextStep)
	}
	if len(api.continueReqs) != 0 {
		t.Fatalf("expected no continue call while paused, got %d", len(api.continueReqs))
	}

	if err := ctrl.ContinueSession(context.Background()); err != nil {
		t.Fatalf("ContinueSession: %v", err)
	}
	if len(api.continueReqs) != 1 {
		t.Fatalf("expected 1 continue call, got %d", len(api.continueReqs))
	}
	req := api.continueReqs[0]
	if req.ContinuationID != "tok-9" || req.TargetContentID != "doc-7" || !req.ManualMode {
		t.Fatalf("unexpected continue request: %+v", req)
	}

	snap = ctrl.Snapshot()
	if snap.Status != StatusComplete || snap.Result == nil {
		t.Fatalf("expected completion after continue, got status=%s", snap.Status)
	}
	if snap.Pending != nil {
		t.Fatalf("expected the pending token to be consumed")
	}
}

func TestControllerContinueWithoutPause(t *testing.T) {
	ctrl := NewController(&scriptedAPI{})
	if err := ctrl.ContinueSession(context.Background()); !errors.Is(err, ErrNoPendingContinue) {
		t.Fatalf("expected ErrNoPendingContinue, got %v", err)
	}
}

func TestControllerStartWhileActive(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t,
				Event{Type: EventAwaitUserContinue, NextStep: StepWriter, Round: 1, ContinuationID: "tok-3"},
			),
		},
	}

	ctrl := NewController(api)
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "SRE", Manual: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-2", Role: "SRE"}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	ctrl.Cancel()
	if snap := ctrl.Snapshot(); snap.Status != StatusIdle {
		t.Fatalf("expected idle after cancel, got %s", snap.Status)
	}
}

func TestControllerServerErrorEventSurfacesVerbatim(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t,
				Event{Type: EventProgress, Step: StepCritic, Message: "scoring draft"},
				Event{Type: EventError, Message: "critic stage timed out after 90s"},
			),
		},
	}

	ctrl := NewController(api)
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Data Engineer"}); err != nil {
		t.Fatalf("expected a clean return on a server error event, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusError {
		t.Fatalf("expected status error, got %s", snap.Status)
	}
	if snap.ErrorCode != "" {
		t.Fatalf("expected no client-side code for a server error, got %q", snap.ErrorCode)
	}
	if snap.ErrorMessage != "critic stage timed out after 90s" {
		t.Fatalf("expected the server message verbatim, got %q", snap.ErrorMessage)
	}
	if snap.Result != nil {
		t.Fatalf("expected no result on error")
	}
}

func TestControllerStreamEndsWithoutTerminalEvent(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t, Event{Type: EventProgress, Step: StepWriter, Message: "drafting"}),
		},
	}

	ctrl := NewController(api)
	err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "QA Engineer"})
	if err == nil || !strings.Contains(err.Error(), "stream ended before a terminal event") {
		t.Fatalf("expected a premature end error, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusError || snap.ErrorCode != ErrorCodeTransport {
		t.Fatalf("expected a transport error, got status=%s code=%s", snap.Status, snap.ErrorCode)
	}
}

func TestControllerIdleTimeout(t *testing.T) {
	api := &scriptedAPI{segments: []io.ReadCloser{newStallingBody()}}

	ctrl := NewController(api)
	ctrl.IdleTimeout = 30 * time.Millisecond

	err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer"})
	if !errors.Is(err, ErrStreamIdle) {
		t.Fatalf("expected ErrStreamIdle, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusError || snap.ErrorCode != ErrorCodeTransport {
		t.Fatalf("expected a transport error, got status=%s code=%s", snap.Status, snap.ErrorCode)
	}
	if !strings.Contains(snap.ErrorMessage, "no stream activity") {
		t.Fatalf("expected an idle message, got %q", snap.ErrorMessage)
	}
}

func TestControllerCancelDropsLateEvents(t *testing.T) {
	release := make(chan struct{})
	completePayload, err := json.Marshal(completeEvent(1))
	if err != nil {
		t.Fatalf("marshal complete: %v", err)
	}
	body := newSequencedBody(
		bodyStep{data: []byte("data: {\"type\":\"progress\",\"step\":\"writer\",\"message\":\"drafting\"}\n")},
		bodyStep{wait: release, data: append([]byte(streamMarker), append(completePayload, '\n')...)},
	)
	api := &scriptedAPI{segments: []io.ReadCloser{body}}

	sawProgress := make(chan struct{})
	var mu sync.Mutex
	var observed []EventKind

	ctrl := NewController(api)
	ctrl.OnEvent = func(ev Event) {
		mu.Lock()
		observed = append(observed, ev.Type)
		mu.Unlock()
		if ev.Type == EventProgress {
			close(sawProgress)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer"})
	}()

	<-sawProgress
	ctrl.Cancel()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("expected a cancelled run to return nil, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusIdle {
		t.Fatalf("expected idle after cancel, got %s", snap.Status)
	}
	if snap.Result != nil {
		t.Fatalf("expected the racing completion to be dropped")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, kind := range observed {
		if kind == EventComplete {
			t.Fatalf("expected the complete event to never dispatch after cancel")
		}
	}
}

func TestControllerResultRetainedUntilReset(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t, completeEvent(1)),
			segment(t, Event{Type: EventError, Message: "stage crashed"}),
		},
	}

	ctrl := NewController(api)
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Result == nil {
		t.Fatalf("expected a result after completion")
	}

	// A later failed run keeps the earlier result available.
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer"}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.Status != StatusError {
		t.Fatalf("expected the second run to fail, got %s", snap.Status)
	}
	if snap.Result == nil {
		t.Fatalf("expected the prior result to be retained")
	}

	ctrl.Reset()
	snap = ctrl.Snapshot()
	if snap.Status != StatusIdle || snap.Result != nil {
		t.Fatalf("expected reset to clear everything, got status=%s result=%v", snap.Status, snap.Result)
	}
}

func TestControllerPauseWithoutTokenFailsSession(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			segment(t, Event{Type: EventAwaitUserContinue, NextStep: StepWriter, Round: 1}),
		},
	}

	ctrl := NewController(api)
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer", Manual: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusError || snap.ErrorCode != ErrorCodeValidation {
		t.Fatalf("expected a validation failure, got status=%s code=%s", snap.Status, snap.ErrorCode)
	}
	if snap.Pending != nil {
		t.Fatalf("expected no pending continuation")
	}
}

func TestControllerSkipsUnknownAndStaleRoundEvents(t *testing.T) {
	api := &scriptedAPI{
		segments: []io.ReadCloser{
			rawSegment("data: {\"type\":\"mystery\",\"message\":\"future frame\"}\n" +
				"data: {\"type\":\"writer_done\",\"step\":\"writer\",\"round\":1}\n" +
				"data: {\"type\":\"writer_done\",\"step\":\"writer\",\"round\":1}\n" +
				"data: {\"type\":\"critic_done\",\"step\":\"critic\",\"round\":1,\"scorecard\":{\"overall\":95}}\n" +
				"data: {\"type\":\"gatekeeper_pass\",\"step\":\"critic\",\"round\":1,\"next_step\":\"designer\"}\n" +
				"data: {\"type\":\"auto_continue\",\"next_step\":\"designer\",\"round\":1,\"continuation_id\":\"tok-4\"}\n"),
			segment(t,
				Event{Type: EventDesignerDone, Step: StepDesigner},
				completeEvent(1),
			),
		},
	}

	ctrl := NewController(api)
	if err := ctrl.Start(context.Background(), Target{DocumentID: "doc-1", Role: "Backend Engineer"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Status != StatusComplete {
		t.Fatalf("expected completion, got %s", snap.Status)
	}
	if snap.CompletedRounds != 1 {
		t.Fatalf("expected 1 completed round, got %d", snap.CompletedRounds)
	}

	writerCount := 0
	for _, ev := range snap.Events {
		if ev.Type == "mystery" {
			t.Fatalf("expected unknown kinds to be dropped from the log")
		}
		if ev.Type == EventWriterDone {
			writerCount++
		}
	}
	if writerCount != 1 {
		t.Fatalf("expected the replayed writer round to be dropped, got %d writer events", writerCount)
	}
}
