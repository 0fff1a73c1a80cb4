package optimizations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"optimizer-backend/internal/shared/telemetry"
)

// DefaultStreamIdleTimeout aborts a stream with no traffic at all, heartbeats
// included. Stage work on the server keeps the stream warm well inside this.
const DefaultStreamIdleTimeout = 120 * time.Second

// Snapshot is a point-in-time copy of controller state, safe to read after
// the controller moves on.
type Snapshot struct {
	Status          string
	SessionID       string
	Target          Target
	Round           int
	CompletedRounds int
	Scorecard       *Scorecard
	Verdicts        []GateVerdict
	Pending         *PendingContinuation
	Events          []Event
	Result          *Result
	ErrorCode       string
	ErrorMessage    string
}

// Controller drives one optimization session at a time against the API.
// Start and ContinueSession block while the stream is live and return when
// the session pauses for the user or reaches a terminal state; Cancel and
// Snapshot are safe to call from other goroutines. Events are dispatched
// strictly in arrival order on the driving goroutine.
type Controller struct {
	// API issues the start and continue calls. Required.
	API SessionAPI
	// IdleTimeout overrides DefaultStreamIdleTimeout when positive. Read
	// when a session starts.
	IdleTimeout time.Duration
	// OnEvent, when set before Start, observes every applied event in
	// dispatch order. It runs on the driving goroutine; keep it fast.
	OnEvent func(Event)

	mu        sync.Mutex
	status    string
	sessionID string
	target    Target
	events    []Event
	tracker   RoundTracker
	gate      Gatekeeper
	scorecard *Scorecard
	pending   *PendingContinuation
	result    *Result
	errCode   string
	errMsg    string
	cancelled bool
	cancelRun context.CancelFunc
}

// NewController returns an idle controller.
func NewController(api SessionAPI) *Controller {
	return &Controller{API: api, status: StatusIdle}
}

// Start opens a new session for target and drives it until it completes,
// fails, or pauses for a manual continue. Auto continues are consumed
// in-line without returning. Starting over an active session returns
// ErrSessionActive; a finished controller can be started again.
func (c *Controller) Start(ctx context.Context, target Target) error {
	runCtx, cancel, err := c.begin(ctx, target)
	if err != nil {
		return err
	}
	defer cancel()

	body, sid, err := c.API.Start(runCtx, StartRequest{
		TargetContentID: target.DocumentID,
		TargetRole:      target.Role,
		Location:        target.Location,
		ManualMode:      target.Manual,
	})
	if err != nil {
		return c.failRequest(err)
	}
	c.setSessionID(sid)
	return c.drive(runCtx, body)
}

// ContinueSession resumes a session paused for user input. It consumes the
// pending token and blocks like Start. Without a manual pause in effect it
// returns ErrNoPendingContinue.
func (c *Controller) ContinueSession(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusAwaitingContinue || c.pending == nil {
		c.mu.Unlock()
		return ErrNoPendingContinue
	}
	token := c.pending.Token
	target := c.target
	c.pending = nil
	c.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.mu.Unlock()
	defer cancel()

	body, sid, err := c.API.Continue(runCtx, ContinueRequest{
		TargetContentID: target.DocumentID,
		ContinuationID:  token,
		ManualMode:      target.Manual,
	})
	if err != nil {
		return c.failRequest(err)
	}
	c.setSessionID(sid)
	return c.drive(runCtx, body)
}

// Cancel abandons the active session and returns the controller to idle.
// The in-flight request is aborted and any events still buffered are
// dropped, so a completion racing the cancel never surfaces. A previously
// completed Result is kept until Reset.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusRunning, StatusAwaitingContinue, StatusAutoContinuing:
	default:
		return
	}
	c.cancelled = true
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.clearSessionLocked()
	c.status = StatusIdle
}

// Reset cancels any active session and clears all state, the retained
// Result included.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusRunning, StatusAwaitingContinue, StatusAutoContinuing:
		c.cancelled = true
		if c.cancelRun != nil {
			c.cancelRun()
		}
	}
	c.clearSessionLocked()
	c.result = nil
	c.status = StatusIdle
}

// Snapshot copies the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Status:          c.status,
		SessionID:       c.sessionID,
		Target:          c.target,
		Round:           c.tracker.Current(),
		CompletedRounds: c.tracker.CompletedRounds(),
		Verdicts:        c.gate.Verdicts(),
		Result:          c.result,
		ErrorCode:       c.errCode,
		ErrorMessage:    c.errMsg,
	}
	if c.scorecard != nil {
		sc := *c.scorecard
		snap.Scorecard = &sc
	}
	if c.pending != nil {
		p := *c.pending
		snap.Pending = &p
	}
	if len(c.events) > 0 {
		snap.Events = append([]Event(nil), c.events...)
	}
	return snap
}

func (c *Controller) begin(ctx context.Context, target Target) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusRunning, StatusAwaitingContinue, StatusAutoContinuing:
		return nil, nil, ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.clearSessionLocked()
	c.target = target
	c.status = StatusRunning
	c.cancelled = false
	c.cancelRun = cancel
	return runCtx, cancel, nil
}

// clearSessionLocked drops per-session state. The retained Result is left
// alone; Reset clears it separately.
func (c *Controller) clearSessionLocked() {
	c.sessionID = ""
	c.target = Target{}
	c.events = nil
	c.tracker = RoundTracker{}
	c.gate = Gatekeeper{}
	c.scorecard = nil
	c.pending = nil
	c.errCode = ""
	c.errMsg = ""
}

// drive drains stream segments until the session pauses for the user or
// ends. Auto pauses are resumed here, after the segment that produced them
// is fully dispatched and before any further input is read.
func (c *Controller) drive(ctx context.Context, body io.ReadCloser) error {
	idle := c.IdleTimeout
	if idle <= 0 {
		idle = DefaultStreamIdleTimeout
	}
	for {
		pause, err := c.drain(ctx, body, idle)
		if err != nil {
			if c.wasCancelled() {
				return nil
			}
			return err
		}
		if pause == nil || pause.Mode == ContinuationManual {
			return nil
		}

		next, sid, err := c.resume(ctx, *pause)
		if err != nil {
			if c.wasCancelled() {
				return nil
			}
			return err
		}
		c.setSessionID(sid)
		body = next
	}
}

func (c *Controller) resume(ctx context.Context, p PendingContinuation) (io.ReadCloser, string, error) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return nil, "", context.Canceled
	}
	c.pending = nil
	c.status = StatusRunning
	target := c.target
	c.mu.Unlock()

	body, sid, err := c.API.Continue(ctx, ContinueRequest{
		TargetContentID: target.DocumentID,
		ContinuationID:  p.Token,
		ManualMode:      target.Manual,
	})
	if err != nil {
		c.failRequest(err)
		return nil, "", err
	}
	return body, sid, nil
}

type readResult struct {
	data []byte
	err  error
}

// drain decodes one stream segment. It returns a pending continuation when
// the segment ended on a pause event, (nil, nil) when the session reached a
// terminal state, and an error for transport failures and idle timeouts.
func (c *Controller) drain(ctx context.Context, body io.ReadCloser, idle time.Duration) (*PendingContinuation, error) {
	defer body.Close()

	reads := make(chan readResult, 8)
	go func() {
		defer close(reads)
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			var data []byte
			if n > 0 {
				data = append([]byte(nil), buf[:n]...)
			}
			select {
			case reads <- readResult{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	dec := NewDecoder()
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-idleTimer.C:
			c.failStream(ErrorCodeTransport, fmt.Sprintf("no stream activity for %s", idle))
			return nil, ErrStreamIdle

		case r, ok := <-reads:
			if !ok {
				return nil, ctx.Err()
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idle)

			if len(r.data) > 0 {
				out := c.apply(dec.Feed(r.data))
				if out.terminal {
					return nil, nil
				}
				if out.pause != nil {
					return out.pause, nil
				}
			}
			if r.err == nil {
				continue
			}
			if fragment, ok := dec.Finish(); ok {
				logStreamAnomaly(c.currentSessionID(), Event{}, "trailing fragment discarded: "+sanitizeMessage(fragment))
			}
			if errors.Is(r.err, io.EOF) {
				c.failStream(ErrorCodeTransport, "stream ended before a terminal event")
				return nil, errors.New("stream ended before a terminal event")
			}
			c.failStream(ErrorCodeTransport, sanitizeMessage(r.err.Error()))
			return nil, fmt.Errorf("read stream: %w", r.err)
		}
	}
}

type batchOutcome struct {
	pause    *PendingContinuation
	terminal bool
}

// apply dispatches a batch of decoded events under the lock and invokes the
// OnEvent hook, outside the lock, for each event that was accepted into the
// log. Events decoded after a cancel are dropped.
func (c *Controller) apply(events []Event) batchOutcome {
	var out batchOutcome
	if len(events) == 0 {
		return out
	}

	c.mu.Lock()
	notify := make([]Event, 0, len(events))
	for _, ev := range events {
		if c.cancelled {
			break
		}
		if c.status == StatusComplete || c.status == StatusError {
			logStreamAnomaly(c.sessionID, ev, "event after terminal state")
			continue
		}
		if !ev.Known() {
			logStreamAnomaly(c.sessionID, ev, "unknown event kind")
			continue
		}
		if !c.applyLocked(ev, &out) {
			continue
		}
		c.events = append(c.events, ev)
		notify = append(notify, ev)
	}
	onEvent := c.OnEvent
	c.mu.Unlock()

	if onEvent != nil {
		for _, ev := range notify {
			onEvent(ev)
		}
	}
	return out
}

// applyLocked folds one event into session state. It reports whether the
// event was accepted; rejected events stay out of the log and are never
// dispatched.
func (c *Controller) applyLocked(ev Event, out *batchOutcome) bool {
	switch ev.Type {
	case EventWriterDone, EventCriticDone:
		if !c.tracker.Observe(ev) {
			logStreamAnomaly(c.sessionID, ev, "out-of-order round")
			return false
		}
		if ev.Type == EventCriticDone && ev.Scorecard != nil {
			sc := *ev.Scorecard
			c.scorecard = &sc
		}

	case EventGatekeeperPass, EventGatekeeperFail, EventGatekeeperBlocked:
		if c.gate.Apply(ev) == GateHalt {
			c.status = StatusError
			c.errCode = ErrorCodeGateBlocked
			c.errMsg = blockedMessage(ev)
			c.pending = nil
			out.terminal = true
		}

	case EventAwaitUserContinue, EventAutoContinue:
		p, err := pendingFromEvent(ev)
		if err != nil {
			c.status = StatusError
			c.errCode = ErrorCodeValidation
			c.errMsg = "pause event carried no continuation token"
			c.pending = nil
			out.terminal = true
			return true
		}
		c.pending = &p
		if p.Mode == ContinuationAuto {
			c.status = StatusAutoContinuing
		} else {
			c.status = StatusAwaitingContinue
		}
		out.pause = &p

	case EventComplete:
		if ev.Optimization == nil {
			logStreamAnomaly(c.sessionID, ev, "complete event missing payload")
			return false
		}
		c.result = ev.Optimization
		if ev.Optimization.Scorecard != nil {
			sc := *ev.Optimization.Scorecard
			c.scorecard = &sc
		}
		c.status = StatusComplete
		c.pending = nil
		out.terminal = true

	case EventError:
		// Server failure messages arrive pre-sanitized; surface verbatim.
		c.status = StatusError
		c.errCode = ""
		c.errMsg = ev.Message
		c.pending = nil
		out.terminal = true
	}
	return true
}

// failStream marks the session failed for a client-detected stream problem.
// No-op once the session is already settled or cancelled.
func (c *Controller) failStream(code, message string) {
	c.mu.Lock()
	switch {
	case c.cancelled, c.status == StatusComplete, c.status == StatusError, c.status == StatusIdle:
		c.mu.Unlock()
		return
	}
	c.status = StatusError
	c.errCode = code
	c.errMsg = message
	c.pending = nil
	sessionID := c.sessionID
	c.mu.Unlock()

	telemetry.Error("optimization.stream.failed", map[string]any{
		"session_id": sessionID,
		"code":       code,
		"message":    message,
	})
}

func (c *Controller) failRequest(err error) error {
	if c.wasCancelled() {
		return nil
	}
	c.failStream(ErrorCodeTransport, sanitizeMessage(err.Error()))
	return err
}

func (c *Controller) wasCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Controller) setSessionID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *Controller) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func blockedMessage(ev Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	if len(ev.BlockingIssues) > 0 {
		return strings.Join(ev.BlockingIssues, "; ")
	}
	return "gatekeeper blocked the session"
}

func logStreamAnomaly(sessionID string, ev Event, reason string) {
	fields := map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	}
	if ev.Type != "" {
		fields["event_type"] = string(ev.Type)
	}
	telemetry.Warn("optimization.stream.anomaly", fields)
}
