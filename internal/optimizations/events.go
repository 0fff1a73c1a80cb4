package optimizations

import "encoding/json"

// EventKind identifies a protocol frame.
type EventKind string

const (
	EventProgress          EventKind = "progress"
	EventResearcherDone    EventKind = "researcher_done"
	EventWriterDone        EventKind = "writer_done"
	EventCriticDone        EventKind = "critic_done"
	EventDesignerDone      EventKind = "designer_done"
	EventGatekeeperPass    EventKind = "gatekeeper_pass"
	EventGatekeeperFail    EventKind = "gatekeeper_fail"
	EventGatekeeperBlocked EventKind = "gatekeeper_blocked"
	EventAwaitUserContinue EventKind = "await_user_continue"
	EventAutoContinue      EventKind = "auto_continue"
	EventComplete          EventKind = "complete"
	EventError             EventKind = "error"
)

// Event is one protocol frame. Fields beyond Type are populated per kind;
// a frame with an unrecognized type still decodes and is skipped upstream.
type Event struct {
	Type           EventKind  `json:"type"`
	Step           string     `json:"step,omitempty"`
	NextStep       string     `json:"next_step,omitempty"`
	Round          int        `json:"round,omitempty"`
	Message        string     `json:"message,omitempty"`
	Checklist      []string   `json:"checklist,omitempty"`
	Scorecard      *Scorecard `json:"scorecard,omitempty"`
	Evidence       []string   `json:"evidence,omitempty"`
	BlockingIssues []string   `json:"blocking_issues,omitempty"`
	Forced         bool       `json:"forced,omitempty"`
	Retry          int        `json:"retry,omitempty"`
	ContinuationID string     `json:"continuation_id,omitempty"`
	Optimization   *Result    `json:"optimization,omitempty"`
}

// ParseEvent decodes one frame payload.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Terminal reports whether the event ends a session.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Gate reports whether the event carries a gatekeeper decision.
func (e Event) Gate() bool {
	switch e.Type {
	case EventGatekeeperPass, EventGatekeeperFail, EventGatekeeperBlocked:
		return true
	}
	return false
}

// Known reports whether the event type is part of the protocol.
func (e Event) Known() bool {
	switch e.Type {
	case EventProgress, EventResearcherDone, EventWriterDone, EventCriticDone,
		EventDesignerDone, EventGatekeeperPass, EventGatekeeperFail,
		EventGatekeeperBlocked, EventAwaitUserContinue, EventAutoContinue,
		EventComplete, EventError:
		return true
	}
	return false
}
