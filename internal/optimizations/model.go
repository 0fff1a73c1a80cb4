package optimizations

import "time"

// Session status values. A session moves running -> (awaiting_continue |
// auto_continuing) -> running until it reaches complete or error. The idle
// status exists only on the client side, before a session starts or after a
// cancel.
const (
	StatusIdle             = "idle"
	StatusRunning          = "running"
	StatusAwaitingContinue = "awaiting_continue"
	StatusAutoContinuing   = "auto_continuing"
	StatusComplete         = "complete"
	StatusError            = "error"
)

// Pipeline steps in execution order. Writer and critic alternate in rounds
// until the gatekeeper lets the draft through to the designer.
const (
	StepResearcher = "researcher"
	StepWriter     = "writer"
	StepCritic     = "critic"
	StepDesigner   = "designer"
)

// Session is one optimization run over a target document.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	DocumentID   string        `json:"documentId"`
	TargetRole   string        `json:"targetRole"`
	Location     string        `json:"location,omitempty"`
	Manual       bool          `json:"manual"`
	Status       string        `json:"status"`
	Round        int           `json:"round"`
	Scorecard    *Scorecard    `json:"scorecard,omitempty"`
	Verdicts     []GateVerdict `json:"verdicts,omitempty"`
	Result       *Result       `json:"result,omitempty"`
	Artifacts    ArtifactKeys  `json:"artifacts"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

// Target identifies what a session optimizes: a stored resume document and
// the role it should be tailored toward. Manual selects user-approved
// continuation between rounds instead of automatic resumption.
type Target struct {
	DocumentID string
	Role       string
	Location   string
	Manual     bool
}

// ArtifactKeys locates the rendered result artifacts in the object store.
type ArtifactKeys struct {
	ATSText    string `json:"atsText,omitempty"`
	StyledHTML string `json:"styledHtml,omitempty"`
	Markdown   string `json:"markdown,omitempty"`
}

// Scorecard is the critic's structured review of one draft round. Field
// names follow the wire protocol.
type Scorecard struct {
	Overall         int      `json:"overall"`
	ATSFitness      int      `json:"ats_fitness"`
	KeywordCoverage int      `json:"keyword_coverage"`
	Clarity         int      `json:"clarity"`
	Praise          []string `json:"praise,omitempty"`
	TruthViolations []string `json:"truth_violations,omitempty"`
	RequiredEdits   []string `json:"required_edits,omitempty"`
}

// GateVerdict records one gatekeeper decision. Forced and Retry carry the
// upstream values as-is.
type GateVerdict struct {
	Step           string   `json:"step"`
	Round          int      `json:"round"`
	Passed         bool     `json:"passed"`
	Blocked        bool     `json:"blocked,omitempty"`
	Forced         bool     `json:"forced,omitempty"`
	Retry          int      `json:"retry,omitempty"`
	NextStep       string   `json:"next_step,omitempty"`
	Evidence       []string `json:"evidence,omitempty"`
	BlockingIssues []string `json:"blocking_issues,omitempty"`
}

// Result is the terminal payload of a completed session. ForcedSteps lists
// gates that were forced through so a pass-with-warning stays visible.
type Result struct {
	ATSText         string     `json:"ats_text"`
	StyledHTML      string     `json:"styled_html"`
	Markdown        string     `json:"markdown"`
	Changelog       []string   `json:"changelog,omitempty"`
	Scorecard       *Scorecard `json:"scorecard,omitempty"`
	RoundsCompleted int        `json:"rounds_completed"`
	ForcedSteps     []string   `json:"forced_steps,omitempty"`
}

// Continuation is a server-minted resume point for a paused session. The
// token (ID) is opaque to clients and single-use: resolving it consumes it.
type Continuation struct {
	ID         string
	SessionID  string
	UserID     string
	NextStep   string
	Round      int
	State      PipelineState
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// PipelineState is the working material carried across segments of a
// session: the latest draft, the researcher checklist, critique, and the
// accumulated changelog and forced-gate record.
type PipelineState struct {
	Draft     string     `json:"draft"`
	Checklist []string   `json:"checklist,omitempty"`
	Scorecard *Scorecard `json:"scorecard,omitempty"`
	Changelog []string   `json:"changelog,omitempty"`
	Forced    []string   `json:"forced,omitempty"`
}
