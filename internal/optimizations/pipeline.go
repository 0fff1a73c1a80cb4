package optimizations

import (
	"context"
	"fmt"
)

// MintFunc persists a continuation for a pause point and returns its token.
type MintFunc func(ctx context.Context, nextStep string, round int, state PipelineState) (string, error)

// RunParams positions one pipeline segment. A fresh session starts at the
// researcher with an empty state; a resumed one starts at the step and round
// the consumed continuation recorded.
type RunParams struct {
	Session  Session
	Resume   string
	State    PipelineState
	FromStep string
	Round    int
}

// PausePoint describes where a segment stopped and how it resumes.
type PausePoint struct {
	Mode     ContinuationMode
	Token    string
	NextStep string
	Round    int
}

// RunOutcome is what a segment produced: a terminal result, a pause point,
// or a blocked verdict, plus the state and verdicts accumulated on the way.
type RunOutcome struct {
	State    PipelineState
	Round    int
	Verdicts []GateVerdict
	Result   *Result
	Paused   *PausePoint
	Blocked  []string
}

// Pipeline executes optimization segments. A segment runs from its start
// position up to the next round boundary: every critic gate decision that
// leaves work to do pauses the stream with a continuation, so each HTTP
// request covers at most one writer/critic round or the designer. Manual
// sessions wait for the user at the boundary; automatic ones hand the client
// a token to resume with immediately.
type Pipeline struct {
	Stages StageExecutor
	Policy GatePolicy
	Limits RoundLimits
}

// Run executes one segment, emitting protocol events to sink in order.
// Returned errors are stage or sink failures the caller turns into a
// terminal error event; blocked and paused outcomes are not errors.
func (p *Pipeline) Run(ctx context.Context, params RunParams, sink EventSink, mint MintFunc) (RunOutcome, error) {
	limits := p.Limits.normalized()

	state := params.State
	round := params.Round
	step := params.FromStep
	gk := &Gatekeeper{}
	out := func() RunOutcome {
		return RunOutcome{State: state, Round: round, Verdicts: gk.Verdicts()}
	}

	base := StageContext{
		ResumeText: params.Resume,
		TargetRole: params.Session.TargetRole,
		Location:   params.Session.Location,
	}

	if step == "" || step == StepResearcher {
		if err := sink.Send(Event{Type: EventProgress, Step: StepResearcher, Message: "analyzing target role"}); err != nil {
			return out(), fmt.Errorf("send progress: %w", err)
		}
		research, err := p.Stages.Research(ctx, base)
		if err != nil {
			return out(), fmt.Errorf("researcher stage: %w", err)
		}
		state.Checklist = research.Checklist
		if err := sink.Send(Event{Type: EventResearcherDone, Message: research.Summary, Checklist: research.Checklist}); err != nil {
			return out(), fmt.Errorf("send researcher_done: %w", err)
		}

		gateEv := researcherGate(research)
		if err := sink.Send(gateEv); err != nil {
			return out(), fmt.Errorf("send researcher gate: %w", err)
		}
		if gk.Apply(gateEv) == GateHalt {
			o := out()
			o.Blocked = gateEv.BlockingIssues
			return o, nil
		}
		step = StepWriter
		round = 1
	}

	if step == StepWriter {
		sc := base
		sc.Round = round
		sc.Checklist = state.Checklist
		sc.Draft = state.Draft
		sc.Critique = state.Scorecard

		if err := sink.Send(Event{Type: EventProgress, Step: StepWriter, Round: round, Message: fmt.Sprintf("drafting round %d", round)}); err != nil {
			return out(), fmt.Errorf("send progress: %w", err)
		}
		draft, err := p.Stages.Write(ctx, sc)
		if err != nil {
			return out(), fmt.Errorf("writer stage round %d: %w", round, err)
		}
		state.Draft = draft.Content
		state.Changelog = append(state.Changelog, draft.Changelog...)
		if err := sink.Send(Event{Type: EventWriterDone, Round: round, Message: draft.Summary}); err != nil {
			return out(), fmt.Errorf("send writer_done: %w", err)
		}

		sc.Draft = state.Draft
		if err := sink.Send(Event{Type: EventProgress, Step: StepCritic, Round: round, Message: fmt.Sprintf("reviewing round %d", round)}); err != nil {
			return out(), fmt.Errorf("send progress: %w", err)
		}
		scorecard, err := p.Stages.Review(ctx, sc)
		if err != nil {
			return out(), fmt.Errorf("critic stage round %d: %w", round, err)
		}
		state.Scorecard = &scorecard
		if err := sink.Send(Event{Type: EventCriticDone, Round: round, Message: criticSummary(scorecard), Scorecard: &scorecard}); err != nil {
			return out(), fmt.Errorf("send critic_done: %w", err)
		}

		gateEv := p.Policy.Evaluate(scorecard, round, limits)
		gateEv.NextStep = gateNextStep(gateEv)
		if err := sink.Send(gateEv); err != nil {
			return out(), fmt.Errorf("send gate verdict: %w", err)
		}

		next := StepDesigner
		switch gk.Apply(gateEv) {
		case GateHalt:
			o := out()
			o.Blocked = gateEv.BlockingIssues
			return o, nil
		case GateProceedForced:
			state.Forced = append(state.Forced, fmt.Sprintf("%s@round%d", StepCritic, round))
		case GateRetry:
			next = StepWriter
			round++
		}

		pause, err := p.pause(ctx, params.Session, next, round, state, sink, mint)
		if err != nil {
			return out(), err
		}
		o := out()
		o.Paused = pause
		return o, nil
	}

	sc := base
	sc.Round = round
	sc.Checklist = state.Checklist
	sc.Draft = state.Draft
	sc.Critique = state.Scorecard

	if err := sink.Send(Event{Type: EventProgress, Step: StepDesigner, Message: "rendering final formats"}); err != nil {
		return out(), fmt.Errorf("send progress: %w", err)
	}
	rendered, err := p.Stages.Render(ctx, sc)
	if err != nil {
		return out(), fmt.Errorf("designer stage: %w", err)
	}
	if err := sink.Send(Event{Type: EventDesignerDone, Message: rendered.Summary}); err != nil {
		return out(), fmt.Errorf("send designer_done: %w", err)
	}

	result := Result{
		ATSText:         rendered.ATSText,
		StyledHTML:      rendered.StyledHTML,
		Markdown:        rendered.Markdown,
		Changelog:       append([]string(nil), state.Changelog...),
		Scorecard:       state.Scorecard,
		RoundsCompleted: round,
		ForcedSteps:     append([]string(nil), state.Forced...),
	}
	o := out()
	o.Result = &result
	return o, nil
}

// pause mints a continuation for the next stage and emits the pause event.
// Manual sessions wait for the user; automatic ones are resumed by the
// client with the minted token.
func (p *Pipeline) pause(ctx context.Context, session Session, nextStep string, round int, state PipelineState, sink EventSink, mint MintFunc) (*PausePoint, error) {
	if mint == nil {
		return nil, fmt.Errorf("pause required but no continuation minter")
	}

	token, err := mint(ctx, nextStep, round, state)
	if err != nil {
		return nil, fmt.Errorf("mint continuation: %w", err)
	}

	var ev Event
	mode := ContinuationAuto
	if session.Manual {
		mode = ContinuationManual
		ev = Event{
			Type:           EventAwaitUserContinue,
			Step:           StepCritic,
			NextStep:       nextStep,
			ContinuationID: token,
			Message:        "waiting for user approval to continue",
		}
	} else {
		ev = Event{
			Type:           EventAutoContinue,
			Step:           StepCritic,
			Round:          round,
			ContinuationID: token,
			Message:        "continuing in a new segment",
		}
	}
	if err := sink.Send(ev); err != nil {
		return nil, fmt.Errorf("send pause event: %w", err)
	}
	return &PausePoint{Mode: mode, Token: token, NextStep: nextStep, Round: round}, nil
}

func researcherGate(research Research) Event {
	if len(research.Checklist) == 0 {
		return Event{
			Type:           EventGatekeeperBlocked,
			Step:           StepResearcher,
			Message:        "research produced no requirements",
			BlockingIssues: []string{"requirement checklist is empty"},
		}
	}
	return Event{
		Type:     EventGatekeeperPass,
		Step:     StepResearcher,
		NextStep: StepWriter,
		Evidence: []string{fmt.Sprintf("checklist contains %d requirements", len(research.Checklist))},
	}
}

func gateNextStep(ev Event) string {
	switch ev.Type {
	case EventGatekeeperPass:
		return StepDesigner
	case EventGatekeeperFail:
		if ev.Forced {
			return StepDesigner
		}
		return StepWriter
	default:
		return ""
	}
}

func criticSummary(sc Scorecard) string {
	if len(sc.TruthViolations) > 0 {
		return fmt.Sprintf("scored %d with %d truth violations", sc.Overall, len(sc.TruthViolations))
	}
	if len(sc.RequiredEdits) > 0 {
		return fmt.Sprintf("scored %d with %d required edits", sc.Overall, len(sc.RequiredEdits))
	}
	return fmt.Sprintf("scored %d", sc.Overall)
}
