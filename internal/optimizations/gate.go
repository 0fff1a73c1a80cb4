package optimizations

import "fmt"

// GateOutcome tells the round loop what to do after a gatekeeper event.
type GateOutcome int

const (
	// GateIgnored means the event was not a gate decision.
	GateIgnored GateOutcome = iota
	// GateAdvance means the draft passed and the pipeline moves to design.
	GateAdvance
	// GateRetry means the draft failed and another writer round follows.
	GateRetry
	// GateProceedForced means the round ceiling was hit with no truth
	// violations, so the pipeline advances with the best effort so far.
	GateProceedForced
	// GateHalt means the gate blocked the session outright.
	GateHalt
)

func (o GateOutcome) String() string {
	switch o {
	case GateAdvance:
		return "advance"
	case GateRetry:
		return "retry"
	case GateProceedForced:
		return "proceed_forced"
	case GateHalt:
		return "halt"
	default:
		return "ignored"
	}
}

// Gatekeeper folds gate decision events into a verdict history. It is a pure
// reducer over the event stream: the same events in the same order always
// yield the same verdicts, so a session replayed from its log reconstructs
// the exact gate trail.
type Gatekeeper struct {
	verdicts []GateVerdict
}

// Apply records a gate decision event and reports the resulting outcome.
// Non-gate events return GateIgnored and leave the history untouched.
func (g *Gatekeeper) Apply(ev Event) GateOutcome {
	switch ev.Type {
	case EventGatekeeperPass:
		g.verdicts = append(g.verdicts, GateVerdict{
			Step:     ev.Step,
			Round:    ev.Round,
			Passed:   true,
			NextStep: ev.NextStep,
			Evidence: append([]string(nil), ev.Evidence...),
		})
		return GateAdvance
	case EventGatekeeperFail:
		g.verdicts = append(g.verdicts, GateVerdict{
			Step:           ev.Step,
			Round:          ev.Round,
			Forced:         ev.Forced,
			Retry:          ev.Retry,
			NextStep:       ev.NextStep,
			BlockingIssues: append([]string(nil), ev.BlockingIssues...),
		})
		if ev.Forced {
			return GateProceedForced
		}
		return GateRetry
	case EventGatekeeperBlocked:
		g.verdicts = append(g.verdicts, GateVerdict{
			Step:           ev.Step,
			Round:          ev.Round,
			Blocked:        true,
			BlockingIssues: append([]string(nil), ev.BlockingIssues...),
		})
		return GateHalt
	default:
		return GateIgnored
	}
}

// Verdicts returns a copy of the recorded gate history in arrival order.
func (g *Gatekeeper) Verdicts() []GateVerdict {
	out := make([]GateVerdict, len(g.verdicts))
	copy(out, g.verdicts)
	return out
}

// ForcedSteps lists the rounds that advanced on a forced verdict.
func (g *Gatekeeper) ForcedSteps() []string {
	var steps []string
	for _, v := range g.verdicts {
		if v.Forced {
			steps = append(steps, fmt.Sprintf("%s@round%d", StepCritic, v.Round))
		}
	}
	return steps
}

// DefaultPassScore is the overall score a draft must reach to pass the gate.
const DefaultPassScore = 85

// GatePolicy decides pass or fail from a critic scorecard. The decision is a
// pure function of the scorecard, the round number, and the round limits.
type GatePolicy struct {
	PassScore int
}

// Evaluate turns a critic scorecard into the gate decision event for the
// given round. Truth violations always fail the round; at the ceiling they
// block the session, otherwise they force a rework. A clean scorecard at or
// above the pass threshold passes once the minimum round count is met. A
// clean scorecard at the ceiling advances forced rather than looping forever.
func (p GatePolicy) Evaluate(sc Scorecard, round int, limits RoundLimits) Event {
	limits = limits.normalized()
	threshold := p.PassScore
	if threshold <= 0 {
		threshold = DefaultPassScore
	}

	clean := len(sc.TruthViolations) == 0
	passing := clean && sc.Overall >= threshold

	if passing && round >= limits.Min {
		return Event{
			Type:     EventGatekeeperPass,
			Step:     StepCritic,
			Round:    round,
			Evidence: passEvidence(sc),
		}
	}

	issues := blockingIssues(sc, passing, round, limits)

	if round < limits.Max {
		return Event{
			Type:           EventGatekeeperFail,
			Step:           StepCritic,
			Round:          round,
			Retry:          round,
			BlockingIssues: issues,
		}
	}

	if clean {
		return Event{
			Type:           EventGatekeeperFail,
			Step:           StepCritic,
			Round:          round,
			Forced:         true,
			BlockingIssues: issues,
		}
	}

	return Event{
		Type:           EventGatekeeperBlocked,
		Step:           StepCritic,
		Round:          round,
		BlockingIssues: issues,
	}
}

func passEvidence(sc Scorecard) []string {
	ev := []string{
		fmt.Sprintf("overall score %d", sc.Overall),
		fmt.Sprintf("ats fitness %d", sc.ATSFitness),
		fmt.Sprintf("keyword coverage %d", sc.KeywordCoverage),
	}
	ev = append(ev, sc.Praise...)
	return ev
}

func blockingIssues(sc Scorecard, passing bool, round int, limits RoundLimits) []string {
	var issues []string
	issues = append(issues, sc.TruthViolations...)
	issues = append(issues, sc.RequiredEdits...)
	if passing && round < limits.Min {
		issues = append(issues, fmt.Sprintf("minimum %d refinement rounds required", limits.Min))
	}
	if len(issues) == 0 {
		issues = append(issues, fmt.Sprintf("overall score %d below pass threshold", sc.Overall))
	}
	return issues
}
