package optimizations

// ContinuationMode says who resumes a paused session.
type ContinuationMode string

const (
	// ContinuationManual waits for an explicit user continue.
	ContinuationManual ContinuationMode = "manual"
	// ContinuationAuto resumes immediately without user input.
	ContinuationAuto ContinuationMode = "auto"
)

// PendingContinuation is the client-side handle for a paused session. The
// token is single-use; sending it back is the only way to resume.
type PendingContinuation struct {
	Token    string
	Mode     ContinuationMode
	Step     string
	NextStep string
	Round    int
}

// pendingFromEvent extracts the continuation handle from a pause event.
// A pause without a token is unusable and the session cannot resume.
func pendingFromEvent(ev Event) (PendingContinuation, error) {
	mode := ContinuationManual
	if ev.Type == EventAutoContinue {
		mode = ContinuationAuto
	}
	if ev.ContinuationID == "" {
		return PendingContinuation{}, ErrMissingContinuation
	}
	return PendingContinuation{
		Token:    ev.ContinuationID,
		Mode:     mode,
		Step:     ev.Step,
		NextStep: ev.NextStep,
		Round:    ev.Round,
	}, nil
}
