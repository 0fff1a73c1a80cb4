package optimizations

import "context"

// Repo defines persistence operations for optimization sessions and their
// continuations.
type Repo interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// UpdateProgress persists the round position and gate history of a
	// live session at a segment boundary.
	UpdateProgress(ctx context.Context, sessionID, status string, round int, scorecard *Scorecard, verdicts []GateVerdict) error
	// CompleteSession records the terminal result and artifact locations.
	CompleteSession(ctx context.Context, sessionID string, result Result, artifacts ArtifactKeys) error
	// FailSession records a terminal error.
	FailSession(ctx context.Context, sessionID, code, message string) error
	ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]Session, error)
	// ActiveSessionForDocument returns the non-terminal session for a
	// document, or ErrNotFound when the document has none.
	ActiveSessionForDocument(ctx context.Context, userID, documentID string) (Session, error)

	CreateContinuation(ctx context.Context, cont Continuation) error
	// GetContinuation returns the stored resume point without touching it,
	// so resume validation can fail cheaply while the token stays usable.
	// A used token returns ErrContinuationConsumed; an unknown one
	// ErrNotFound.
	GetContinuation(ctx context.Context, token string) (Continuation, error)
	// ConsumeContinuation atomically marks a token used and returns the
	// stored resume point. A second consume of the same token returns
	// ErrContinuationConsumed; an unknown token returns ErrNotFound.
	ConsumeContinuation(ctx context.Context, token string) (Continuation, error)
}
