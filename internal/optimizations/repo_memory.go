package optimizations

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores sessions and continuations in memory and is safe for
// concurrent use.
type MemoryRepo struct {
	mu            sync.RWMutex
	byID          map[string]Session
	byUser        map[string][]string
	continuations map[string]Continuation
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:          make(map[string]Session),
		byUser:        make(map[string][]string),
		continuations: make(map[string]Continuation),
	}
}

// CreateSession stores the session.
func (r *MemoryRepo) CreateSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[session.ID] = session
	r.byUser[session.UserID] = append(r.byUser[session.UserID], session.ID)
	return nil
}

// GetSession returns a session by its ID.
func (r *MemoryRepo) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

// UpdateProgress persists the round position and gate history.
func (r *MemoryRepo) UpdateProgress(ctx context.Context, sessionID, status string, round int, scorecard *Scorecard, verdicts []GateVerdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.Status = status
	session.Round = round
	if scorecard != nil {
		session.Scorecard = scorecard
	}
	if verdicts != nil {
		session.Verdicts = verdicts
	}
	session.UpdatedAt = time.Now().UTC()
	r.byID[sessionID] = session
	return nil
}

// CompleteSession records the terminal result and artifact locations.
func (r *MemoryRepo) CompleteSession(ctx context.Context, sessionID string, result Result, artifacts ArtifactKeys) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	session.Status = StatusComplete
	session.Result = &result
	session.Artifacts = artifacts
	session.Round = result.RoundsCompleted
	if result.Scorecard != nil {
		session.Scorecard = result.Scorecard
	}
	session.UpdatedAt = now
	session.CompletedAt = &now
	r.byID[sessionID] = session
	return nil
}

// FailSession records a terminal error.
func (r *MemoryRepo) FailSession(ctx context.Context, sessionID, code, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	session.Status = StatusError
	session.ErrorCode = code
	session.ErrorMessage = message
	session.UpdatedAt = now
	session.CompletedAt = &now
	r.byID[sessionID] = session
	return nil
}

// ListSessionsByUser returns sessions for a user, newest first, with
// limit/offset.
func (r *MemoryRepo) ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	ids := r.byUser[userID]
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.byID[id]; ok {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	if offset >= len(sessions) {
		return []Session{}, nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	out := make([]Session, len(sessions))
	copy(out, sessions)
	return out, nil
}

// ActiveSessionForDocument returns the non-terminal session for a document.
func (r *MemoryRepo) ActiveSessionForDocument(ctx context.Context, userID, documentID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Session
	for _, id := range r.byUser[userID] {
		s, ok := r.byID[id]
		if !ok || s.DocumentID != documentID {
			continue
		}
		switch s.Status {
		case StatusRunning, StatusAwaitingContinue, StatusAutoContinuing:
			if found == nil || s.CreatedAt.After(found.CreatedAt) {
				copied := s
				found = &copied
			}
		}
	}
	if found == nil {
		return Session{}, ErrNotFound
	}
	return *found, nil
}

// ClaimGuest moves a guest's sessions and continuations under the
// authenticated user. Returns the number of sessions moved.
func (r *MemoryRepo) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byUser[guestUserID]
	moved := 0
	for _, id := range ids {
		s, ok := r.byID[id]
		if !ok {
			continue
		}
		s.UserID = authedUserID
		r.byID[id] = s
		moved++
	}
	if len(ids) > 0 {
		r.byUser[authedUserID] = append(r.byUser[authedUserID], ids...)
		delete(r.byUser, guestUserID)
	}
	for token, cont := range r.continuations {
		if cont.UserID == guestUserID {
			cont.UserID = authedUserID
			r.continuations[token] = cont
		}
	}
	return moved, nil
}

// CreateContinuation stores a fresh continuation token.
func (r *MemoryRepo) CreateContinuation(ctx context.Context, cont Continuation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.continuations[cont.ID] = cont
	return nil
}

// GetContinuation returns a stored token without consuming it.
func (r *MemoryRepo) GetContinuation(ctx context.Context, token string) (Continuation, error) {
	if err := ctx.Err(); err != nil {
		return Continuation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cont, ok := r.continuations[token]
	if !ok {
		return Continuation{}, ErrNotFound
	}
	if cont.ConsumedAt != nil {
		return Continuation{}, ErrContinuationConsumed
	}
	return cont, nil
}

// ConsumeContinuation atomically marks a token used and returns it.
func (r *MemoryRepo) ConsumeContinuation(ctx context.Context, token string) (Continuation, error) {
	if err := ctx.Err(); err != nil {
		return Continuation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cont, ok := r.continuations[token]
	if !ok {
		return Continuation{}, ErrNotFound
	}
	if cont.ConsumedAt != nil {
		return Continuation{}, ErrContinuationConsumed
	}
	now := time.Now().UTC()
	cont.ConsumedAt = &now
	r.continuations[token] = cont
	return cont, nil
}

var _ Repo = (*MemoryRepo)(nil)
