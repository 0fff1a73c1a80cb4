package optimizations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// CreateSession inserts a new session row.
func (r *PGRepo) CreateSession(ctx context.Context, session Session) error {
	const query = `
INSERT INTO optimization_sessions (
	id, user_id, document_id, target_role, location, manual, status, round,
	scorecard, verdicts, result, artifacts, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`
	scorecard, err := marshalJSONB(session.Scorecard)
	if err != nil {
		return err
	}
	verdicts, err := marshalJSONB(session.Verdicts)
	if err != nil {
		return err
	}
	result, err := marshalJSONB(session.Result)
	if err != nil {
		return err
	}
	artifacts, err := marshalJSONB(session.Artifacts)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.DocumentID,
		session.TargetRole,
		session.Location,
		session.Manual,
		session.Status,
		session.Round,
		scorecard,
		verdicts,
		result,
		artifacts,
		session.CreatedAt,
	)
	return err
}

const sessionColumns = `
id, user_id, document_id, target_role, location, manual, status, round,
scorecard, verdicts, result, artifacts, error_code, error_message,
created_at, updated_at, completed_at`

// GetSession returns a session by ID.
func (r *PGRepo) GetSession(ctx context.Context, sessionID string) (Session, error) {
	query := `
SELECT ` + sessionColumns + `
FROM optimization_sessions
WHERE id = $1
LIMIT 1`
	return scanSession(r.DB.QueryRowContext(ctx, query, sessionID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var location sql.NullString
	var scorecard sql.NullString
	var verdicts sql.NullString
	var result sql.NullString
	var artifacts sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.DocumentID,
		&s.TargetRole,
		&location,
		&s.Manual,
		&s.Status,
		&s.Round,
		&scorecard,
		&verdicts,
		&result,
		&artifacts,
		&errorCode,
		&errorMessage,
		&s.CreatedAt,
		&s.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if location.Valid {
		s.Location = location.String
	}
	if scorecard.Valid {
		var sc Scorecard
		if err := json.Unmarshal([]byte(scorecard.String), &sc); err == nil {
			s.Scorecard = &sc
		}
	}
	if verdicts.Valid {
		_ = json.Unmarshal([]byte(verdicts.String), &s.Verdicts)
	}
	if result.Valid {
		var res Result
		if err := json.Unmarshal([]byte(result.String), &res); err == nil {
			s.Result = &res
		}
	}
	if artifacts.Valid {
		_ = json.Unmarshal([]byte(artifacts.String), &s.Artifacts)
	}
	if errorCode.Valid {
		s.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		s.ErrorMessage = errorMessage.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return s, nil
}

// UpdateProgress persists the round position and gate history.
func (r *PGRepo) UpdateProgress(ctx context.Context, sessionID, status string, round int, scorecard *Scorecard, verdicts []GateVerdict) error {
	const query = `
UPDATE optimization_sessions
SET status = $1,
    round = $2,
    scorecard = COALESCE($3::jsonb, scorecard),
    verdicts = COALESCE($4::jsonb, verdicts),
    updated_at = now()
WHERE id = $5::uuid`
	scorecardPayload, err := marshalJSONB(scorecard)
	if err != nil {
		return err
	}
	verdictsPayload, err := marshalJSONB(verdicts)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, status, round, scorecardPayload, verdictsPayload, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteSession records the terminal result and artifact locations.
func (r *PGRepo) CompleteSession(ctx context.Context, sessionID string, result Result, artifacts ArtifactKeys) error {
	const query = `
UPDATE optimization_sessions
SET status = 'complete',
    round = $1,
    scorecard = COALESCE($2::jsonb, scorecard),
    result = $3::jsonb,
    artifacts = $4::jsonb,
    completed_at = now(),
    updated_at = now()
WHERE id = $5::uuid`
	scorecardPayload, err := marshalJSONB(result.Scorecard)
	if err != nil {
		return err
	}
	resultPayload, err := marshalJSONB(result)
	if err != nil {
		return err
	}
	artifactsPayload, err := marshalJSONB(artifacts)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, result.RoundsCompleted, scorecardPayload, resultPayload, artifactsPayload, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailSession records a terminal error.
func (r *PGRepo) FailSession(ctx context.Context, sessionID, code, message string) error {
	const query = `
UPDATE optimization_sessions
SET status = 'error',
    error_code = $1,
    error_message = $2,
    completed_at = now(),
    updated_at = now()
WHERE id = $3::uuid`
	res, err := r.DB.ExecContext(ctx, query, code, message, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionsByUser returns sessions for a user, newest first.
func (r *PGRepo) ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + sessionColumns + `
FROM optimization_sessions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ActiveSessionForDocument returns the non-terminal session for a document.
func (r *PGRepo) ActiveSessionForDocument(ctx context.Context, userID, documentID string) (Session, error) {
	query := `
SELECT ` + sessionColumns + `
FROM optimization_sessions
WHERE user_id = $1
  AND document_id = $2
  AND status IN ('running', 'awaiting_continue', 'auto_continuing')
ORDER BY created_at DESC
LIMIT 1`
	return scanSession(r.DB.QueryRowContext(ctx, query, userID, documentID))
}

// ClaimGuest reassigns a guest's sessions and continuations to an
// authenticated user. Returns the number of sessions moved. Continuations
// must follow their sessions or resuming after sign-in would fail the
// token ownership check.
func (r *PGRepo) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE optimization_sessions SET user_id = $1 WHERE user_id = $2`,
		authedUserID, guestUserID)
	if err != nil {
		return 0, err
	}
	moved, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`UPDATE optimization_continuations SET user_id = $1 WHERE user_id = $2`,
		authedUserID, guestUserID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(moved), nil
}

// CreateContinuation stores a fresh continuation token.
func (r *PGRepo) CreateContinuation(ctx context.Context, cont Continuation) error {
	const query = `
INSERT INTO optimization_continuations (
	id, session_id, user_id, next_step, round, state, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	state, err := marshalJSONB(cont.State)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		cont.ID,
		cont.SessionID,
		cont.UserID,
		cont.NextStep,
		cont.Round,
		state,
		cont.CreatedAt,
	)
	return err
}

// GetContinuation returns a stored token without consuming it.
func (r *PGRepo) GetContinuation(ctx context.Context, token string) (Continuation, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Continuation{}, ErrNotFound
	}
	const query = `
SELECT id, session_id, user_id, next_step, round, state, created_at, consumed_at
FROM optimization_continuations
WHERE id = $1::uuid`
	cont, err := r.scanContinuation(r.DB.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Continuation{}, ErrNotFound
		}
		return Continuation{}, err
	}
	if cont.ConsumedAt != nil {
		return Continuation{}, ErrContinuationConsumed
	}
	return cont, nil
}

// ConsumeContinuation atomically marks a token used and returns it. The
// conditional update is the single-use guarantee: only one caller ever sees
// the row flip from unconsumed to consumed.
func (r *PGRepo) ConsumeContinuation(ctx context.Context, token string) (Continuation, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Continuation{}, ErrNotFound
	}
	const query = `
UPDATE optimization_continuations
SET consumed_at = now()
WHERE id = $1::uuid AND consumed_at IS NULL
RETURNING id, session_id, user_id, next_step, round, state, created_at, consumed_at`
	cont, err := r.scanContinuation(r.DB.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Continuation{}, r.classifyMissingContinuation(ctx, token)
		}
		return Continuation{}, err
	}
	return cont, nil
}

func (r *PGRepo) scanContinuation(row *sql.Row) (Continuation, error) {
	var cont Continuation
	var state sql.NullString
	var consumedAt sql.NullTime
	err := row.Scan(
		&cont.ID,
		&cont.SessionID,
		&cont.UserID,
		&cont.NextStep,
		&cont.Round,
		&state,
		&cont.CreatedAt,
		&consumedAt,
	)
	if err != nil {
		return Continuation{}, err
	}
	if state.Valid {
		if err := json.Unmarshal([]byte(state.String), &cont.State); err != nil {
			return Continuation{}, fmt.Errorf("decode continuation state: %w", err)
		}
	}
	if consumedAt.Valid {
		cont.ConsumedAt = &consumedAt.Time
	}
	return cont, nil
}

func (r *PGRepo) classifyMissingContinuation(ctx context.Context, token string) error {
	const query = `SELECT consumed_at FROM optimization_continuations WHERE id = $1::uuid LIMIT 1`
	var consumedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, token).Scan(&consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if consumedAt.Valid {
		return ErrContinuationConsumed
	}
	return ErrNotFound
}

func marshalJSONB(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Scorecard:
		if v == nil {
			return nil, nil
		}
	case *Result:
		if v == nil {
			return nil, nil
		}
	case []GateVerdict:
		if v == nil {
			return nil, nil
		}
	}
	return json.Marshal(value)
}

var _ Repo = (*PGRepo)(nil)
