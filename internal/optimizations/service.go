package optimizations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/extract"
	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/metrics"
	"optimizer-backend/internal/shared/storage/object"
	"optimizer-backend/internal/shared/telemetry"
	"optimizer-backend/internal/usage"
)

// Service contains business logic for optimization sessions. One Stream call
// runs one pipeline segment; paused sessions resume through continuations.
type Service struct {
	Repo    Repo
	Usage   *usage.Service
	DocRepo documents.DocumentsRepo
	Store   object.ObjectStore
	LLM     llm.Client
	Queue   queue.Client

	// Stages overrides the LLM-backed executor when set; tests script it.
	Stages StageExecutor

	Limits RoundLimits
	Policy GatePolicy
}

// PrepareStart validates a start request, reserves quota, loads the resume
// text, and creates the session row. It runs before the response stream
// opens, so every error here surfaces as a plain JSON error response.
func (s *Service) PrepareStart(ctx context.Context, userID string, target Target) (Session, string, error) {
	if userID == "" {
		return Session{}, "", errors.New("userID is required")
	}
	if target.DocumentID == "" || strings.TrimSpace(target.Role) == "" {
		return Session{}, "", errors.New("documentID and targetRole are required")
	}

	if _, err := s.Repo.ActiveSessionForDocument(ctx, userID, target.DocumentID); err == nil {
		return Session{}, "", ErrSessionActive
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, "", err
	}

	if s.Usage != nil {
		ok, _, err := s.Usage.CanConsume(ctx, userID, 1)
		if err != nil {
			return Session{}, "", err
		}
		if !ok {
			return Session{}, "", usage.ErrLimitReached
		}
	}

	resume, err := s.loadResume(ctx, userID, target.DocumentID)
	if err != nil {
		return Session{}, "", err
	}

	session := Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: target.DocumentID,
		TargetRole: strings.TrimSpace(target.Role),
		Location:   strings.TrimSpace(target.Location),
		Manual:     target.Manual,
		Status:     StatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Repo.CreateSession(ctx, session); err != nil {
		return Session{}, "", fmt.Errorf("storage: create session: %w", err)
	}

	if s.Usage != nil {
		if _, err := s.Usage.Consume(ctx, userID, 1); err != nil {
			return Session{}, "", err
		}
	}

	metrics.IncOptimizationStarted()
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           userID,
		"document_id":       target.DocumentID,
		"session_id":        session.ID,
		"status":            StatusRunning,
		"status_transition": "idle->running",
		"manual":            target.Manual,
	})
	return session, resume, nil
}

// PrepareResume validates a continuation token against the paused session
// and then consumes it. Validation runs first so a rejected request (wrong
// user, wrong document, transient storage failure) leaves the token usable
// for a retry; the consume is atomic and can win its race exactly once.
func (s *Service) PrepareResume(ctx context.Context, userID, documentID, token string) (Session, Continuation, string, error) {
	if userID == "" {
		return Session{}, Continuation{}, "", errors.New("userID is required")
	}
	if strings.TrimSpace(token) == "" {
		return Session{}, Continuation{}, "", ErrMissingContinuation
	}

	peek, err := s.Repo.GetContinuation(ctx, token)
	if err != nil {
		return Session{}, Continuation{}, "", err
	}
	if peek.UserID != userID {
		return Session{}, Continuation{}, "", ErrNotFound
	}

	session, err := s.Repo.GetSession(ctx, peek.SessionID)
	if err != nil {
		return Session{}, Continuation{}, "", err
	}
	if documentID != "" && documentID != session.DocumentID {
		return Session{}, Continuation{}, "", errTargetMismatch
	}
	switch session.Status {
	case StatusComplete, StatusError:
		return Session{}, Continuation{}, "", ErrNoPendingContinue
	}

	resume, err := s.loadResume(ctx, userID, session.DocumentID)
	if err != nil {
		return Session{}, Continuation{}, "", err
	}

	cont, err := s.Repo.ConsumeContinuation(ctx, token)
	if err != nil {
		return Session{}, Continuation{}, "", err
	}

	if err := s.Repo.UpdateProgress(ctx, session.ID, StatusRunning, cont.Round, nil, nil); err != nil {
		// The token is spent, so the session can never be resumed; mark
		// it failed instead of leaving it paused forever.
		bg := backgroundWithRequestID(ctx)
		if failErr := s.Repo.FailSession(bg, session.ID, ErrorCodeStorage, "resume could not be persisted"); failErr != nil {
			telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(failErr)})
		}
		metrics.IncOptimizationFailed()
		return Session{}, Continuation{}, "", fmt.Errorf("storage: resume session: %w", err)
	}
	session.Status = StatusRunning

	metrics.IncContinuationResumed()
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           userID,
		"document_id":       session.DocumentID,
		"session_id":        session.ID,
		"status":            StatusRunning,
		"status_transition": "paused->running",
		"next_step":         cont.NextStep,
		"round":             cont.Round,
	})
	return session, cont, resume, nil
}

// Stream runs one pipeline segment for a prepared session, writing protocol
// events to sink. The response headers are already out when this runs, so
// every failure from here on is reported as an in-stream error event.
func (s *Service) Stream(ctx context.Context, session Session, cont *Continuation, resume string, sink EventSink) error {
	requestID := RequestIDFromContext(ctx)
	sink = meteredSink{sink}

	stages := s.Stages
	if stages == nil {
		if s.LLM == nil {
			err := errors.New("missing llm client")
			s.failSession(ctx, session, RunOutcome{}, err, sink)
			return err
		}
		stages = &GatewayExecutor{LLM: newRetryingLLM(s.LLM, session.ID, requestID)}
	}

	pipe := &Pipeline{
		Stages: stages,
		Policy: s.Policy,
		Limits: s.Limits,
	}
	params := RunParams{Session: session, Resume: resume}
	if cont != nil {
		params.State = cont.State
		params.FromStep = cont.NextStep
		params.Round = cont.Round
	}

	mint := func(ctx context.Context, nextStep string, round int, state PipelineState) (string, error) {
		c := Continuation{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    session.UserID,
			NextStep:  nextStep,
			Round:     round,
			State:     state,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.Repo.CreateContinuation(ctx, c); err != nil {
			return "", fmt.Errorf("storage: create continuation: %w", err)
		}
		metrics.IncContinuationMinted()
		return c.ID, nil
	}

	outcome, err := pipe.Run(ctx, params, sink, mint)
	if err != nil {
		s.failSession(ctx, session, outcome, err, sink)
		return err
	}

	countGateMetrics(outcome.Verdicts)
	verdicts := append(append([]GateVerdict(nil), session.Verdicts...), outcome.Verdicts...)

	switch {
	case outcome.Blocked != nil:
		return s.finishBlocked(ctx, session, outcome, verdicts)
	case outcome.Paused != nil:
		return s.finishPaused(ctx, session, outcome, verdicts)
	case outcome.Result != nil:
		return s.finishComplete(ctx, session, outcome, verdicts, sink)
	default:
		err := errors.New("pipeline returned no outcome")
		s.failSession(ctx, session, outcome, err, sink)
		return err
	}
}

func (s *Service) finishBlocked(ctx context.Context, session Session, outcome RunOutcome, verdicts []GateVerdict) error {
	bg := backgroundWithRequestID(ctx)
	if err := s.Repo.UpdateProgress(bg, session.ID, StatusRunning, outcome.Round, outcome.State.Scorecard, verdicts); err != nil {
		telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
	}
	msg := strings.Join(outcome.Blocked, "; ")
	if err := s.Repo.FailSession(bg, session.ID, ErrorCodeGateBlocked, sanitizeMessage(msg)); err != nil {
		telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
	}
	metrics.IncOptimizationFailed()
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           session.UserID,
		"session_id":        session.ID,
		"status":            StatusError,
		"status_transition": "running->error",
		"error_code":        ErrorCodeGateBlocked,
		"round":             outcome.Round,
	})
	return nil
}

func (s *Service) finishPaused(ctx context.Context, session Session, outcome RunOutcome, verdicts []GateVerdict) error {
	status := StatusAutoContinuing
	transition := "running->auto_continuing"
	if outcome.Paused.Mode == ContinuationManual {
		status = StatusAwaitingContinue
		transition = "running->awaiting_continue"
	}
	if err := s.Repo.UpdateProgress(backgroundWithRequestID(ctx), session.ID, status, outcome.Round, outcome.State.Scorecard, verdicts); err != nil {
		telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
		return err
	}
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           session.UserID,
		"session_id":        session.ID,
		"status":            status,
		"status_transition": transition,
		"next_step":         outcome.Paused.NextStep,
		"round":             outcome.Paused.Round,
	})
	return nil
}

func (s *Service) finishComplete(ctx context.Context, session Session, outcome RunOutcome, verdicts []GateVerdict, sink EventSink) error {
	keys, err := persistArtifacts(ctx, s.Store, session.UserID, session.ID, Rendered{
		ATSText:    outcome.Result.ATSText,
		StyledHTML: outcome.Result.StyledHTML,
		Markdown:   outcome.Result.Markdown,
	})
	if err != nil {
		s.failSession(ctx, session, outcome, err, sink)
		return err
	}

	bg := backgroundWithRequestID(ctx)
	if err := s.Repo.UpdateProgress(bg, session.ID, StatusRunning, outcome.Round, outcome.State.Scorecard, verdicts); err != nil {
		telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
	}
	if err := s.Repo.CompleteSession(bg, session.ID, *outcome.Result, keys); err != nil {
		s.failSession(ctx, session, outcome, fmt.Errorf("storage: complete session: %w", err), sink)
		return err
	}

	if err := sink.Send(Event{Type: EventComplete, Optimization: outcome.Result}); err != nil {
		telemetry.Error("optimization.stream_broken", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
		return err
	}

	s.notifyCompleted(ctx, session)
	metrics.IncOptimizationCompleted()
	metrics.ObserveOptimizationRounds(outcome.Result.RoundsCompleted)
	metrics.ObserveOptimizationDuration(time.Since(session.CreatedAt))
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           session.UserID,
		"session_id":        session.ID,
		"status":            StatusComplete,
		"status_transition": "running->complete",
		"rounds_completed":  outcome.Result.RoundsCompleted,
		"forced_steps":      len(outcome.Result.ForcedSteps),
	})
	return nil
}

// failSession records a terminal error and reports it in-stream. Persistence
// runs on a background context so a dropped client cannot strand the row in
// a non-terminal status.
func (s *Service) failSession(ctx context.Context, session Session, outcome RunOutcome, cause error, sink EventSink) {
	code, _ := classifyFailure(cause)
	msg := sanitizeError(cause)

	bg := backgroundWithRequestID(ctx)
	if len(outcome.Verdicts) > 0 || outcome.Round > 0 {
		verdicts := append(append([]GateVerdict(nil), session.Verdicts...), outcome.Verdicts...)
		if err := s.Repo.UpdateProgress(bg, session.ID, StatusRunning, outcome.Round, outcome.State.Scorecard, verdicts); err != nil {
			telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
		}
	}
	if err := s.Repo.FailSession(bg, session.ID, code, msg); err != nil {
		telemetry.Error("optimization.persist_failed", map[string]any{"session_id": session.ID, "error": sanitizeError(err)})
	}
	_ = sink.Send(Event{Type: EventError, Message: msg})

	metrics.IncOptimizationFailed()
	telemetry.Info("optimization.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           session.UserID,
		"session_id":        session.ID,
		"status":            StatusError,
		"status_transition": "running->error",
		"error_code":        code,
	})
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, errors.New("sessionID is required")
	}
	return s.Repo.GetSession(ctx, sessionID)
}

// List returns sessions for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.Repo.ListSessionsByUser(ctx, userID, limit, offset)
}

// OpenArtifact returns a reader over a stored artifact for download routes.
func (s *Service) OpenArtifact(ctx context.Context, userID, sessionID, format string) (io.ReadCloser, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotFound
	}
	key := artifactKeyFor(session.Artifacts, format)
	if key == "" || s.Store == nil {
		return nil, ErrNotFound
	}
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("storage: open artifact: %w", err)
	}
	return body, nil
}

func (s *Service) loadResume(ctx context.Context, userID, documentID string) (string, error) {
	if s.DocRepo == nil || s.Store == nil {
		return "", errors.New("missing document store dependencies")
	}
	doc, err := s.DocRepo.GetByID(ctx, userID, documentID)
	if err != nil {
		return "", fmt.Errorf("document lookup id=%s: %w", documentID, err)
	}

	extractedKey := doc.ExtractedTextKey
	if extractedKey == "" {
		if _, err := extract.ExtractText(ctx, s.Store, doc.StorageKey, doc.MimeType, doc.FileName); err != nil {
			return "", fmt.Errorf("document %s mime %s: %w", doc.ID, doc.MimeType, err)
		}
		extractedKey = doc.StorageKey + ".extracted.txt"
		if err := s.DocRepo.UpdateExtraction(ctx, doc.UserID, doc.ID, extractedKey, time.Now().UTC()); err != nil {
			return "", fmt.Errorf("document %s: update extraction: %w", doc.ID, err)
		}
	}

	text, err := loadText(ctx, s.Store, extractedKey)
	if err != nil {
		return "", fmt.Errorf("document %s: load extracted text: %w", doc.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("validation: document has no extractable text")
	}
	return text, nil
}

func (s *Service) notifyCompleted(ctx context.Context, session Session) {
	if s.Queue == nil {
		return
	}
	msg := queue.Message{
		Kind:       queue.KindOptimizationCompleted,
		SessionID:  session.ID,
		DocumentID: session.DocumentID,
		UserID:     session.UserID,
		RequestID:  RequestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	}
	if err := s.Queue.Send(backgroundWithRequestID(ctx), msg); err != nil {
		telemetry.Error("optimization.notify_failed", map[string]any{
			"session_id": session.ID,
			"error":      sanitizeError(err),
		})
	}
}

func countGateMetrics(verdicts []GateVerdict) {
	for _, v := range verdicts {
		switch {
		case v.Passed:
			metrics.IncGatePass()
		case v.Blocked:
			metrics.IncGateBlocked()
		case v.Forced:
			metrics.IncGateForced()
		default:
			metrics.IncGateFail()
		}
	}
}

// meteredSink counts emitted frames on the way through.
type meteredSink struct {
	next EventSink
}

func (m meteredSink) Send(ev Event) error {
	if err := m.next.Send(ev); err != nil {
		return err
	}
	metrics.IncStreamEventEmitted()
	return nil
}

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeStageTimeout, true
	}
	if errors.Is(err, ErrStageOutput) {
		return ErrorCodeStageOutput, false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "openai request timeout") {
		return ErrorCodeStageTimeout, true
	}
	if strings.Contains(msg, "timeout") && (strings.Contains(msg, "stage") || strings.Contains(msg, "llm")) {
		return ErrorCodeStageTimeout, true
	}
	if strings.HasPrefix(msg, "send ") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset") {
		return ErrorCodeTransport, false
	}
	if strings.Contains(msg, "validation") {
		return ErrorCodeValidation, false
	}
	if strings.Contains(msg, "storage") || strings.Contains(msg, "document") || strings.Contains(msg, "continuation") || strings.Contains(msg, "artifact") {
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeMessage(err.Error())
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func loadText(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
