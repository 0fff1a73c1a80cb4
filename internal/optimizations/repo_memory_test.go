package optimizations

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedSession(t *testing.T, repo *MemoryRepo, id, userID, documentID, status string, createdAt time.Time) {
	t.Helper()
	session := Session{
		ID:         id,
		UserID:     userID,
		DocumentID: documentID,
		TargetRole: "Backend Engineer",
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func TestMemoryRepoSessionLifecycle(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Now().UTC()
	seedSession(t, repo, "sess-1", "user-1", "doc-1", StatusRunning, now)

	sc := &Scorecard{Overall: 78}
	verdicts := []GateVerdict{{Step: StepCritic, Round: 1, Retry: 1}}
	if err := repo.UpdateProgress(context.Background(), "sess-1", StatusAwaitingContinue, 1, sc, verdicts); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	got, err := repo.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != StatusAwaitingContinue || got.Round != 1 {
		t.Fatalf("expected progressed session, got status=%s round=%d", got.Status, got.Round)
	}
	if got.Scorecard == nil || got.Scorecard.Overall != 78 {
		t.Fatalf("expected the scorecard to persist, got %+v", got.Scorecard)
	}
	if len(got.Verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(got.Verdicts))
	}

	result := Result{ATSText: "text", StyledHTML: "<p>text</p>", Markdown: "text", RoundsCompleted: 2, Scorecard: &Scorecard{Overall: 91}}
	artifacts := ArtifactKeys{ATSText: "a.txt", StyledHTML: "a.html", Markdown: "a.md"}
	if err := repo.CompleteSession(context.Background(), "sess-1", result, artifacts); err != nil {
		t.Fatalf("complete session: %v", err)
	}

	got, err = repo.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != StatusComplete || got.CompletedAt == nil {
		t.Fatalf("expected completion, got status=%s completedAt=%v", got.Status, got.CompletedAt)
	}
	if got.Result == nil || got.Result.RoundsCompleted != 2 {
		t.Fatalf("expected the stored result, got %+v", got.Result)
	}
	if got.Round != 2 {
		t.Fatalf("expected round synced to the result, got %d", got.Round)
	}
	if got.Artifacts.ATSText != "a.txt" {
		t.Fatalf("expected artifact keys to persist, got %+v", got.Artifacts)
	}
	if got.Scorecard.Overall != 91 {
		t.Fatalf("expected the final scorecard, got %+v", got.Scorecard)
	}
}

func TestMemoryRepoGetMissingSession(t *testing.T) {
	repo := NewMemoryRepo()
	if _, err := repo.GetSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateProgress(context.Background(), "nope", StatusRunning, 1, nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryRepoFailSession(t *testing.T) {
	repo := NewMemoryRepo()
	seedSession(t, repo, "sess-1", "user-1", "doc-1", StatusRunning, time.Now().UTC())

	if err := repo.FailSession(context.Background(), "sess-1", ErrorCodeStageTimeout, "critic timed out"); err != nil {
		t.Fatalf("fail session: %v", err)
	}

	got, err := repo.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != StatusError || got.ErrorCode != ErrorCodeStageTimeout {
		t.Fatalf("expected a failed session, got status=%s code=%s", got.Status, got.ErrorCode)
	}
	if got.ErrorMessage != "critic timed out" || got.CompletedAt == nil {
		t.Fatalf("expected the failure detail to persist, got %+v", got)
	}
}

func TestMemoryRepoListSessionsNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedSession(t, repo, "sess-1", "user-1", "doc-1", StatusComplete, base)
	seedSession(t, repo, "sess-2", "user-1", "doc-2", StatusComplete, base.Add(10*time.Minute))
	seedSession(t, repo, "sess-3", "user-1", "doc-3", StatusRunning, base.Add(20*time.Minute))
	seedSession(t, repo, "sess-x", "user-2", "doc-9", StatusRunning, base.Add(30*time.Minute))

	sessions, err := repo.ListSessionsByUser(context.Background(), "user-1", 2, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "sess-3" || sessions[1].ID != "sess-2" {
		t.Fatalf("expected newest first, got %s then %s", sessions[0].ID, sessions[1].ID)
	}

	sessions, err = repo.ListSessionsByUser(context.Background(), "user-1", 2, 2)
	if err != nil {
		t.Fatalf("list sessions offset: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sess-1" {
		t.Fatalf("expected the oldest session at offset 2, got %+v", sessions)
	}

	sessions, err = repo.ListSessionsByUser(context.Background(), "user-1", 10, 99)
	if err != nil {
		t.Fatalf("list sessions past end: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected an empty page past the end, got %d", len(sessions))
	}
}

func TestMemoryRepoActiveSessionForDocument(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedSession(t, repo, "sess-old", "user-1", "doc-1", StatusComplete, base)
	seedSession(t, repo, "sess-live", "user-1", "doc-1", StatusAwaitingContinue, base.Add(5*time.Minute))

	got, err := repo.ActiveSessionForDocument(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if got.ID != "sess-live" {
		t.Fatalf("expected the live session, got %s", got.ID)
	}

	if _, err := repo.ActiveSessionForDocument(context.Background(), "user-1", "doc-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a document with no live session, got %v", err)
	}

	if err := repo.FailSession(context.Background(), "sess-live", ErrorCodeGateBlocked, "blocked"); err != nil {
		t.Fatalf("fail session: %v", err)
	}
	if _, err := repo.ActiveSessionForDocument(context.Background(), "user-1", "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no live session after failure, got %v", err)
	}
}

func TestMemoryRepoContinuationSingleUse(t *testing.T) {
	repo := NewMemoryRepo()
	cont := Continuation{
		ID:        "tok-1",
		SessionID: "sess-1",
		UserID:    "user-1",
		NextStep:  StepWriter,
		Round:     2,
		State:     PipelineState{Draft: "draft r1", Checklist: []string{"lead with impact"}},
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateContinuation(context.Background(), cont); err != nil {
		t.Fatalf("create continuation: %v", err)
	}

	peeked, err := repo.GetContinuation(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("get continuation: %v", err)
	}
	if peeked.ConsumedAt != nil {
		t.Fatalf("a read must not consume, got %+v", peeked)
	}

	got, err := repo.ConsumeContinuation(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("consume continuation: %v", err)
	}
	if got.NextStep != StepWriter || got.Round != 2 || got.State.Draft != "draft r1" {
		t.Fatalf("unexpected continuation payload: %+v", got)
	}
	if got.ConsumedAt == nil {
		t.Fatalf("expected the consumed timestamp to be set")
	}

	if _, err := repo.ConsumeContinuation(context.Background(), "tok-1"); !errors.Is(err, ErrContinuationConsumed) {
		t.Fatalf("expected ErrContinuationConsumed on reuse, got %v", err)
	}
	if _, err := repo.GetContinuation(context.Background(), "tok-1"); !errors.Is(err, ErrContinuationConsumed) {
		t.Fatalf("expected ErrContinuationConsumed on a used token, got %v", err)
	}
	if _, err := repo.ConsumeContinuation(context.Background(), "tok-404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown token, got %v", err)
	}
}
