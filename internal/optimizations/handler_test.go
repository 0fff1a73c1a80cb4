package optimizations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/shared/auth"
	"optimizer-backend/internal/shared/server/middleware"
	"optimizer-backend/internal/shared/server/respond"
	"optimizer-backend/internal/shared/storage/object"
	local "optimizer-backend/internal/shared/storage/object/local"
	"optimizer-backend/internal/usage"
)

const guestUserID = "guest:test-guest"

func setupOptimizationRouter(t *testing.T, stages StageExecutor) (*gin.Engine, *Service, *MemoryRepo) {
	t.Helper()
	docRepo := documents.NewMemoryRepo()
	repo := NewMemoryRepo()
	store := local.New(t.TempDir())
	seedUserDocument(t, docRepo, store, guestUserID)

	svc := &Service{
		Repo:    repo,
		Usage:   usage.NewService(),
		DocRepo: docRepo,
		Store:   store,
		Queue:   &capturingQueue{},
		Stages:  stages,
		Limits:  RoundLimits{Min: 1, Max: 3},
		Policy:  GatePolicy{PassScore: 85},
	}
	handler := NewHandler(svc)

	router := gin.New()
	router.Use(middleware.Auth("dev"))
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	return router, svc, repo
}

func seedUserDocument(t *testing.T, repo *documents.MemoryRepo, store object.ObjectStore, userID string) {
	t.Helper()
	extractedKey, _, _, err := store.Save(context.Background(), userID, "resume.txt", bytes.NewReader([]byte("resume text for optimization")))
	if err != nil {
		t.Fatalf("save extracted text: %v", err)
	}
	doc := documents.Document{
		ID:               "doc-1",
		UserID:           userID,
		FileName:         "resume.pdf",
		MimeType:         "application/pdf",
		SizeBytes:        123,
		StorageKey:       "test-key",
		ExtractedTextKey: extractedKey,
		CreatedAt:        time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
}

func addGuestHeader(req *http.Request) {
	req.Header.Set("X-Guest-Id", "test-guest")
}

// decodeStream parses a recorded event-stream body and requires a clean
// terminator.
func decodeStream(t *testing.T, body []byte) []Event {
	t.Helper()
	dec := NewDecoder()
	events := dec.Feed(body)
	if !dec.Done() {
		t.Fatalf("stream missing terminator: %q", string(body))
	}
	if fragment, ok := dec.Finish(); ok {
		t.Fatalf("stream left partial frame %q", fragment)
	}
	return events
}

func postStart(t *testing.T, router *gin.Engine, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func postContinue(t *testing.T, router *gin.Engine, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizations/continue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeErrorBody(t *testing.T, resp *httptest.ResponseRecorder) respond.ErrorResponse {
	t.Helper()
	var errResp respond.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return errResp
}

func TestStartOptimizationStreamsFirstSegment(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, repo := setupOptimizationRouter(t, scriptedStages{passAt: 2})
	resp := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}
	if resp.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatalf("expected proxy buffering disabled")
	}
	sessionID := resp.Header().Get("X-Optimization-Id")
	if sessionID == "" {
		t.Fatalf("expected session id header")
	}
	if !strings.HasPrefix(resp.Body.String(), ": heartbeat\n") {
		t.Fatalf("expected leading heartbeat, got %q", resp.Body.String())
	}

	events := decodeStream(t, resp.Body.Bytes())
	if len(events) != 9 {
		t.Fatalf("expected 9 events in first segment, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != EventAutoContinue || last.ContinuationID == "" {
		t.Fatalf("expected auto_continue with token, got %+v", last)
	}

	stored, err := repo.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != StatusAutoContinuing || stored.Round != 2 {
		t.Fatalf("expected auto_continuing at round 2, got %s round %d", stored.Status, stored.Round)
	}
}

func TestContinueOptimizationRunsNextSegment(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, repo := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	start := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})
	if start.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", start.Code)
	}
	sessionID := start.Header().Get("X-Optimization-Id")
	startEvents := decodeStream(t, start.Body.Bytes())
	token := startEvents[len(startEvents)-1].ContinuationID
	if token == "" {
		t.Fatalf("expected continuation token from first segment")
	}

	resp := postContinue(t, router, map[string]any{"continuation_id": token})
	if resp.Code != http.StatusOK {
		t.Fatalf("continue: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("X-Optimization-Id"); got != sessionID {
		t.Fatalf("expected same session id %s, got %s", sessionID, got)
	}

	events := decodeStream(t, resp.Body.Bytes())
	if len(events) != 3 {
		t.Fatalf("expected designer segment events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != EventComplete || last.Optimization == nil {
		t.Fatalf("expected complete event with result, got %+v", last)
	}
	if last.Optimization.RoundsCompleted != 1 {
		t.Fatalf("expected one completed round, got %d", last.Optimization.RoundsCompleted)
	}

	stored, err := repo.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != StatusComplete {
		t.Fatalf("expected complete status, got %s", stored.Status)
	}
}

func TestStartOptimizationValidatesBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	resp := postStart(t, router, map[string]any{"targetContentId": "doc-1"})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != ErrorCodeValidation {
		t.Fatalf("expected validation code, got %s", errResp.Error.Code)
	}
}

func TestStartOptimizationUnknownDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	resp := postStart(t, router, map[string]any{
		"targetContentId": "doc-missing",
		"targetRole":      "Backend Engineer",
	})

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != "not_found" {
		t.Fatalf("expected NOT_FOUND, got %s", errResp.Error.Code)
	}
}

func TestStartOptimizationConflictWhenActive(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 2})
	payload := map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	}
	if resp := postStart(t, router, payload); resp.Code != http.StatusOK {
		t.Fatalf("first start: expected 200, got %d", resp.Code)
	}

	resp := postStart(t, router, payload)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != "session_active" {
		t.Fatalf("expected SESSION_ACTIVE, got %s", errResp.Error.Code)
	}
}

func TestStartOptimizationQuotaExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, svc, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	allowance, err := svc.Usage.Get(context.Background(), guestUserID)
	if err != nil {
		t.Fatalf("get allowance: %v", err)
	}
	if _, err := svc.Usage.Consume(context.Background(), guestUserID, allowance.Limit); err != nil {
		t.Fatalf("exhaust quota: %v", err)
	}

	resp := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != "limit_reached" {
		t.Fatalf("expected LIMIT_REACHED, got %s", errResp.Error.Code)
	}
}

func TestContinueOptimizationTokenGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})

	resp := postContinue(t, router, map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing token: expected 400, got %d", resp.Code)
	}

	resp = postContinue(t, router, map[string]any{"continuation_id": "tok-unknown"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown token: expected 404, got %d", resp.Code)
	}

	start := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})
	startEvents := decodeStream(t, start.Body.Bytes())
	token := startEvents[len(startEvents)-1].ContinuationID

	if resp := postContinue(t, router, map[string]any{"continuation_id": token}); resp.Code != http.StatusOK {
		t.Fatalf("first continue: expected 200, got %d", resp.Code)
	}
	resp = postContinue(t, router, map[string]any{"continuation_id": token})
	if resp.Code != http.StatusConflict {
		t.Fatalf("reused token: expected 409, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != "continuation_consumed" {
		t.Fatalf("expected CONTINUATION_CONSUMED, got %s", errResp.Error.Code)
	}
}

func TestGetSessionScopedToOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 2})
	start := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})
	sessionID := start.Header().Get("X-Optimization-Id")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+sessionID, nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("owner get: expected 200, got %d", resp.Code)
	}
	var got Session
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if got.ID != sessionID || got.Status != StatusAutoContinuing {
		t.Fatalf("unexpected session payload: %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+sessionID, nil)
	req.Header.Set("X-Guest-Id", "somebody-else")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("foreign get: expected 404, got %d", resp.Code)
	}
}

func TestListSessionsRequiresLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for guests, got %d", resp.Code)
	}
	if errResp := decodeErrorBody(t, resp); errResp.Error.Code != "login_required" {
		t.Fatalf("expected LOGIN_REQUIRED, got %s", errResp.Error.Code)
	}
}

func TestListSessionsForUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, repo := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []string{StatusComplete, StatusError} {
		session := Session{
			ID:         "sess-" + status,
			UserID:     "user-1",
			DocumentID: "doc-1",
			TargetRole: "Backend Engineer",
			Status:     status,
			Round:      i + 1,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if status == StatusComplete {
			session.Scorecard = &Scorecard{Overall: 91}
		}
		if err := repo.CreateSession(context.Background(), session); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	token, err := auth.SignJWT(auth.Claims{Sub: "user-1"})
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(items))
	}
	newest := items[0]
	if newest["id"] != "sess-"+StatusError {
		t.Fatalf("expected newest first, got %v", newest["id"])
	}
	completed := items[1]
	if completed["overall"] != float64(91) {
		t.Fatalf("expected overall score on completed session, got %v", completed["overall"])
	}
}

func TestDownloadArtifact(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _ := setupOptimizationRouter(t, scriptedStages{passAt: 1})
	start := postStart(t, router, map[string]any{
		"targetContentId": "doc-1",
		"targetRole":      "Backend Engineer",
	})
	sessionID := start.Header().Get("X-Optimization-Id")
	startEvents := decodeStream(t, start.Body.Bytes())
	token := startEvents[len(startEvents)-1].ContinuationID
	if resp := postContinue(t, router, map[string]any{"continuation_id": token}); resp.Code != http.StatusOK {
		t.Fatalf("continue: expected 200, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+sessionID+"/artifacts/md", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("expected markdown content type, got %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, sessionID+"_resume.md") {
		t.Fatalf("expected attachment filename, got %q", cd)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.HasPrefix(string(data), "# draft r1") {
		t.Fatalf("expected rendered markdown, got %q", string(data))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+sessionID+"/artifacts/exe", nil)
	addGuestHeader(req)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown format: expected 404, got %d", resp.Code)
	}
}
