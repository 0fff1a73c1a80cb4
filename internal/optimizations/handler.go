package optimizations

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/shared/server/middleware"
	"optimizer-backend/internal/shared/server/respond"
	"optimizer-backend/internal/usage"
)

// Handler wires HTTP handlers to the optimizations service. Start and
// continue respond with the line-delimited event stream; the rest are plain
// JSON.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches optimization routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/optimizations", h.startOptimization)
	rg.POST("/optimizations/continue", h.continueOptimization)
	rg.GET("/optimizations", h.listSessions)
	rg.GET("/optimizations/:id", h.getSession)
	rg.GET("/optimizations/:id/artifacts/:format", h.downloadArtifact)
}

type startRequest struct {
	TargetContentID string `json:"targetContentId"`
	TargetRole      string `json:"targetRole"`
	Location        string `json:"location"`
	ManualMode      bool   `json:"manual_mode"`
}

type continueRequest struct {
	TargetContentID string `json:"targetContentId"`
	ContinuationID  string `json:"continuation_id"`
	ManualMode      bool   `json:"manual_mode"`
}

func (h *Handler) startOptimization(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	if req.TargetContentID == "" || req.TargetRole == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "targetContentId and targetRole are required", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	session, resume, err := h.Svc.PrepareStart(ctx, userID, Target{
		DocumentID: req.TargetContentID,
		Role:       req.TargetRole,
		Location:   req.Location,
		Manual:     req.ManualMode,
	})
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrSessionActive):
			respond.Error(c, http.StatusConflict, "session_active", "an optimization is already running for this document", nil)
		case errors.Is(err, usage.ErrLimitReached):
			respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your optimization limit. Upgrade your plan to continue.", []map[string]string{
				{"field": "usage", "issue": "limit_reached"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to start optimization", nil)
		}
		return
	}

	h.stream(c, ctx, session, nil, resume)
}

func (h *Handler) continueOptimization(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	if req.ContinuationID == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "continuation_id is required", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	session, cont, resume, err := h.Svc.PrepareResume(ctx, userID, req.TargetContentID, req.ContinuationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingContinuation):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "continuation_id is required", nil)
		case errors.Is(err, errTargetMismatch):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "targetContentId does not match the paused session", nil)
		case errors.Is(err, ErrContinuationConsumed):
			respond.Error(c, http.StatusConflict, "continuation_consumed", "continuation token already used", nil)
		case errors.Is(err, ErrNoPendingContinue):
			respond.Error(c, http.StatusConflict, "no_pending_continuation", "session is not paused", nil)
		case errors.Is(err, ErrNotFound), errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "continuation not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to continue optimization", nil)
		}
		return
	}

	h.stream(c, ctx, session, &cont, resume)
}

// stream writes the event-stream response for one pipeline segment. Headers
// go out before the first stage runs; from then on failures surface as
// error events, and the terminator always closes the stream.
func (h *Handler) stream(c *gin.Context, ctx context.Context, session Session, cont *Continuation, resume string) {
	c.Set("documentId", session.DocumentID)
	c.Set("optimizationId", session.ID)

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Optimization-Id", session.ID)
	c.Status(http.StatusOK)

	sw := NewStreamWriter(c.Writer)
	defer sw.Close()
	if err := sw.Heartbeat(); err != nil {
		return
	}

	_ = h.Svc.Stream(ctx, session, cont, resume, sw)
}

func (h *Handler) getSession(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	sessionID := c.Param("id")
	if sessionID == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "session id is required", nil)
		return
	}

	session, err := h.Svc.Get(c.Request.Context(), sessionID)
	if err != nil || session.UserID != userID {
		if err != nil && !errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to fetch optimization", nil)
			return
		}
		respond.Error(c, http.StatusNotFound, "not_found", "optimization not found", nil)
		return
	}

	respond.JSON(c, http.StatusOK, session)
}

func (h *Handler) listSessions(c *gin.Context) {
	if isGuest, ok := c.Get("isGuest"); ok {
		if guest, ok2 := isGuest.(bool); ok2 && guest {
			respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to view history", nil)
			return
		}
	}

	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to list optimizations", nil)
		return
	}

	resp := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		item := gin.H{
			"id":         s.ID,
			"documentId": s.DocumentID,
			"targetRole": s.TargetRole,
			"status":     s.Status,
			"round":      s.Round,
			"manual":     s.Manual,
			"createdAt":  s.CreatedAt,
		}
		if s.CompletedAt != nil {
			item["completedAt"] = s.CompletedAt
		}
		if s.Scorecard != nil {
			item["overall"] = s.Scorecard.Overall
		}
		if s.ErrorCode != "" {
			item["errorCode"] = s.ErrorCode
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) downloadArtifact(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	sessionID := c.Param("id")
	format := c.Param("format")

	body, err := h.Svc.OpenArtifact(c.Request.Context(), userID, sessionID, format)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "artifact not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to open artifact", nil)
		}
		return
	}
	defer body.Close()

	c.Header("Content-Type", artifactContentType(format))
	c.Header("Content-Disposition", "attachment; filename=\""+artifactFileName(sessionID, format)+"\"")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

func artifactContentType(format string) string {
	switch format {
	case "html", "styled", "resume.html":
		return "text/html; charset=utf-8"
	case "md", "markdown", "resume.md":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func artifactFileName(sessionID, format string) string {
	switch format {
	case "html", "styled", "resume.html":
		return sessionID + "_resume.html"
	case "md", "markdown", "resume.md":
		return sessionID + "_resume.md"
	default:
		return sessionID + "_ats.txt"
	}
}
