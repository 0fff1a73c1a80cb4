package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/auth"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrUnsupportedKind indicates a decodable message the worker does not
// process, such as completion announcements fanned out on the same queue.
// Callers should acknowledge and move on.
type ErrUnsupportedKind struct {
	Kind      string
	RequestID string
}

func (e ErrUnsupportedKind) Error() string { return "unsupported message kind: " + e.Kind }

// ErrMissingTarget indicates a request missing the document or user id.
type ErrMissingTarget struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingTarget) Error() string { return "missing document or user id" }

// ErrRun indicates the optimization session failed after successful parsing.
type ErrRun struct {
	DocumentID string
	RequestID  string
	Err        error
}

func (e ErrRun) Error() string {
	if e.Err == nil {
		return "run optimization"
	}
	return "run optimization: " + e.Err.Error()
}

func (e ErrRun) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Kind != queue.KindOptimizationRequest {
		return msg, meta, ErrUnsupportedKind{Kind: msg.Kind, RequestID: msg.RequestID}
	}
	if strings.TrimSpace(msg.DocumentID) == "" || strings.TrimSpace(msg.UserID) == "" {
		return msg, meta, ErrMissingTarget{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// Runner drives queued optimization requests against the HTTP API the same
// way an interactive client would, headless and always in automatic mode.
type Runner struct {
	BaseURL string
	// IdleTimeout overrides the controller's stream watchdog when positive.
	IdleTimeout time.Duration
	// NewSession overrides API client construction; tests inject fakes.
	NewSession func(token string) optimizations.SessionAPI
}

func (r *Runner) session(token string) optimizations.SessionAPI {
	if r.NewSession != nil {
		return r.NewSession(token)
	}
	return optimizations.NewClient(r.BaseURL, token)
}

// Run executes one optimization request to its terminal state. The session
// runs under a service-minted identity for the requesting user, so quota and
// session records land on their account.
func (r *Runner) Run(ctx context.Context, msg queue.Message) error {
	// Worker tokens outlive the message by a margin, not by a day.
	token, err := auth.SignJWT(auth.Claims{
		Sub: msg.UserID,
		Exp: time.Now().UTC().Add(30 * time.Minute).Unix(),
	})
	if err != nil {
		return fmt.Errorf("mint worker token: %w", err)
	}

	ctrl := optimizations.NewController(r.session(token))
	ctrl.IdleTimeout = r.IdleTimeout
	target := optimizations.Target{
		DocumentID: msg.DocumentID,
		Role:       msg.TargetRole,
		Location:   msg.Location,
	}
	if err := ctrl.Start(ctx, target); err != nil {
		return err
	}

	snap := ctrl.Snapshot()
	switch snap.Status {
	case optimizations.StatusComplete:
		return nil
	case optimizations.StatusError:
		if snap.ErrorCode != "" {
			return fmt.Errorf("session %s failed: %s: %s", snap.SessionID, snap.ErrorCode, snap.ErrorMessage)
		}
		return fmt.Errorf("session %s failed: %s", snap.SessionID, snap.ErrorMessage)
	default:
		return fmt.Errorf("session %s stopped in state %s", snap.SessionID, snap.Status)
	}
}

// HandleMessage parses, validates, and runs a message payload.
func HandleMessage(ctx context.Context, runner *Runner, body string) error {
	if runner == nil {
		return errors.New("optimizer runner not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(msg.DocumentID) == "" || strings.TrimSpace(msg.UserID) == "" {
		return ErrMissingTarget{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	ctxWithRequest := optimizations.WithRequestID(ctx, msg.RequestID)
	if err := runner.Run(ctxWithRequest, msg); err != nil {
		return ErrRun{DocumentID: msg.DocumentID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
