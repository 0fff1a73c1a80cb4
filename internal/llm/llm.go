package llm

import (
	"context"
	"errors"
)

// Stage names the pipeline role a generation call is made for. The gateway
// selects the system prompt and output contract from it.
type Stage string

const (
	StageResearcher Stage = "researcher"
	StageWriter     Stage = "writer"
	StageCritic     Stage = "critic"
	StageDesigner   Stage = "designer"
)

// Request is one generation call to the model gateway.
type Request struct {
	Stage  Stage
	Prompt string
}

// Client abstracts model providers for pipeline stage generation. The raw
// model text is returned as-is; callers own decoding it into stage types.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type fixJSONKey struct{}

// WithFixJSON returns a context signaling a fix-JSON retry with the given raw output.
func WithFixJSON(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, fixJSONKey{}, raw)
}

// FixJSONFromContext returns the raw JSON to repair, if any.
func FixJSONFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(fixJSONKey{})
	raw, ok := val.(string)
	return raw, ok
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Generate returns ErrNotImplemented.
func (PlaceholderClient) Generate(ctx context.Context, req Request) (string, error) {
	_ = ctx
	_ = req
	return "", ErrNotImplemented
}
