package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"optimizer-backend/internal/llm"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate runs one stage call. Stage output must be a JSON object; a
// response that fails to validate gets one repair pass before erroring.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	system, ok := llm.SystemPrompt(req.Stage)
	if !ok {
		return "", fmt.Errorf("unknown pipeline stage %q", req.Stage)
	}

	if rawFix, hasFix := llm.FixJSONFromContext(ctx); hasFix {
		return c.generateFixJSON(ctx, req.Stage, system, rawFix)
	}

	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
	raw, usage, err := c.generateOnce(ctx, messages)
	if err != nil {
		return "", err
	}
	logUsage(c.model, string(req.Stage), usage)

	if json.Valid([]byte(raw)) {
		return raw, nil
	}

	raw, usage, err = c.generateOnce(ctx, fixMessages(system, raw))
	if err != nil {
		return "", err
	}
	logUsage(c.model, string(req.Stage), usage)
	if !json.Valid([]byte(raw)) {
		return "", fmt.Errorf("invalid JSON from OpenAI")
	}
	return raw, nil
}

func (c *Client) generateFixJSON(ctx context.Context, stage llm.Stage, system, raw string) (string, error) {
	resp, usage, err := c.generateOnce(ctx, fixMessages(system, raw))
	if err != nil {
		return "", err
	}
	logUsage(c.model, string(stage), usage)
	if !json.Valid([]byte(resp)) {
		return "", fmt.Errorf("invalid JSON from OpenAI")
	}
	return resp, nil
}

func fixMessages(system, raw string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: llm.FixJSONPrompt() + "\n\nPrevious response:\n" + raw},
	}
}

func (c *Client) generateOnce(ctx context.Context, messages []chatMessage) (string, *chatResponseUsage, error) {
	temp := float32(0)
	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: responseFormat{
			Type: "json_object",
		},
	}
	reqBody.Temperature = &temp
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", nil, fmt.Errorf("openai request timeout: %w", err)
		}
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", nil, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", nil, fmt.Errorf("openai response empty content")
	}
	return content, toUsage(parsed.Usage), nil
}

type chatResponseUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func toUsage(raw *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) *chatResponseUsage {
	if raw == nil {
		return nil
	}
	return &chatResponseUsage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
	}
}

func logUsage(model, stage string, usage *chatResponseUsage) {
	if usage == nil {
		log.Printf("llm response model=%s stage=%s", model, stage)
		return
	}
	log.Printf("llm response model=%s stage=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, stage, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

var _ llm.Client = (*Client)(nil)
