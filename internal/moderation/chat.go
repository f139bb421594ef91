package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// ChatReviewer asks an OpenAI-compatible chat completion endpoint (Groq by
// default) for a JSON verdict.
type ChatReviewer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewChatReviewer(cfg Config) *ChatReviewer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = firstNonBlank(cfg.BaseURL, DefaultBaseURL)
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ChatReviewer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   firstNonBlank(cfg.Model, DefaultModel),
		timeout: timeout,
	}
}

func (r *ChatReviewer) Review(ctx context.Context, current, proposed, description string) (Verdict, error) {
	prompt, err := renderPrompt(current, proposed, description)
	if err != nil {
		return Verdict{}, serviceError("render prompt", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Verdict{}, serviceError("request", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, serviceError("decode", errors.New("response has no choices"))
	}
	return ParseVerdict(resp.Choices[0].Message.Content)
}

type verdictPayload struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// ParseVerdict decodes the classifier's {"success", "message"} object. A
// missing success flag is a malformed answer, not a rejection.
func ParseVerdict(raw string) (Verdict, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Verdict{}, serviceError("decode", fmt.Errorf("parse verdict: %w", err))
	}
	if payload.Success == nil {
		return Verdict{}, serviceError("decode", errors.New(`verdict is missing "success"`))
	}
	return Verdict{Accepted: *payload.Success, Reason: strings.TrimSpace(payload.Message)}, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
