package judge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/observability"
)

const (
	DefaultModel       = "gpt-4"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 500
)

// OpenAIJudge asks an OpenAI-compatible chat model for a SCORE/REASON verdict.
type OpenAIJudge struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	hasKey      bool
}

type options struct {
	model       string
	baseURL     string
	httpClient  *http.Client
	temperature float32
	maxTokens   int
}

type Option func(*options)

func WithModel(model string) Option {
	return func(o *options) {
		if model = strings.TrimSpace(model); model != "" {
			o.model = model
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithTemperature(temperature float64) Option {
	return func(o *options) { o.temperature = float32(temperature) }
}

func WithMaxTokens(maxTokens int) Option {
	return func(o *options) {
		if maxTokens > 0 {
			o.maxTokens = maxTokens
		}
	}
}

// NewOpenAI builds a judge. An empty apiKey is accepted; every Evaluate call
// then fails with ErrMissingAPIKey.
func NewOpenAI(apiKey string, opts ...Option) *OpenAIJudge {
	o := options{
		model:       DefaultModel,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&o)
	}

	apiKey = strings.TrimSpace(apiKey)
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return &OpenAIJudge{
		client:      openai.NewClientWithConfig(cfg),
		model:       o.model,
		temperature: o.temperature,
		maxTokens:   o.maxTokens,
		hasKey:      apiKey != "",
	}
}

// FromConfig builds a judge from the judge config section. Outbound calls
// are traced when runtime has OpenTelemetry enabled.
func FromConfig(cfg config.JudgeConfig, runtime *observability.Runtime) *OpenAIJudge {
	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Transport: runtime.WrapHTTPTransport(http.DefaultTransport),
	}
	return NewOpenAI(
		cfg.APIKey(),
		WithModel(cfg.Model),
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(httpClient),
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
	)
}

func (j *OpenAIJudge) Model() string {
	return j.model
}

func (j *OpenAIJudge) Evaluate(ctx context.Context, criteria, input, output, systemContext string) (Score, error) {
	if !j.hasKey {
		return Score{}, ErrMissingAPIKey
	}
	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(criteria, input, output, systemContext)},
		},
		Temperature: j.temperature,
		MaxTokens:   j.maxTokens,
	})
	if err != nil {
		return Score{}, fmt.Errorf("judge completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Score{}, ErrEmptyResponse
	}
	return ParseResponse(resp.Choices[0].Message.Content), nil
}
