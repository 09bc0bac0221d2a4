package providers

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenteval/internal/trace"
)

// ChatCompleter is the subset of *openai.Client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatCompletionFunc performs one chat completion.
type ChatCompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

// Middleware wraps a ChatCompletionFunc.
type Middleware func(next ChatCompletionFunc) ChatCompletionFunc

// ChatClient sends chat completions through a middleware chain. The first
// middleware is outermost.
type ChatClient struct {
	call ChatCompletionFunc
}

func NewChatClient(client ChatCompleter, middleware ...Middleware) *ChatClient {
	call := ChatCompletionFunc(client.CreateChatCompletion)
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] != nil {
			call = middleware[i](call)
		}
	}
	return &ChatClient{call: call}
}

func (c *ChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.call(ctx, req)
}

// CaptureMiddleware records every completion as a ModelCall on the capture
// active in the request context. Failed calls are recorded with the error in
// metadata.
func CaptureMiddleware() Middleware {
	return func(next ChatCompletionFunc) ChatCompletionFunc {
		return func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			capture, ok := trace.FromContext(ctx)
			if !ok {
				return next(ctx, req)
			}
			started := time.Now()
			resp, err := next(ctx, req)

			call := trace.ModelCall{
				Model:     req.Model,
				Messages:  chatMessages(req.Messages),
				Duration:  time.Since(started),
				Timestamp: started.UTC(),
				Metadata:  map[string]any{trace.MetadataProvider: OpenAIProvider{}.Name()},
			}
			if err != nil {
				call.Metadata["error"] = err.Error()
			} else {
				if resp.Model != "" {
					call.Model = resp.Model
				}
				if len(resp.Choices) > 0 {
					call.Response = resp.Choices[0].Message.Content
				}
				call.InputTokens = resp.Usage.PromptTokens
				call.OutputTokens = resp.Usage.CompletionTokens
			}
			_ = capture.RecordModelCall(call)
			return resp, err
		}
	}
}

func chatMessages(in []openai.ChatCompletionMessage) []trace.Message {
	out := make([]trace.Message, 0, len(in))
	for _, message := range in {
		content := message.Content
		if content == "" {
			for _, part := range message.MultiContent {
				content += part.Text
			}
		}
		out = append(out, trace.Message{Role: message.Role, Content: content})
	}
	return out
}
