package providers

import (
	"math"
	"testing"

	"github.com/ongoingai/agenteval/internal/trace"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		provider Provider
		body     string
		want     RequestData
	}{
		"openai": {
			provider: OpenAIProvider{},
			body:     `{"model":"gpt-4o-mini","messages":[{"role":"system","content":"Be brief."},{"role":"user","content":"Where is my order?"}]}`,
			want: RequestData{Model: "gpt-4o-mini", Messages: []trace.Message{
				{Role: "system", Content: "Be brief."},
				{Role: "user", Content: "Where is my order?"},
			}},
		},
		"anthropic system prompt and text blocks": {
			provider: AnthropicProvider{},
			body:     `{"model":"claude-haiku-4-5-20251001","system":"Be terse.","messages":[{"role":"user","content":[{"type":"text","text":"Hi"},{"type":"text","text":" there"}]}]}`,
			want: RequestData{Model: "claude-haiku-4-5-20251001", Messages: []trace.Message{
				{Role: "system", Content: "Be terse."},
				{Role: "user", Content: "Hi there"},
			}},
		},
		"openai invalid json":    {provider: OpenAIProvider{}, body: "not json"},
		"anthropic invalid json": {provider: AnthropicProvider{}, body: "{"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := tt.provider.ParseRequest([]byte(tt.body))
			if got.Model != tt.want.Model || len(got.Messages) != len(tt.want.Messages) {
				t.Fatalf("ParseRequest()=%+v, want %+v", got, tt.want)
			}
			for i := range got.Messages {
				if got.Messages[i] != tt.want.Messages[i] {
					t.Fatalf("messages[%d]=%+v, want %+v", i, got.Messages[i], tt.want.Messages[i])
				}
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		provider Provider
		status   int
		body     string
		want     TraceData
	}{
		"openai usage": {
			provider: OpenAIProvider{},
			status:   200,
			body:     `{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"Shipped."}}],"usage":{"prompt_tokens":11,"completion_tokens":7,"total_tokens":18}}`,
			want:     TraceData{StatusCode: 200, Model: "gpt-4o-mini", Response: "Shipped.", InputTokens: 11, OutputTokens: 7, TotalTokens: 18},
		},
		"openai usage aliases": {
			provider: OpenAIProvider{},
			status:   201,
			body:     `{"model":"gpt-4o","usage":{"input_tokens":5,"output_tokens":3}}`,
			want:     TraceData{StatusCode: 201, Model: "gpt-4o", InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
		},
		"anthropic content blocks": {
			provider: AnthropicProvider{},
			status:   200,
			body:     `{"model":"claude-haiku-4-5-20251001","content":[{"type":"text","text":"Hello"}],"usage":{"input_tokens":9,"output_tokens":4}}`,
			want:     TraceData{StatusCode: 200, Model: "claude-haiku-4-5-20251001", Response: "Hello", InputTokens: 9, OutputTokens: 4, TotalTokens: 13},
		},
		"openai malformed keeps status":    {provider: OpenAIProvider{}, status: 502, body: `{"usage":`, want: TraceData{StatusCode: 502}},
		"anthropic malformed keeps status": {provider: AnthropicProvider{}, status: 529, body: `<html>`, want: TraceData{StatusCode: 529}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.provider.ParseResponse(tt.status, nil, []byte(tt.body))
			if err != nil || got == nil {
				t.Fatalf("ParseResponse()=(%v, %v), want data", got, err)
			}
			if *got != tt.want {
				t.Fatalf("ParseResponse()=%+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseStreamChunk(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		provider Provider
		chunk    string
		want     StreamChunkData
	}{
		"openai raw json": {
			provider: OpenAIProvider{},
			chunk:    `{"model":"gpt-4o-mini","usage":{"completion_tokens":4}}`,
			want:     StreamChunkData{Model: "gpt-4o-mini", OutputTokens: 4},
		},
		"openai sse deltas": {
			provider: OpenAIProvider{},
			chunk: "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Ship\"}}]}\n\n" +
				"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"ped.\"}}]}\n\n" +
				"data: {\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n" +
				"data: [DONE]\n\n",
			want: StreamChunkData{Model: "gpt-4o", DeltaText: "Shipped.", InputTokens: 9, OutputTokens: 2},
		},
		"openai malformed": {provider: OpenAIProvider{}, chunk: "data: {oops}\n\n"},
		"anthropic full stream": {
			provider: AnthropicProvider{},
			chunk: "event: message_start\n" +
				"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-sonnet-4-20250514\",\"usage\":{\"input_tokens\":12}}}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
				"event: message_delta\n" +
				"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":3}}\n\n",
			want: StreamChunkData{Model: "claude-sonnet-4-20250514", DeltaText: "Hello", InputTokens: 12, OutputTokens: 3},
		},
		"anthropic message delta only": {
			provider: AnthropicProvider{},
			chunk:    "event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":3}}\n\n",
			want:     StreamChunkData{OutputTokens: 3},
		},
		"done marker": {provider: AnthropicProvider{}, chunk: "data: [DONE]\n\n"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.provider.ParseStreamChunk([]byte(tt.chunk))
			if err != nil || got == nil {
				t.Fatalf("ParseStreamChunk()=(%v, %v), want data", got, err)
			}
			if *got != tt.want {
				t.Fatalf("ParseStreamChunk()=%+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider      Provider
		model         string
		input, output int
		want          float64
	}{
		{OpenAIProvider{}, "gpt-4o", 1000, 500, 0.0125},
		{OpenAIProvider{}, "gpt-4o-mini-2024-07-18", 1000, 1000, 0.00075},
		{OpenAIProvider{}, " GPT-4.1-mini ", 1000, 1000, 0.002},
		{OpenAIProvider{}, "claude-haiku-4-5-20251001", 1000, 1000, 0},
		{AnthropicProvider{}, "claude-haiku-4-5-20251001", 1000, 500, 0.0035},
		{AnthropicProvider{}, "claude-opus-4-6-20260220", 2000, 1000, 0.035},
		{AnthropicProvider{}, "claude-opus-4-1-20250805", 1000, 1000, 0.09},
		{AnthropicProvider{}, "gpt-4o", 1000, 1000, 0},
		{AnthropicProvider{}, "", 1000, 1000, 0},
	}
	for _, tt := range tests {
		got := tt.provider.EstimateCost(tt.model, tt.input, tt.output)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("%s.EstimateCost(%q, %d, %d)=%f, want %f", tt.provider.Name(), tt.model, tt.input, tt.output, got, tt.want)
		}
	}
}

func TestProviderNames(t *testing.T) {
	t.Parallel()

	if got := (OpenAIProvider{}).Name(); got != "openai" {
		t.Fatalf("OpenAIProvider.Name()=%q, want openai", got)
	}
	if got := (AnthropicProvider{}).Name(); got != "anthropic" {
		t.Fatalf("AnthropicProvider.Name()=%q, want anthropic", got)
	}
}
