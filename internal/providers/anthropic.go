package providers

import (
	"net/http"
	"strings"

	"github.com/ongoingai/agenteval/internal/trace"
)

type AnthropicProvider struct{}

func (AnthropicProvider) Name() string {
	return "anthropic"
}

func (AnthropicProvider) ParseRequest(body []byte) RequestData {
	payload, ok := parseJSONMap(body)
	if !ok {
		return RequestData{}
	}
	data := RequestData{Model: extractModel(payload)}
	if system := contentText(payload["system"]); system != "" {
		data.Messages = append(data.Messages, trace.Message{Role: "system", Content: system})
	}
	data.Messages = append(data.Messages, extractMessages(payload)...)
	return data
}

func (AnthropicProvider) ParseResponse(statusCode int, _ http.Header, body []byte) (*TraceData, error) {
	data := &TraceData{StatusCode: statusCode}
	payload, ok := parseJSONMap(body)
	if !ok {
		return data, nil
	}
	data.Model = extractModel(payload)
	data.InputTokens, data.OutputTokens, data.TotalTokens = extractUsage(payload)
	data.Response = contentText(payload["content"])
	return data, nil
}

func (AnthropicProvider) ParseStreamChunk(chunk []byte) (*StreamChunkData, error) {
	data := &StreamChunkData{}
	events := sseEvents(chunk)
	if len(events) == 0 {
		events = [][]byte{chunk}
	}
	var text strings.Builder
	for _, event := range events {
		payload, ok := parseJSONMap(event)
		if !ok {
			continue
		}
		switch payload["type"] {
		case "message_start":
			message, _ := payload["message"].(map[string]any)
			data.Model = extractModel(message)
			if input, _, _ := extractUsage(message); input > 0 {
				data.InputTokens = input
			}
		case "content_block_delta":
			delta, _ := payload["delta"].(map[string]any)
			if value, ok := delta["text"].(string); ok {
				text.WriteString(value)
			}
		case "message_delta":
			if _, output, _ := extractUsage(payload); output > 0 {
				data.OutputTokens = output
			}
		}
	}
	data.DeltaText = text.String()
	return data, nil
}

var anthropicRates = []modelRate{
	{"claude-opus-4-6", 0.005, 0.025},
	{"claude-opus-4", 0.015, 0.075},
	{"claude-sonnet-4", 0.003, 0.015},
	{"claude-haiku-4", 0.001, 0.005},
	{"claude-3-7-sonnet", 0.003, 0.015},
	{"claude-3-5-sonnet", 0.003, 0.015},
	{"claude-3-5-haiku", 0.0008, 0.004},
	{"claude-3-opus", 0.015, 0.075},
	{"claude-3-sonnet", 0.003, 0.015},
	{"claude-3-haiku", 0.00025, 0.00125},
}

func (AnthropicProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return priceByPrefix(anthropicRates, model, inputTokens, outputTokens)
}
