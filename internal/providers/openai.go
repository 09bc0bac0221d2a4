package providers

import (
	"net/http"
	"strings"
)

type OpenAIProvider struct{}

func (OpenAIProvider) Name() string {
	return "openai"
}

func (OpenAIProvider) ParseRequest(body []byte) RequestData {
	payload, ok := parseJSONMap(body)
	if !ok {
		return RequestData{}
	}
	return RequestData{Model: extractModel(payload), Messages: extractMessages(payload)}
}

func (OpenAIProvider) ParseResponse(statusCode int, _ http.Header, body []byte) (*TraceData, error) {
	data := &TraceData{StatusCode: statusCode}
	payload, ok := parseJSONMap(body)
	if !ok {
		return data, nil
	}
	data.Model = extractModel(payload)
	data.InputTokens, data.OutputTokens, data.TotalTokens = extractUsage(payload)
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				data.Response = contentText(message["content"])
			}
		}
	}
	return data, nil
}

func (OpenAIProvider) ParseStreamChunk(chunk []byte) (*StreamChunkData, error) {
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
		if model := extractModel(payload); model != "" {
			data.Model = model
		}
		if input, output, _ := extractUsage(payload); input > 0 || output > 0 {
			data.InputTokens, data.OutputTokens = input, output
		}
		choices, _ := payload["choices"].([]any)
		for _, entry := range choices {
			choice, _ := entry.(map[string]any)
			delta, _ := choice["delta"].(map[string]any)
			text.WriteString(contentText(delta["content"]))
		}
	}
	data.DeltaText = text.String()
	return data, nil
}

var openAIRates = []modelRate{
	{"gpt-4o-mini", 0.00015, 0.0006},
	{"gpt-4o", 0.005, 0.015},
	{"gpt-4.1-mini", 0.0004, 0.0016},
	{"gpt-4.1", 0.002, 0.008},
	{"gpt-4-turbo", 0.01, 0.03},
	{"gpt-4", 0.03, 0.06},
	{"gpt-3.5-turbo", 0.0005, 0.0015},
}

func (OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return priceByPrefix(openAIRates, model, inputTokens, outputTokens)
}
