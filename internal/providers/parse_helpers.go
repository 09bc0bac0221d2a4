package providers

import (
	"encoding/json"
	"strings"

	"github.com/ongoingai/agenteval/internal/trace"
)

func parseJSONMap(raw []byte) (map[string]any, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, false
	}
	return out, true
}

// sseEvents returns the JSON data payloads of every SSE event in chunk.
func sseEvents(chunk []byte) [][]byte {
	var events [][]byte
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if value == "" || value == "[DONE]" || !strings.HasPrefix(value, "{") {
			continue
		}
		events = append(events, []byte(value))
	}
	return events
}

func firstInt(values map[string]any, keys ...string) int {
	for _, key := range keys {
		if parsed, ok := trace.MetadataInt64(values, key); ok {
			return int(parsed)
		}
	}
	return 0
}

func extractUsage(payload map[string]any) (int, int, int) {
	usage, ok := payload["usage"].(map[string]any)
	if !ok {
		return 0, 0, 0
	}
	input := firstInt(usage, "prompt_tokens", "input_tokens")
	output := firstInt(usage, "completion_tokens", "output_tokens")
	total := firstInt(usage, "total_tokens")
	if total == 0 {
		total = input + output
	}
	return input, output, total
}

func extractModel(payload map[string]any) string {
	return trace.MetadataString(payload, "model")
}

// contentText flattens a message content field that is either a string or a
// list of typed blocks.
func contentText(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, block := range typed {
			item, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := item["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}

func extractMessages(payload map[string]any) []trace.Message {
	raw, ok := payload["messages"].([]any)
	if !ok {
		return nil
	}
	messages := make([]trace.Message, 0, len(raw))
	for _, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		role, _ := item["role"].(string)
		messages = append(messages, trace.Message{Role: role, Content: contentText(item["content"])})
	}
	return messages
}
