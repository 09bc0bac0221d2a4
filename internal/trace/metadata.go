package trace

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Metadata keys set by the instrumentation layer.
const (
	MetadataSampleRate = "sample_rate"
	MetadataProvider   = "provider"
	MetadataStatusCode = "status_code"
)

// MetadataString returns the trimmed string stored under key, or "".
func MetadataString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
}

// MetadataInt64 returns the number stored under key truncated to an integer.
func MetadataInt64(metadata map[string]any, key string) (int64, bool) {
	n, ok := metadataNumber(metadata[key])
	return int64(n), ok
}

func MetadataFloat(metadata map[string]any, key string) (float64, bool) {
	return metadataNumber(metadata[key])
}

// metadataNumber accepts the shapes a number takes in metadata: Go numeric
// types when recorded in process, float64 or json.Number after a JSON round
// trip, and numeric strings from provider headers.
func metadataNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
