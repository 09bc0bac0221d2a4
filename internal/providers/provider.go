package providers

import (
	"net/http"
	"strings"

	"github.com/ongoingai/agenteval/internal/trace"
)

// TraceData is what a provider can read from one response body.
type TraceData struct {
	StatusCode   int
	Model        string
	Response     string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// RequestData is what a provider can read from one request body.
type RequestData struct {
	Model    string
	Messages []trace.Message
}

type StreamChunkData struct {
	Model        string
	DeltaText    string
	InputTokens  int
	OutputTokens int
}

type Provider interface {
	Name() string
	ParseRequest(body []byte) RequestData
	ParseResponse(statusCode int, headers http.Header, body []byte) (*TraceData, error)
	ParseStreamChunk(chunk []byte) (*StreamChunkData, error)
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// modelRate is a USD price per 1K tokens for models whose lowercased name
// starts with prefix.
type modelRate struct {
	prefix        string
	input, output float64
}

// priceByPrefix applies the first matching rate, so tables list more
// specific prefixes first. Unknown models cost zero.
func priceByPrefix(rates []modelRate, model string, inputTokens, outputTokens int) float64 {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return 0
	}
	for _, rate := range rates {
		if strings.HasPrefix(model, rate.prefix) {
			return float64(inputTokens)/1000*rate.input + float64(outputTokens)/1000*rate.output
		}
	}
	return 0
}
