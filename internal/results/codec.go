package results

import (
	"encoding/json"
	"fmt"

	"github.com/ongoingai/agenteval/internal/evaluation"
)

// UnsupportedSchemaError is returned when decoding a document written by a
// newer, unknown schema.
type UnsupportedSchemaError struct {
	Version string
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported evaluation schema version %q", e.Version)
}

// Encode renders result as an indented JSON document stamped with the
// current schema version.
func Encode(result *evaluation.EvaluationResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("encode evaluation result: result is nil")
	}
	doc := *result
	doc.SchemaVersion = evaluation.SchemaVersion
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode evaluation result: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a result document. Documents without a schema version are
// read as the first version.
func Decode(data []byte) (*evaluation.EvaluationResult, error) {
	var header struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	switch header.SchemaVersion {
	case "", evaluation.SchemaVersion:
	default:
		return nil, &UnsupportedSchemaError{Version: header.SchemaVersion}
	}

	var result evaluation.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	result.SchemaVersion = evaluation.SchemaVersion
	return &result, nil
}
