package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// ErrMalformedOutput marks tool output that does not satisfy the result
// contract. The executor records it as a MALFORMED_OUTPUT failure.
var ErrMalformedOutput = errors.New("malformed tool output")

// resultContract is the wire contract hosted-server tools must satisfy.
// In-process tools return typed results and bypass it.
const resultContract = `{
  "type": "object",
  "required": ["tool_id", "success"],
  "properties": {
    "tool_id": {"type": "string", "minLength": 1},
    "success": {"type": "boolean"},
    "duration_ms": {"type": "integer", "minimum": 0},
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "severity", "message"],
        "properties": {
          "kind": {"enum": ["issue", "suggestion", "info", "metric"]},
          "severity": {"enum": ["critical", "high", "medium", "low", "info"]},
          "category": {"type": "string"},
          "message": {"type": "string", "minLength": 1},
          "file": {"type": "string"},
          "line": {"type": "integer", "minimum": 0}
        }
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    },
    "error": {
      "type": "object",
      "required": ["code", "message"],
      "properties": {
        "code": {"type": "string"},
        "message": {"type": "string"},
        "recoverable": {"type": "boolean"}
      }
    }
  }
}`

var resultSchema = jsonschema.MustCompileString("toolresult.schema.json", resultContract)

// DecodeResult parses and validates raw hosted-tool output. Anything that
// fails the contract is wrapped in ErrMalformedOutput.
func DecodeResult(raw []byte) (*models.ToolResult, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := resultSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	var result models.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &result, nil
}
