package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound event names.
const (
	EventPROpened     = "pr.opened"
	EventPRUpdated    = "pr.updated"
	EventRepoScan     = "repo.scan"
	EventScheduleTick = "schedule.tick"
)

const prReviewContract = `{
  "type": "object",
  "required": ["repository", "pr"],
  "properties": {
    "repository": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "provider": {"type": "string"},
        "owner": {"type": "string"},
        "name": {"type": "string"},
        "url": {"type": "string", "minLength": 1},
        "private": {"type": "boolean"},
        "is_production": {"type": "boolean"}
      }
    },
    "pr": {
      "type": "object",
      "required": ["number", "files"],
      "properties": {
        "number": {"type": "integer", "minimum": 1},
        "title": {"type": "string"},
        "base_ref": {"type": "string"},
        "target_ref": {"type": "string"},
        "files": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["path", "change_type"],
            "properties": {
              "path": {"type": "string", "minLength": 1},
              "content": {"type": "string"},
              "diff": {"type": "string"},
              "change_type": {"enum": ["added", "modified", "deleted"]}
            }
          }
        }
      }
    }
  }
}`

const repoScanContract = `{
  "type": "object",
  "required": ["repository"],
  "properties": {
    "repository": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "provider": {"type": "string"},
        "owner": {"type": "string"},
        "name": {"type": "string"},
        "url": {"type": "string", "minLength": 1},
        "private": {"type": "boolean"},
        "is_production": {"type": "boolean"}
      }
    },
    "branch": {"type": "string"},
    "perspectives": {
      "type": "array",
      "items": {"enum": ["architecture", "code-quality", "security", "dependencies", "patterns"]}
    }
  }
}`

const scheduleTickContract = `{
  "type": "object",
  "required": ["schedule_id"],
  "properties": {
    "schedule_id": {"type": "string", "minLength": 1}
  }
}`

var payloadSchemas = map[string]*jsonschema.Schema{
	EventPROpened:     jsonschema.MustCompileString("pr_review.schema.json", prReviewContract),
	EventPRUpdated:    jsonschema.MustCompileString("pr_review.schema.json", prReviewContract),
	EventRepoScan:     jsonschema.MustCompileString("repo_scan.schema.json", repoScanContract),
	EventScheduleTick: jsonschema.MustCompileString("schedule_tick.schema.json", scheduleTickContract),
}

// validatePayload checks a raw payload against the schema for its event.
func validatePayload(event string, payload []byte) error {
	schema, ok := payloadSchemas[event]
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("payload invalid for %s: %w", event, err)
	}
	return nil
}
