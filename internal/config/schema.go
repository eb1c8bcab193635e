package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the structural contract of phonepilot.json. Semantic checks live
// in Config.Validate.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "ai": {
      "type": "object",
      "properties": {
        "profiles": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "provider"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "provider": {"enum": ["anthropic", "openai", "gemini"]},
              "api_key": {"type": "string"},
              "base_url": {"type": "string"},
              "priority": {"type": "integer"}
            }
          }
        }
      }
    },
    "agent": {
      "type": "object",
      "properties": {
        "profile": {"type": "string"},
        "model": {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "max_tokens": {"type": "integer", "minimum": 1},
        "max_steps": {"type": "integer", "minimum": 1},
        "system_prompt": {"type": "string"},
        "cleanup_on_finish": {"type": "boolean"}
      }
    },
    "device": {
      "type": "object",
      "properties": {
        "adb_path": {"type": "string"},
        "serial": {"type": "string"},
        "bridge_package": {"type": "string"},
        "command_timeout_sec": {"type": "integer", "minimum": 1}
      }
    },
    "remote": {
      "type": "object",
      "properties": {
        "experimental": {"type": "boolean"},
        "endpoint": {"type": "string"},
        "width": {"type": "integer", "minimum": 1},
        "height": {"type": "integer", "minimum": 1},
        "dpi": {"type": "integer", "minimum": 1},
        "bitrate": {"type": "integer", "minimum": 1},
        "call_timeout_ms": {"type": "integer", "minimum": 1},
        "fallback_package": {"type": "string"}
      }
    },
    "dispatch": {
      "type": "object",
      "properties": {
        "settle_ms": {"type": "integer", "minimum": 0},
        "overlay_settle_ms": {"type": "integer", "minimum": 0},
        "max_backspace": {"type": "integer", "minimum": 1}
      }
    },
    "control": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "shared_secret": {"type": "string"},
        "rate_limit": {"type": "number", "exclusiveMinimum": 0},
        "rate_burst": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"enum": ["trace", "debug", "info", "warn", "error"]}
      }
    },
    "schedules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "task"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "task": {"type": "string", "minLength": 1},
          "expr": {"type": "string"},
          "at": {"type": "string", "format": "date-time"},
          "tz": {"type": "string"},
          "max_steps": {"type": "integer", "minimum": 0},
          "enabled": {"type": "boolean"}
        }
      }
    },
    "data_dir": {"type": "string"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateSchema checks raw config JSON against Schema and reports every
// violation in one error.
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
