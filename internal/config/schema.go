package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchemaJSON is the structural schema for the CWM config file. It
// catches wrong-typed or misspelled fields before the semantic Validate()
// pass runs, which only ever sees a well-typed Config value.
const configSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "ciToken": {"type": "string"},
    "repoOwner": {"type": "string"},
    "repoName": {"type": "string"},
    "branch": {"type": "string"},
    "checkInterval": {"type": ["string", "integer", "number"]},
    "maxRetries": {"type": "integer", "minimum": 0},
    "maxIterations": {"type": "integer", "minimum": 0},
    "maxWallClock": {"type": ["string", "integer", "number"]},
    "requiredPassStreak": {"type": "integer", "minimum": 0},
    "maxInflightFetches": {"type": "integer", "minimum": 0},
    "maxLogBytes": {"type": "integer", "minimum": 0},
    "workspaceRoot": {"type": "string"},
    "writeDotEnv": {"type": "boolean"},
    "dryRun": {"type": "boolean"},
    "vcs": {
      "type": "object",
      "properties": {
        "authorName": {"type": "string"},
        "authorEmail": {"type": "string"},
        "remote": {"type": "string"}
      }
    },
    "fixers": {
      "type": "object",
      "properties": {
        "formatterCommands": {
          "type": "array",
          "items": {"type": "array", "items": {"type": "string"}}
        },
        "toolTimeout": {"type": ["string", "integer", "number"]}
      }
    },
    "reporter": {
      "type": "object",
      "properties": {
        "logFormat": {"type": "string", "enum": ["console", "json"]},
        "reportsDir": {"type": "string"},
        "slackWebhook": {"type": "string"}
      }
    },
    "http": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    },
    "provider": {
      "type": "object",
      "properties": {
        "baseURL": {"type": "string"},
        "minAPIVersion": {"type": "string"}
      }
    }
  },
  "additionalProperties": false
}`

const configSchemaResource = "cwm://config.schema.json"

var compiledConfigSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(configSchemaResource, strings.NewReader(configSchemaJSON)); err != nil {
		panic(fmt.Sprintf("config: compiling embedded schema: %s", err))
	}
	schema, err := compiler.Compile(configSchemaResource)
	if err != nil {
		panic(fmt.Sprintf("config: compiling embedded schema: %s", err))
	}
	compiledConfigSchema = schema
}

// ValidateSchema checks raw YAML config bytes against the structural
// JSON Schema, catching typos and wrong types before semantic validation.
func ValidateSchema(data []byte) error {
	doc, err := asJSON(data)
	if err != nil {
		return fmt.Errorf("decoding config for schema check: %w", err)
	}
	if err := compiledConfigSchema.Validate(doc); err != nil {
		return err
	}
	return nil
}
