package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const actionRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "anyOf": [
    {"required": ["action"]},
    {"required": ["token"]}
  ],
  "properties": {
    "action": {"type": "string", "minLength": 1, "maxLength": 64},
    "params": {
      "type": "object",
      "maxProperties": 16,
      "additionalProperties": {"type": "string", "maxLength": 255}
    },
    "token": {"type": "string", "maxLength": 64},
    "cancel": {"type": "boolean"}
  }
}`

var (
	actionSchema     *gojsonschema.Schema
	actionSchemaErr  error
	actionSchemaOnce sync.Once
)

func validateActionRequest(body []byte) error {
	actionSchemaOnce.Do(func() {
		actionSchema, actionSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(actionRequestSchema))
	})
	if actionSchemaErr != nil {
		return actionSchemaErr
	}
	result, err := actionSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return fmt.Errorf("request validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
