package pipeline

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaResourceURL is an arbitrary, non-fetched resource identifier; the
// schema document is always registered in-memory, never loaded over the
// network.
const schemaResourceURL = "conduit://response-schema"

// validateAgainstSchema parses content as JSON and validates it against
// schema (a JSON Schema, typically map[string]any), returning the decoded
// instance on success. Used by step 5 when the adapter didn't already
// populate AssistantMessage.Parsed (§4.9 step 5).
func validateAgainstSchema(schema any, content string) (any, error) {
	var instance any
	if err := json.Unmarshal([]byte(content), &instance); err != nil {
		return nil, err
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceURL, schemaDoc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(schemaResourceURL)
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(instance); err != nil {
		return nil, err
	}
	return instance, nil
}
