package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// mappingSchema constrains mapping documents: every rule needs a target and
// exactly one of source/const.
const mappingSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["provider", "event_key", "rules"],
    "properties": {
      "provider": {"type": "string", "minLength": 1},
      "event_key": {"type": "string", "minLength": 1},
      "pass_through": {"type": "boolean"},
      "rules": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["target"],
          "properties": {
            "target": {"type": "string", "minLength": 1},
            "source": {"type": "string"},
            "const": {}
          },
          "oneOf": [
            {"required": ["source"]},
            {"required": ["const"]}
          ],
          "additionalProperties": false
        }
      }
    },
    "additionalProperties": false
  }
}`

var compiledMappingSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://hookline.dev/schemas/payload-mapping.schema.json"
	if err := c.AddResource(url, strings.NewReader(mappingSchema)); err != nil {
		panic(fmt.Sprintf("mapper: schema resource: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("mapper: schema compile: %v", err))
	}
	return s
}

// LoadMappings parses and validates a YAML mapping document.
func LoadMappings(doc []byte) ([]*Mapping, error) {
	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}

	// Round-trip through JSON so the schema validator sees the types it
	// expects (yaml.v3 yields map[string]any already, but numbers differ).
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize mappings: %w", err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("normalize mappings: %w", err)
	}
	if err := compiledMappingSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid mapping document: %w", err)
	}

	var mappings []*Mapping
	if err := yaml.Unmarshal(doc, &mappings); err != nil {
		return nil, fmt.Errorf("decode mappings: %w", err)
	}
	return mappings, nil
}
