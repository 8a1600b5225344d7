package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema maps for the two record shapes the inference service returns.
// They are compiled once per stage and used to gate conversion into the
// typed Requirement/Control structs; invalid records are dropped, never
// coerced.

func requirementSchemaMap() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requirement_title":       map[string]any{"type": "string", "minLength": 1},
			"article_number":          map[string]any{"type": "string"},
			"priority":                priorityProp(),
			"article_text":            map[string]any{"type": "string"},
			"requirement":             map[string]any{"type": "string", "minLength": 1},
			"requirement_description": map[string]any{"type": "string"},
			"controls":                map[string]any{"type": "array"},
		},
		"required": []string{"requirement_title", "article_number", "priority", "requirement"},
	}
}

func controlSchemaMap() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"priority":      priorityProp(),
			"control_title": map[string]any{"type": "string", "minLength": 1},
			"control":       map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"priority", "control_title", "control"},
	}
}

func priorityProp() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"high", "medium", "low"},
	}
}

// compileSchema turns a schema map into a compiled validator
func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
