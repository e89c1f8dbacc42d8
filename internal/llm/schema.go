package llm

// BuildBoundariesJSONSchema returns a JSON-Schema (draft 2020-12 subset) as
// a generic map. We pass it to the model as a structured output constraint
// and also use it locally to validate the response.
func BuildBoundariesJSONSchema() map[string]any {
	hint := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"start_page": map[string]any{"type": "integer", "minimum": 1},
			"end_page":   map[string]any{"type": "integer", "minimum": 1},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"bank":       map[string]any{"type": "string"},
			"account":    map[string]any{"type": "string"},
			"period":     periodProp(),
		},
		"required": []string{"start_page", "end_page"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"boundaries": map[string]any{"type": "array", "items": hint},
		},
		"required": []string{"boundaries"},
	}
}

// BuildMetadataJSONSchema constrains the per-statement metadata response.
// Nothing is required: a field the model cannot read must be omitted.
func BuildMetadataJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"bank":       map[string]any{"type": "string", "minLength": 1},
			"account":    map[string]any{"type": "string", "minLength": 1},
			"period":     periodProp(),
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
	}
}

func periodProp() map[string]any {
	// "YYYY-MM" or "YYYY-MM-DD..YYYY-MM-DD"
	return map[string]any{
		"type":    "string",
		"pattern": `^\d{4}-\d{2}(-\d{2}\.\.\d{4}-\d{2}-\d{2})?$`,
	}
}
