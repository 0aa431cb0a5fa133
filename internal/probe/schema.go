package probe

import "regexp"

// Keywords that make a JSON Schema too complex for argument synthesis.
var complexSchemaKeywords = []string{"$ref", "anyOf", "oneOf", "allOf", "if"}

var toolNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// isComplexSchema reports whether a schema uses composition or reference
// keywords the generator does not handle.
func isComplexSchema(schema map[string]any) bool {
	for _, kw := range complexSchemaKeywords {
		if _, ok := schema[kw]; ok {
			return true
		}
	}
	return false
}

// generateValidArgs synthesizes an argument object satisfying the schema's
// required properties, or nil when the schema is too complex.
func generateValidArgs(schema map[string]any) map[string]any {
	if isComplexSchema(schema) {
		return nil
	}
	value := generateValue(schema)
	args, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return args
}

// generateInvalidArgs synthesizes arguments that violate the schema: an
// empty object when required properties exist, otherwise an unexpected
// field.
func generateInvalidArgs(schema map[string]any) map[string]any {
	if required, ok := schema["required"].([]any); ok && len(required) > 0 {
		return map[string]any{}
	}
	return map[string]any{"__invalid_field__": "should_not_be_accepted"}
}

// generateValue produces a minimal value for one schema node.
func generateValue(schema map[string]any) any {
	if isComplexSchema(schema) {
		return nil
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "string":
		return "test"
	case "integer", "number":
		if min, ok := schema["minimum"].(float64); ok {
			return min
		}
		return float64(1)
	case "boolean":
		return true
	case "array":
		minItems, _ := schema["minItems"].(float64)
		items, hasItems := schema["items"].(map[string]any)
		if minItems > 0 && hasItems {
			out := make([]any, 0, int(minItems))
			for i := 0; i < int(minItems); i++ {
				out = append(out, generateValue(items))
			}
			return out
		}
		return []any{}
	}

	if typ == "object" || schema["properties"] != nil {
		return generateObject(schema)
	}
	return "test"
}

// generateObject fills in only the required properties. A required property
// with a complex schema makes the whole object ungenerable.
func generateObject(schema map[string]any) any {
	properties, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	result := map[string]any{}
	for name, raw := range properties {
		if !required[name] {
			continue
		}
		propSchema, ok := raw.(map[string]any)
		if !ok || isComplexSchema(propSchema) {
			return nil
		}
		result[name] = generateValue(propSchema)
	}
	return result
}

// validateToolSchema performs the structural checks applied to every tool's
// inputSchema: it must be an object schema, and an object-typed schema must
// declare properties.
func validateToolSchema(schema any) string {
	m, ok := schema.(map[string]any)
	if !ok {
		return "schema is not an object"
	}
	if typ, _ := m["type"].(string); typ == "object" {
		if _, ok := m["properties"]; !ok {
			return "object schema without properties"
		}
	}
	return ""
}
