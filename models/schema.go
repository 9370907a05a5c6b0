package models

// ParamType is the declared type of a function parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// Parameter declares one argument of a callable capability.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// FunctionSchema is the static declaration of a capability exposed to the
// model. Defined once at startup; the authoritative contract between the
// orchestrator and the function dispatcher. Provider adapters format it
// into their native tool-declaration shapes.
type FunctionSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// JSONSchema renders the parameters as a JSON-schema object, the common
// denominator every provider's tool declaration accepts.
func (f FunctionSchema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(f.Parameters))
	var required []string
	for _, p := range f.Parameters {
		prop := map[string]interface{}{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
