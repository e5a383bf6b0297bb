package types

// Tool represents a callable capability exposed to the model. The set of
// tools on a request is a closed enumeration; the model selects among them
// but cannot invoke anything outside it.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *JSONSchema `json:"input_schema,omitempty"`
}

// ToolChoice specifies how the model should choose tools.
type ToolChoice struct {
	Type string `json:"type"`           // "auto", "any", "none", "tool"
	Name string `json:"name,omitempty"` // Required when type="tool"
}

// NewFunctionTool creates a tool definition.
func NewFunctionTool(name, description string, schema *JSONSchema) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}
}

// ToolChoiceAuto returns a ToolChoice that lets the model decide.
func ToolChoiceAuto() *ToolChoice {
	return &ToolChoice{Type: "auto"}
}

// ToolChoiceNone prevents the model from using tools.
func ToolChoiceNone() *ToolChoice {
	return &ToolChoice{Type: "none"}
}
