package openai

import (
	"encoding/json"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// chatRequest is the OpenAI Chat Completions API request format.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage is a single message in OpenAI format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatTool is a tool definition in OpenAI format.
type chatTool struct {
	Type     string       `json:"type"` // "function"
	Function toolFunction `json:"function"`
}

// toolFunction is the function definition.
type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// toolCall represents a tool call in OpenAI format.
type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// responseFormat specifies structured output format.
type responseFormat struct {
	Type string `json:"type"` // "json_object", "text"
}

// buildRequest converts a normalized request to an OpenAI request.
func (p *Provider) buildRequest(req *types.CompletionRequest) *chatRequest {
	openaiReq := &chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	openaiReq.MaxTokens = &maxTokens

	// The system prompt goes first as a system-role message.
	if req.System != "" {
		openaiReq.Messages = append(openaiReq.Messages, chatMessage{
			Role:    "system",
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		openaiReq.Messages = append(openaiReq.Messages, chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	for _, tool := range req.Tools {
		var params json.RawMessage
		if tool.InputSchema != nil {
			params, _ = json.Marshal(tool.InputSchema)
		}
		openaiReq.Tools = append(openaiReq.Tools, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	if req.ToolChoice != nil {
		openaiReq.ToolChoice = translateToolChoice(req.ToolChoice)
	}

	if req.ResponseFormat != nil {
		openaiReq.ResponseFormat = &responseFormat{Type: req.ResponseFormat.Type}
	}

	return openaiReq
}

// translateToolChoice maps the normalized tool choice to OpenAI's shape.
func translateToolChoice(tc *types.ToolChoice) any {
	switch tc.Type {
	case "auto", "none":
		return tc.Type
	case "any":
		return "required"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}
	default:
		return "auto"
	}
}
