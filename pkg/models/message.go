// Package models provides domain types shared across the Pywen agent core:
// conversation messages, tool calls and results, token usage, turns, and the
// agent-to-UI event union.
package models

import (
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleReasoning Role = "reasoning"
)

// Message is one item in the conversation history.
//
// Exactly one shape is populated per role:
//   - system/user: Content
//   - assistant: Content and/or ToolCalls (at least one present)
//   - tool: ToolCallID + Content (result of a completed tool call)
//   - reasoning: ReasoningID + Summary, optionally Encrypted, round-tripped
//     verbatim to providers that accept reasoning items on input
type Message struct {
	// Role indicates who produced the message.
	Role Role `json:"role"`

	// Content is the text content (may be empty for tool-call-only
	// assistant messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool message with the announcing tool call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningID is the provider-assigned id of a reasoning item.
	ReasoningID string `json:"reasoning_id,omitempty"`

	// Summary holds reasoning summary texts in provider order.
	Summary []string `json:"summary,omitempty"`

	// Encrypted is opaque provider reasoning state, replayed verbatim.
	Encrypted string `json:"encrypted,omitempty"`
}

// SystemMessage returns a system message with the given content.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant message carrying text and/or tool calls.
func AssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMessage returns the result message for a completed tool call.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// ToolCallKind distinguishes structured function calls from opaque custom calls.
type ToolCallKind string

const (
	// ToolCallFunction carries JSON-object arguments.
	ToolCallFunction ToolCallKind = "function"

	// ToolCallCustom carries an opaque string input, typically a patch.
	ToolCallCustom ToolCallKind = "custom"
)

// ToolCall is a model-issued request to invoke a named tool. ID is the
// correlation key with a later tool message.
type ToolCall struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind ToolCallKind `json:"kind"`

	// Arguments is the JSON-object argument payload for function calls.
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Input is the opaque payload for custom calls.
	Input string `json:"input,omitempty"`
}

// PatchToolName is the custom tool whose opaque input is a patch body.
const PatchToolName = "apply_patch"

// WireArguments renders the call's arguments as a JSON object. Function calls
// pass their arguments through; custom calls wrap the opaque input, keyed
// "patch" for the patch tool and "input" otherwise.
func (c ToolCall) WireArguments() json.RawMessage {
	if c.Kind != ToolCallCustom {
		if len(c.Arguments) == 0 {
			return json.RawMessage(`{}`)
		}
		return c.Arguments
	}
	key := "input"
	if c.Name == PatchToolName {
		key = "patch"
	}
	wrapped, err := json.Marshal(map[string]string{key: c.Input})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

// ToolResult is the outcome of a single tool execution, correlated back to
// the announcing call by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`

	// Metadata carries optional structured details alongside Content.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition is the provider-facing descriptor of a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        ToolCallKind    `json:"kind"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// TokenUsage reports provider token accounting for one request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Total returns the total token count, deriving it from the parts when the
// provider did not report one.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}
