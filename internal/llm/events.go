// Package llm routes conversation requests to provider adapters and exposes
// one uniform streaming event protocol regardless of the provider wire format.
package llm

import (
	"encoding/json"

	"github.com/pywen-ai/pywen/pkg/models"
)

// ResponseEventType identifies a provider stream event after normalization.
type ResponseEventType string

const (
	EventCreated               ResponseEventType = "created"
	EventOutputTextDelta       ResponseEventType = "output_text.delta"
	EventReasoningTextDelta    ResponseEventType = "reasoning_text.delta"
	EventReasoningSummaryDelta ResponseEventType = "reasoning_summary.delta"
	EventOutputItemDone        ResponseEventType = "output_item.done"
	EventToolCallDelta         ResponseEventType = "tool_call.delta"
	EventToolCallReady         ResponseEventType = "tool_call.ready"
	EventTokenUsage            ResponseEventType = "token_usage"
	EventCompleted             ResponseEventType = "completed"
	EventError                 ResponseEventType = "error"

	// Non-semantic provider extras. The agent core may ignore these.
	EventRateLimits     ResponseEventType = "rate_limits"
	EventWebSearchBegin ResponseEventType = "web_search_begin"
)

// ResponseEvent is the normalized provider stream event. Type discriminates;
// at most one payload field is populated.
type ResponseEvent struct {
	Type ResponseEventType `json:"type"`

	// Delta carries text for the three delta event types.
	Delta string `json:"delta,omitempty"`

	// ToolCall carries tool-call assembly state for tool_call.* events.
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	// Usage is populated on token_usage and may accompany completed.
	Usage *models.TokenUsage `json:"usage,omitempty"`

	// Item carries metadata for output_item.done and created/completed.
	Item map[string]any `json:"item,omitempty"`

	// Message is the error text for error events.
	Message string `json:"message,omitempty"`
}

// ToolCallEvent is the payload of tool_call.delta and tool_call.ready.
type ToolCallEvent struct {
	CallID string              `json:"call_id"`
	Name   string              `json:"name,omitempty"`
	Kind   models.ToolCallKind `json:"kind"`

	// Fragment is an argument fragment (tool_call.delta only).
	Fragment string `json:"fragment,omitempty"`

	// Arguments is the assembled JSON-object argument payload
	// (tool_call.ready only).
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Input is the assembled opaque input of a custom call
	// (tool_call.ready only).
	Input string `json:"input,omitempty"`
}

// Created marks the start of a provider response.
func Created(meta map[string]any) ResponseEvent {
	return ResponseEvent{Type: EventCreated, Item: meta}
}

// TextDelta carries an assistant output text fragment.
func TextDelta(delta string) ResponseEvent {
	return ResponseEvent{Type: EventOutputTextDelta, Delta: delta}
}

// ReasoningDelta carries a reasoning text fragment.
func ReasoningDelta(delta string) ResponseEvent {
	return ResponseEvent{Type: EventReasoningTextDelta, Delta: delta}
}

// ReasoningSummaryDelta carries a reasoning summary fragment.
func ReasoningSummaryDelta(delta string) ResponseEvent {
	return ResponseEvent{Type: EventReasoningSummaryDelta, Delta: delta}
}

// OutputItemDone reports a completed output item with provider metadata.
func OutputItemDone(meta map[string]any) ResponseEvent {
	return ResponseEvent{Type: EventOutputItemDone, Item: meta}
}

// ToolCallDelta carries an argument fragment of a tool call under assembly.
func ToolCallDelta(callID, name, fragment string, kind models.ToolCallKind) ResponseEvent {
	return ResponseEvent{Type: EventToolCallDelta, ToolCall: &ToolCallEvent{
		CallID:   callID,
		Name:     name,
		Kind:     kind,
		Fragment: fragment,
	}}
}

// FunctionCallReady announces a fully assembled function call. The raw
// argument string must be a JSON object; adapters fall back to wrapping
// non-object payloads as {"input": raw} before calling this.
func FunctionCallReady(callID, name string, arguments json.RawMessage) ResponseEvent {
	return ResponseEvent{Type: EventToolCallReady, ToolCall: &ToolCallEvent{
		CallID:    callID,
		Name:      name,
		Kind:      models.ToolCallFunction,
		Arguments: arguments,
	}}
}

// CustomCallReady announces a fully assembled custom tool call with its
// opaque input.
func CustomCallReady(callID, name, input string) ResponseEvent {
	return ResponseEvent{Type: EventToolCallReady, ToolCall: &ToolCallEvent{
		CallID: callID,
		Name:   name,
		Kind:   models.ToolCallCustom,
		Input:  input,
	}}
}

// UsageEvent reports provider token accounting.
func UsageEvent(usage models.TokenUsage) ResponseEvent {
	return ResponseEvent{Type: EventTokenUsage, Usage: &usage}
}

// Completed terminates a successful stream; usage may be nil.
func Completed(usage *models.TokenUsage) ResponseEvent {
	return ResponseEvent{Type: EventCompleted, Usage: usage}
}

// ErrorEvent terminates a failed stream with a message.
func ErrorEvent(message string) ResponseEvent {
	return ResponseEvent{Type: EventError, Message: message}
}

// NormalizeArguments returns raw when it already parses as a JSON object and
// otherwise wraps it as {"input": raw}. Function-call arguments may arrive as
// a single fragment or as many deltas; the assembled string is not guaranteed
// to be valid JSON.
func NormalizeArguments(raw string) json.RawMessage {
	trimmed := json.RawMessage(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		return trimmed
	}
	wrapped, err := json.Marshal(map[string]string{"input": raw})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}
