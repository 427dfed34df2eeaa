package models

import (
	"encoding/json"
	"time"
)

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	AgentEventUserMessage    AgentEventType = "user_message"
	AgentEventStreamStart    AgentEventType = "llm_stream_start"
	AgentEventLLMChunk       AgentEventType = "llm_chunk"
	AgentEventReasoningChunk AgentEventType = "reasoning_chunk"
	AgentEventToolCall       AgentEventType = "tool_call"
	AgentEventToolResult     AgentEventType = "tool_result"
	AgentEventToolError      AgentEventType = "tool_error"
	AgentEventTurnTokenUsage AgentEventType = "turn_token_usage"
	AgentEventTurnComplete   AgentEventType = "turn_complete"
	AgentEventTaskComplete   AgentEventType = "task_complete"
	AgentEventMaxIterations  AgentEventType = "max_iterations"
	AgentEventError          AgentEventType = "error"
	AgentEventWaitingForUser AgentEventType = "waiting_for_user"
)

// Terminal reports whether this event type ends a task. Exactly one terminal
// event is emitted per task, and it is the last event on the stream.
func (t AgentEventType) Terminal() bool {
	switch t {
	case AgentEventTaskComplete, AgentEventMaxIterations, AgentEventError:
		return true
	default:
		return false
	}
}

// AgentEvent is the unified agent-to-UI event. It is a closed union: Type is
// the discriminator and at most one payload pointer is non-nil.
type AgentEvent struct {
	Type AgentEventType `json:"type"`
	Time time.Time      `json:"time"`

	// TurnIndex is the 0-based turn the event belongs to.
	TurnIndex int `json:"turn_index"`

	Text  *TextEventPayload  `json:"text,omitempty"`
	Tool  *ToolEventPayload  `json:"tool,omitempty"`
	Usage *UsageEventPayload `json:"usage,omitempty"`
	Error *ErrorEventPayload `json:"error,omitempty"`
}

// TextEventPayload carries user text, assistant deltas, and reasoning deltas.
type TextEventPayload struct {
	Content string `json:"content"`
}

// ToolEventPayload carries a tool call announcement or its outcome.
type ToolEventPayload struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
}

// UsageEventPayload carries per-turn token accounting.
type UsageEventPayload struct {
	TotalTokens int `json:"total_tokens"`
}

// ErrorEventPayload carries a task-terminating error message.
type ErrorEventPayload struct {
	Message string `json:"message"`
}

func newEvent(t AgentEventType, turn int) AgentEvent {
	return AgentEvent{Type: t, Time: time.Now(), TurnIndex: turn}
}

// NewUserMessageEvent announces the user utterance that started the task.
func NewUserMessageEvent(turn int, content string) AgentEvent {
	ev := newEvent(AgentEventUserMessage, turn)
	ev.Text = &TextEventPayload{Content: content}
	return ev
}

// NewStreamStartEvent marks the opening of a provider stream.
func NewStreamStartEvent(turn int) AgentEvent {
	return newEvent(AgentEventStreamStart, turn)
}

// NewLLMChunkEvent carries an assistant text delta.
func NewLLMChunkEvent(turn int, content string) AgentEvent {
	ev := newEvent(AgentEventLLMChunk, turn)
	ev.Text = &TextEventPayload{Content: content}
	return ev
}

// NewReasoningChunkEvent carries a reasoning or reasoning-summary delta.
func NewReasoningChunkEvent(turn int, content string) AgentEvent {
	ev := newEvent(AgentEventReasoningChunk, turn)
	ev.Text = &TextEventPayload{Content: content}
	return ev
}

// NewToolCallEvent announces a tool call that is about to run.
func NewToolCallEvent(turn int, call ToolCall) AgentEvent {
	ev := newEvent(AgentEventToolCall, turn)
	args := call.Arguments
	if call.Kind == ToolCallCustom && len(args) == 0 {
		args = call.WireArguments()
	}
	ev.Tool = &ToolEventPayload{CallID: call.ID, Name: call.Name, Arguments: args}
	return ev
}

// NewToolResultEvent reports a finished (or rejected) tool execution.
func NewToolResultEvent(turn int, call ToolCall, result ToolResult) AgentEvent {
	ev := newEvent(AgentEventToolResult, turn)
	payload := &ToolEventPayload{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Success:   !result.IsError,
	}
	if result.IsError {
		payload.Error = result.Content
	} else {
		payload.Result = result.Content
	}
	ev.Tool = payload
	return ev
}

// NewToolErrorEvent reports a tool that could not be dispatched at all,
// e.g. a call to an unregistered name.
func NewToolErrorEvent(turn int, call ToolCall, message string) AgentEvent {
	ev := newEvent(AgentEventToolError, turn)
	ev.Tool = &ToolEventPayload{CallID: call.ID, Name: call.Name, Error: message}
	return ev
}

// NewTurnTokenUsageEvent reports token totals observed for the current turn.
func NewTurnTokenUsageEvent(turn, totalTokens int) AgentEvent {
	ev := newEvent(AgentEventTurnTokenUsage, turn)
	ev.Usage = &UsageEventPayload{TotalTokens: totalTokens}
	return ev
}

// NewTurnCompleteEvent marks the end of a turn that issued tool calls.
func NewTurnCompleteEvent(turn int) AgentEvent {
	return newEvent(AgentEventTurnComplete, turn)
}

// NewTaskCompleteEvent is the terminal event of a successful task.
func NewTaskCompleteEvent(turn int) AgentEvent {
	return newEvent(AgentEventTaskComplete, turn)
}

// NewMaxIterationsEvent is the terminal event of a budget-exhausted task.
func NewMaxIterationsEvent(turn int) AgentEvent {
	return newEvent(AgentEventMaxIterations, turn)
}

// NewErrorEvent is the terminal event of a failed task.
func NewErrorEvent(turn int, message string) AgentEvent {
	ev := newEvent(AgentEventError, turn)
	ev.Error = &ErrorEventPayload{Message: message}
	return ev
}

// NewWaitingForUserEvent signals that the agent is suspended on user input,
// e.g. a pending tool confirmation. It is a status indicator; no response is
// expected on the event stream itself.
func NewWaitingForUserEvent(turn int, detail string) AgentEvent {
	ev := newEvent(AgentEventWaitingForUser, turn)
	if detail != "" {
		ev.Text = &TextEventPayload{Content: detail}
	}
	return ev
}
