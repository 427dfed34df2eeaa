package provider

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/pkg/models"
)

// streamChatAPI opens a Chat Completions stream and converts it to the
// normalized event protocol.
//
// Chat streaming specifics:
//   - Tool calls arrive incrementally: the first delta for an index carries
//     the id and name, subsequent deltas carry argument fragments. All calls
//     in flight are tracked by index.
//   - FinishReason "tool_calls" (or EOF with pending state) flushes the
//     accumulated calls as tool_call.ready events.
//   - Usage arrives on a trailing chunk when stream_options.include_usage is
//     set.
func (a *OpenAIAdapter) streamChatAPI(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    a.model(req),
		Messages: convertChatMessages(req.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertChatTools(req.Tools)
	}

	stream, err := a.chatClient.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapError(a.provider, chatReq.Model, err)
	}

	events := make(chan llm.ResponseEvent)
	go a.processChatStream(ctx, stream, events)
	return events, nil
}

// chatToolState accumulates one tool call across stream deltas.
type chatToolState struct {
	id   string
	name string
	args string
}

func (a *OpenAIAdapter) processChatStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- llm.ResponseEvent) {
	defer close(events)
	defer stream.Close()

	emit := func(ev llm.ResponseEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(llm.Created(map[string]any{"model": a.cfg.Model})) {
		return
	}

	pending := make(map[int]*chatToolState)
	var usage *models.TokenUsage
	flushed := false

	flush := func() bool {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := pending[i]
			if tc.id == "" || tc.name == "" {
				continue
			}
			if !emit(llm.FunctionCallReady(tc.id, tc.name, llm.NormalizeArguments(tc.args))) {
				return false
			}
		}
		pending = make(map[int]*chatToolState)
		flushed = true
		return true
	}

	for {
		select {
		case <-ctx.Done():
			emitFinal(events, llm.ErrorEvent(ctx.Err().Error()))
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				if !flushed && len(pending) > 0 {
					if !flush() {
						return
					}
				}
				if usage != nil {
					if !emit(llm.UsageEvent(*usage)) {
						return
					}
				}
				emit(llm.Completed(usage))
				return
			}
			emit(llm.ErrorEvent(wrapError(a.provider, a.cfg.Model, err).Error()))
			return
		}

		if resp.Usage != nil {
			usage = &models.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !emit(llm.TextDelta(delta.Content)) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			state := pending[index]
			if state == nil {
				state = &chatToolState{}
				pending[index] = state
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				state.args += tc.Function.Arguments
				if !emit(llm.ToolCallDelta(state.id, state.name, tc.Function.Arguments, models.ToolCallFunction)) {
					return
				}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

// emitFinal sends a terminal event without blocking on a gone consumer.
func emitFinal(events chan<- llm.ResponseEvent, ev llm.ResponseEvent) {
	select {
	case events <- ev:
	default:
	}
}

// generateChatAPI performs a non-streaming Chat Completions request. Tool
// definitions are intentionally omitted: the non-streaming path serves
// auxiliary text generation, not the agent loop.
func (a *OpenAIAdapter) generateChatAPI(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    a.model(req),
		Messages: convertChatMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := a.chatClient.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapError(a.provider, chatReq.Model, err)
	}

	out := &llm.Response{
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

// convertChatMessages maps the internal history onto Chat Completions
// messages. The system message leads; tool results each become a separate
// message with role "tool"; reasoning items have no chat representation and
// are skipped.
func convertChatMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: chatCallArguments(tc),
						},
					}
				}
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleReasoning:
			// No chat-dialect encoding for reasoning items.
		}
	}
	return result
}

// chatCallArguments renders a tool call's payload as the JSON argument
// string the chat dialect expects. Custom calls, which have no chat-native
// form, are wrapped as a function call with an "input" argument.
func chatCallArguments(tc models.ToolCall) string {
	if tc.Kind == models.ToolCallCustom {
		wrapped, err := json.Marshal(map[string]string{"input": tc.Input})
		if err != nil {
			return "{}"
		}
		return string(wrapped)
	}
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	return string(tc.Arguments)
}

func convertChatTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil || schema == nil {
			// Bad or absent schema degrades to an empty object so one tool
			// cannot break the whole request.
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
