package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/pkg/models"
)

// streamResponsesAPI opens a Responses API stream and converts it to the
// normalized event protocol.
//
// Responses streaming specifics:
//   - The input is a typed item list, not a flat message array. Tool calls,
//     tool outputs, and reasoning items are first-class input items.
//   - Argument fragments stream as *.delta events keyed by item id; the
//     fully assembled call arrives on response.output_item.done.
//   - When a conversation is linked, only items after the last assistant
//     message are sent; previous_response_id replays the rest server-side.
func (a *OpenAIAdapter) streamResponsesAPI(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	client := a.responsesClient()

	params, err := a.buildResponsesParams(req)
	if err != nil {
		return nil, err
	}

	stream := client.Responses.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, wrapError(a.provider, string(params.Model), err)
	}

	events := make(chan llm.ResponseEvent)
	go a.processResponsesStream(ctx, stream, events)
	return events, nil
}

func (a *OpenAIAdapter) responsesClient() oai.Client {
	opts := []option.RequestOption{option.WithAPIKey(a.cfg.APIKey)}
	if a.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.cfg.BaseURL))
	}
	return oai.NewClient(opts...)
}

// callRef tracks the identity of a tool call whose arguments are still
// streaming, keyed by output item id.
type callRef struct {
	callID string
	name   string
	kind   models.ToolCallKind
}

func (a *OpenAIAdapter) processResponsesStream(ctx context.Context, stream *ssestream.Stream[responses.ResponseStreamEventUnion], events chan<- llm.ResponseEvent) {
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

	pending := make(map[string]callRef)
	completed := false

	for stream.Next() {
		if completed {
			// Drain so the server finishes persisting the response before the
			// connection drops; a racing next request could otherwise miss
			// previous_response_id.
			continue
		}
		evt := stream.Current()

		switch evt.Type {
		case "response.created":
			created := evt.AsResponseCreated()
			if !emit(llm.Created(map[string]any{
				"response_id": created.Response.ID,
				"model":       created.Response.Model,
			})) {
				return
			}

		case "response.output_text.delta":
			delta := evt.AsResponseOutputTextDelta()
			if delta.Delta != "" {
				if !emit(llm.TextDelta(delta.Delta)) {
					return
				}
			}

		case "response.reasoning_text.delta":
			delta := evt.AsResponseReasoningTextDelta()
			if delta.Delta != "" {
				if !emit(llm.ReasoningDelta(delta.Delta)) {
					return
				}
			}

		case "response.reasoning_summary_text.delta":
			delta := evt.AsResponseReasoningSummaryTextDelta()
			if delta.Delta != "" {
				if !emit(llm.ReasoningSummaryDelta(delta.Delta)) {
					return
				}
			}

		case "response.output_item.added":
			added := evt.AsResponseOutputItemAdded()
			switch added.Item.Type {
			case "function_call":
				fn := added.Item.AsFunctionCall()
				pending[added.Item.ID] = callRef{callID: fn.CallID, name: fn.Name, kind: models.ToolCallFunction}
			case "custom_tool_call":
				custom := added.Item.AsCustomToolCall()
				pending[added.Item.ID] = callRef{callID: custom.CallID, name: custom.Name, kind: models.ToolCallCustom}
			case "web_search_call":
				if !emit(llm.ResponseEvent{Type: llm.EventWebSearchBegin}) {
					return
				}
			}

		case "response.function_call_arguments.delta":
			delta := evt.AsResponseFunctionCallArgumentsDelta()
			ref := pending[delta.ItemID]
			if !emit(llm.ToolCallDelta(ref.callID, ref.name, delta.Delta, models.ToolCallFunction)) {
				return
			}

		case "response.custom_tool_call_input.delta":
			delta := evt.AsResponseCustomToolCallInputDelta()
			ref := pending[delta.ItemID]
			if !emit(llm.ToolCallDelta(ref.callID, ref.name, delta.Delta, models.ToolCallCustom)) {
				return
			}

		case "response.output_item.done":
			done := evt.AsResponseOutputItemDone()
			item := done.Item
			switch item.Type {
			case "function_call":
				fn := item.AsFunctionCall()
				delete(pending, item.ID)
				if !emit(llm.FunctionCallReady(fn.CallID, fn.Name, llm.NormalizeArguments(fn.Arguments))) {
					return
				}
			case "custom_tool_call":
				custom := item.AsCustomToolCall()
				delete(pending, item.ID)
				if !emit(llm.CustomCallReady(custom.CallID, custom.Name, custom.Input)) {
					return
				}
			case "reasoning":
				reasoning := item.AsReasoning()
				summary := make([]string, 0, len(reasoning.Summary))
				for _, s := range reasoning.Summary {
					summary = append(summary, s.Text)
				}
				if !emit(llm.OutputItemDone(map[string]any{
					"type":      "reasoning",
					"id":        reasoning.ID,
					"summary":   summary,
					"encrypted": reasoning.EncryptedContent,
				})) {
					return
				}
			}

		case "response.completed":
			final := evt.AsResponseCompleted()
			usage := responsesUsage(final.Response.Usage)
			if !emit(llm.UsageEvent(usage)) {
				return
			}
			a.mu.Lock()
			a.previousResponseID = final.Response.ID
			a.mu.Unlock()
			if !emit(llm.Completed(&usage)) {
				return
			}
			completed = true

		case "response.failed":
			failed := evt.AsResponseFailed()
			msg := failed.Response.Error.Message
			if msg == "" {
				msg = "response failed"
			}
			emit(llm.ErrorEvent(fmt.Sprintf("%s (code=%s)", msg, failed.Response.Error.Code)))
			return

		case "response.incomplete":
			incomplete := evt.AsResponseIncomplete()
			reason := incomplete.Response.IncompleteDetails.Reason
			if reason == "" {
				reason = "incomplete"
			}
			emit(llm.ErrorEvent("response incomplete: " + reason))
			return

		case "error":
			errEvt := evt.AsError()
			msg := errEvt.Message
			if msg == "" {
				msg = "streaming error"
			}
			emit(llm.ErrorEvent(msg))
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(llm.ErrorEvent(wrapError(a.provider, a.cfg.Model, err).Error()))
		return
	}
	if !completed {
		emit(llm.ErrorEvent("stream ended without a completed event"))
	}
}

// generateResponsesAPI performs a non-streaming Responses API request.
func (a *OpenAIAdapter) generateResponsesAPI(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	client := a.responsesClient()

	params, err := a.buildResponsesParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return nil, wrapError(a.provider, string(params.Model), err)
	}

	var text strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, content := range msg.Content {
			if content.Type == "output_text" {
				text.WriteString(content.AsOutputText().Text)
			}
		}
	}
	return &llm.Response{
		Content: text.String(),
		Usage:   responsesUsage(resp.Usage),
	}, nil
}

func (a *OpenAIAdapter) buildResponsesParams(req *llm.Request) (responses.ResponseNewParams, error) {
	messages := req.Messages

	a.mu.Lock()
	linked := a.conversationID != ""
	previousID := a.previousResponseID
	a.mu.Unlock()

	// When linked, the server replays everything up to the previous response;
	// only items after the last assistant message are sent.
	if linked && previousID != "" {
		lastAssistant := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleAssistant {
				lastAssistant = i
				break
			}
		}
		if lastAssistant >= 0 && lastAssistant+1 < len(messages) {
			messages = messages[lastAssistant+1:]
		}
	}

	items, err := encodeResponsesInput(messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}

	model := a.model(req)
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if linked {
		params.Store = param.NewOpt(true)
		if previousID != "" {
			params.PreviousResponseID = param.NewOpt(previousID)
		}
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeResponsesTools(req.Tools)
	}
	return params, nil
}

// encodeResponsesInput maps the internal history onto Responses input items.
// Tool results need the announcing call's kind and arguments, so assistant
// tool calls are indexed by id as they are encountered.
func encodeResponsesInput(messages []models.Message) (responses.ResponseInputParam, error) {
	items := make(responses.ResponseInputParam, 0, len(messages))
	callsByID := make(map[string]models.ToolCall)

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem, models.RoleUser:
			items = append(items, easyMessageItem(msg.Role, msg.Content))

		case models.RoleAssistant:
			if msg.Content != "" {
				items = append(items, easyMessageItem(msg.Role, msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callsByID[tc.ID] = tc
				switch tc.Kind {
				case models.ToolCallCustom:
					custom := responses.ResponseCustomToolCallParam{
						CallID: tc.ID,
						Name:   tc.Name,
						Input:  tc.Input,
					}
					items = append(items, responses.ResponseInputItemUnionParam{OfCustomToolCall: &custom})
				default:
					fn := responses.ResponseFunctionToolCallParam{
						CallID:    tc.ID,
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					}
					items = append(items, responses.ResponseInputItemUnionParam{OfFunctionCall: &fn})
				}
			}

		case models.RoleTool:
			call, ok := callsByID[msg.ToolCallID]
			if !ok {
				return nil, fmt.Errorf("tool result %s has no preceding tool call", msg.ToolCallID)
			}
			if call.Kind == models.ToolCallCustom {
				out := responses.ResponseCustomToolCallOutputOutputUnionParam{OfString: param.NewOpt(msg.Content)}
				item := responses.ResponseCustomToolCallOutputParam{
					CallID: msg.ToolCallID,
					Type:   "custom_tool_call_output",
					Output: out,
				}
				items = append(items, responses.ResponseInputItemUnionParam{OfCustomToolCallOutput: &item})
			} else {
				payload, err := json.Marshal(map[string]any{
					"arguments": json.RawMessage(call.Arguments),
					"result":    msg.Content,
				})
				if err != nil {
					return nil, fmt.Errorf("encode tool output for %s: %w", msg.ToolCallID, err)
				}
				out := responses.ResponseInputItemFunctionCallOutputOutputUnionParam{OfString: param.NewOpt(string(payload))}
				item := responses.ResponseInputItemFunctionCallOutputParam{
					CallID: msg.ToolCallID,
					Output: out,
				}
				items = append(items, responses.ResponseInputItemUnionParam{OfFunctionCallOutput: &item})
			}

		case models.RoleReasoning:
			summary := make([]responses.ResponseReasoningItemSummaryParam, 0, len(msg.Summary))
			for _, s := range msg.Summary {
				summary = append(summary, responses.ResponseReasoningItemSummaryParam{Text: s})
			}
			item := responses.ResponseInputItemParamOfReasoning(msg.ReasoningID, summary)
			if msg.Encrypted != "" && item.OfReasoning != nil {
				item.OfReasoning.EncryptedContent = param.NewOpt(msg.Encrypted)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// decodeResponsesInput reconstructs a history from Responses input items. It
// is the inverse of encodeResponsesInput: a run of call items following an
// assistant message folds back into that message, and function outputs are
// unwrapped from their {"arguments","result"} envelope.
func decodeResponsesInput(items responses.ResponseInputParam) ([]models.Message, error) {
	var messages []models.Message

	attachCall := func(call models.ToolCall) {
		if n := len(messages); n > 0 && messages[n-1].Role == models.RoleAssistant {
			messages[n-1].ToolCalls = append(messages[n-1].ToolCalls, call)
			return
		}
		messages = append(messages, models.AssistantMessage("", []models.ToolCall{call}))
	}

	for i, item := range items {
		switch {
		case item.OfMessage != nil:
			msg := item.OfMessage
			role := models.RoleUser
			switch msg.Role {
			case responses.EasyInputMessageRoleSystem:
				role = models.RoleSystem
			case responses.EasyInputMessageRoleAssistant:
				role = models.RoleAssistant
			}
			messages = append(messages, models.Message{Role: role, Content: msg.Content.OfString.Value})

		case item.OfFunctionCall != nil:
			fn := item.OfFunctionCall
			attachCall(models.ToolCall{
				ID:        fn.CallID,
				Name:      fn.Name,
				Kind:      models.ToolCallFunction,
				Arguments: json.RawMessage(fn.Arguments),
			})

		case item.OfCustomToolCall != nil:
			custom := item.OfCustomToolCall
			attachCall(models.ToolCall{
				ID:    custom.CallID,
				Name:  custom.Name,
				Kind:  models.ToolCallCustom,
				Input: custom.Input,
			})

		case item.OfFunctionCallOutput != nil:
			out := item.OfFunctionCallOutput
			content := out.Output.OfString.Value
			var envelope struct {
				Result string `json:"result"`
			}
			if err := json.Unmarshal([]byte(content), &envelope); err == nil && envelope.Result != "" {
				content = envelope.Result
			}
			messages = append(messages, models.ToolMessage(out.CallID, content))

		case item.OfCustomToolCallOutput != nil:
			out := item.OfCustomToolCallOutput
			messages = append(messages, models.ToolMessage(out.CallID, out.Output.OfString.Value))

		case item.OfReasoning != nil:
			r := item.OfReasoning
			msg := models.Message{Role: models.RoleReasoning, ReasoningID: r.ID}
			for _, s := range r.Summary {
				msg.Summary = append(msg.Summary, s.Text)
			}
			if r.EncryptedContent.Valid() {
				msg.Encrypted = r.EncryptedContent.Value
			}
			messages = append(messages, msg)

		default:
			return nil, fmt.Errorf("input item %d has an unrecognized shape", i)
		}
	}
	return messages, nil
}

func easyMessageItem(role models.Role, content string) responses.ResponseInputItemUnionParam {
	var easyRole responses.EasyInputMessageRole
	switch role {
	case models.RoleSystem:
		easyRole = responses.EasyInputMessageRoleSystem
	case models.RoleAssistant:
		easyRole = responses.EasyInputMessageRoleAssistant
	default:
		easyRole = responses.EasyInputMessageRoleUser
	}
	message := responses.EasyInputMessageParam{
		Role:    easyRole,
		Type:    "message",
		Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(content)},
	}
	return responses.ResponseInputItemUnionParam{OfMessage: &message}
}

func encodeResponsesTools(tools []models.ToolDefinition) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Kind == models.ToolCallCustom {
			custom := responses.CustomToolParam{
				Name: tool.Name,
				Type: "custom",
			}
			if tool.Description != "" {
				custom.Description = param.NewOpt(tool.Description)
			}
			result = append(result, responses.ToolUnionParam{OfCustom: &custom})
			continue
		}

		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil || schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		fn := responses.FunctionToolParam{
			Name:       tool.Name,
			Parameters: schema,
			Type:       "function",
		}
		if tool.Description != "" {
			fn.Description = param.NewOpt(tool.Description)
		}
		result = append(result, responses.ToolUnionParam{OfFunction: &fn})
	}
	return result
}

func responsesUsage(usage responses.ResponseUsage) models.TokenUsage {
	return models.TokenUsage{
		InputTokens:  int(usage.InputTokens),
		OutputTokens: int(usage.OutputTokens),
		TotalTokens:  int(usage.TotalTokens),
	}
}
