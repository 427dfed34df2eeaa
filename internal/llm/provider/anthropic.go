package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/pkg/models"
)

// anthropicDefaultMaxTokens bounds generation when the request does not set
// a limit.
const anthropicDefaultMaxTokens = 4096

// maxEmptyStreamEvents is the cutoff for consecutive events that produce no
// output before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicAdapter speaks the Anthropic Messages API.
//
// Wire specifics:
//   - The system prompt is a top-level parameter, not a message.
//   - Tool calls arrive as content blocks: content_block_start carries the id
//     and name, input_json_delta events carry argument fragments, and
//     content_block_stop finalizes the call.
//   - Tool results are sent back as tool_result blocks inside user messages.
//
// Third-party gateways that serve non-Claude models behind this API expect a
// plain bearer Authorization header instead of the native x-api-key header.
type AnthropicAdapter struct {
	cfg    llm.Config
	client anthropic.Client
}

func newAnthropicAdapter(cfg llm.Config, bearer bool) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if bearer {
		opts = append(opts, option.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return &AnthropicAdapter{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}
}

func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// StreamResponse opens a Messages API stream and converts it to the
// normalized event protocol.
func (a *AnthropicAdapter) StreamResponse(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, wrapError(a.Name(), string(params.Model), err)
	}

	events := make(chan llm.ResponseEvent)
	go a.processStream(ctx, stream, events)
	return events, nil
}

// GenerateResponse performs a non-streaming completion.
func (a *AnthropicAdapter) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(a.Name(), string(params.Model), err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &llm.Response{
		Content: text.String(),
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// CreateConversation is not supported; the Messages API is stateless.
func (a *AnthropicAdapter) CreateConversation(ctx context.Context) (string, error) {
	return "", llm.ErrUnsupported
}

func (a *AnthropicAdapter) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	system, messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (a *AnthropicAdapter) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- llm.ResponseEvent) {
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

	var currentCall *llm.ToolCallEvent
	var currentInput strings.Builder
	var inputTokens, outputTokens int
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentCall = &llm.ToolCallEvent{
					CallID: toolUse.ID,
					Name:   toolUse.Name,
					Kind:   models.ToolCallFunction,
				}
				currentInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(llm.TextDelta(delta.Text)) {
						return
					}
					eventProcessed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !emit(llm.ReasoningDelta(delta.Thinking)) {
						return
					}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentCall != nil {
					currentInput.WriteString(delta.PartialJSON)
					if !emit(llm.ToolCallDelta(currentCall.CallID, currentCall.Name, delta.PartialJSON, models.ToolCallFunction)) {
						return
					}
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				if !emit(llm.FunctionCallReady(currentCall.CallID, currentCall.Name, llm.NormalizeArguments(currentInput.String()))) {
					return
				}
				currentCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			usage := models.TokenUsage{
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			if !emit(llm.UsageEvent(usage)) {
				return
			}
			emit(llm.Completed(&usage))
			return

		case "error":
			emit(llm.ErrorEvent("anthropic stream error"))
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				emit(llm.ErrorEvent(fmt.Sprintf("stream appears malformed: received %d consecutive empty events", emptyEventCount)))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(llm.ErrorEvent(wrapError(a.Name(), a.cfg.Model, err).Error()))
		return
	}
	emit(llm.ErrorEvent("stream ended without a completed event"))
}

// convertAnthropicMessages splits out the system text and maps the remaining
// history onto Messages API messages. Tool results become tool_result blocks
// inside user messages; reasoning items have no input representation here.
func convertAnthropicMessages(messages []models.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			// System text is a top-level parameter; multiple system messages
			// concatenate in order.
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				raw := tc.Arguments
				if tc.Kind == models.ToolCallCustom {
					raw = llm.NormalizeArguments(tc.Input)
				}
				if err := json.Unmarshal(raw, &input); err != nil {
					return "", nil, fmt.Errorf("invalid tool call input for %s: %w", tc.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}

		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		case models.RoleReasoning:
			// Not representable on input.
		}
	}
	return system, result, nil
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		params := tool.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
