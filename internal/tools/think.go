package tools

import (
	"context"
	"encoding/json"

	"github.com/pywen-ai/pywen/pkg/models"
)

// thinkSchema requires a single "thought" string.
var thinkSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"thought": {
			"type": "string",
			"description": "A thought to log and reason about."
		}
	},
	"required": ["thought"]
}`)

// ThinkTool is a no-op reasoning scratchpad. The model uses it to externalize
// intermediate reasoning; nothing is executed and nothing is mutated.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool {
	return &ThinkTool{}
}

func (t *ThinkTool) Name() string        { return "think" }
func (t *ThinkTool) DisplayName() string { return "Think" }

func (t *ThinkTool) Description() string {
	return "Use this tool to think about something. It will not obtain new information or change anything, but lets you log a thought when complex reasoning or working memory is needed."
}

func (t *ThinkTool) ParameterSchema() json.RawMessage {
	return thinkSchema
}

func (t *ThinkTool) RiskLevel() RiskLevel {
	return RiskSafe
}

func (t *ThinkTool) Build(providerHint string) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Kind:        models.ToolCallFunction,
		Parameters:  t.ParameterSchema(),
	}
}

// ConfirmationDetails returns nil: thinking never needs approval.
func (t *ThinkTool) ConfirmationDetails(args json.RawMessage) *Confirmation {
	return nil
}

func (t *ThinkTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var payload struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, &ExecutionError{Tool: t.Name(), Kind: "invalid_args", Message: "bad arguments", Cause: err}
	}
	return &Result{
		Content:  "Thought logged.",
		Metadata: map[string]any{"thought": payload.Thought},
	}, nil
}
