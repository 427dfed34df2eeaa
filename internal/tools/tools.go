// Package tools defines the tool interface the agent executes against, the
// name-to-tool registry, and the bounded-concurrency executor.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pywen-ai/pywen/pkg/models"
)

// RiskLevel grades the blast radius of a tool. HIGH-risk tools are never run
// concurrently with other tools.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// Confirmation describes a pending tool call for the user to approve. A nil
// Confirmation from ConfirmationDetails means the call runs without asking.
type Confirmation struct {
	Title       string
	Description string

	// Command is the concrete action preview (shell command, patch excerpt).
	Command string
}

// Result is the outcome of one tool execution.
type Result struct {
	// Content is the human-facing result text.
	Content string

	// Summary, when set, is preferred over Content for history injection.
	Summary string

	// Metadata carries structured details for the trajectory record.
	Metadata map[string]any
}

// HistoryContent returns the text to append to conversation history.
func (r *Result) HistoryContent() string {
	if r == nil {
		return ""
	}
	if r.Summary != "" {
		return r.Summary
	}
	return r.Content
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	DisplayName() string
	Description() string

	// ParameterSchema returns the JSON Schema of the tool's arguments.
	ParameterSchema() json.RawMessage

	RiskLevel() RiskLevel

	// Build renders the provider-facing descriptor. providerHint is the
	// provider tag; tools may vary their schema per provider.
	Build(providerHint string) models.ToolDefinition

	// ConfirmationDetails returns the approval panel for the given arguments,
	// or nil when no confirmation is needed.
	ConfirmationDetails(args json.RawMessage) *Confirmation

	// Execute runs the tool. Errors are execution failures; the executor
	// converts them into failed ToolResults rather than aborting the batch.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// ErrNotFound reports a tool name with no registration.
var ErrNotFound = errors.New("tool not found")

// ExecutionError wraps a tool failure with its classification.
type ExecutionError struct {
	Tool    string
	Kind    string // "execution", "timeout", "panic", "invalid_args"
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s %s: %s: %v", e.Tool, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %s %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
