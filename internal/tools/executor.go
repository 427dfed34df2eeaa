package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pywen-ai/pywen/pkg/models"
)

const (
	// DefaultParallelism caps concurrent tool executions in one batch.
	DefaultParallelism = 5

	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 120 * time.Second
)

// Executor runs batches of tool calls against a registry. Results preserve
// input order regardless of completion order; every failure mode (missing
// tool, bad arguments, tool error, timeout, panic) becomes a failed
// ToolResult instead of aborting the batch.
type Executor struct {
	registry    *Registry
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithParallelism sets the concurrency cap. Values below 1 mean serial.
func WithParallelism(n int) ExecutorOption {
	return func(e *Executor) { e.parallelism = n }
}

// WithToolTimeout sets the per-call timeout.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor builds an executor over the registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		parallelism: DefaultParallelism,
		timeout:     DefaultToolTimeout,
		logger:      slog.Default().With("component", "tool_executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 {
		e.parallelism = 1
	}
	return e
}

// ExecuteAll runs every call and returns results in input order. HIGH-risk
// tools run serially after the concurrent batch so they never overlap with
// anything else.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	var concurrent, serial []int
	for i, call := range calls {
		if e.isSerial(call.Name) {
			serial = append(serial, i)
		} else {
			concurrent = append(concurrent, i)
		}
	}

	if len(concurrent) > 0 {
		sem := make(chan struct{}, e.parallelism)
		var wg sync.WaitGroup
		for _, i := range concurrent {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = e.ExecuteOne(ctx, calls[i])
			}(i)
		}
		wg.Wait()
	}

	for _, i := range serial {
		results[i] = e.ExecuteOne(ctx, calls[i])
	}

	return results
}

// ExecuteOne runs a single call under the per-call timeout.
func (e *Executor) ExecuteOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	tool, err := e.registry.Get(call.Name)
	if err != nil {
		return failedResult(call.ID, err.Error())
	}

	args := callArguments(call)
	if err := e.registry.ValidateArgs(call.Name, args); err != nil {
		return failedResult(call.ID, err.Error())
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.runProtected(callCtx, tool, args)
	elapsed := time.Since(start)

	if err != nil {
		kind := "execution"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		e.logger.Warn("tool failed",
			"tool", call.Name,
			"call_id", call.ID,
			"kind", kind,
			"duration", elapsed,
			"error", err)
		return failedResult(call.ID, err.Error())
	}

	e.logger.Debug("tool completed",
		"tool", call.Name,
		"call_id", call.ID,
		"duration", elapsed)

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.HistoryContent(),
		Metadata:   result.Metadata,
	}
}

// runProtected executes the tool, converting panics into errors so a broken
// tool cannot take down the agent.
func (e *Executor) runProtected(ctx context.Context, tool Tool, args json.RawMessage) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{
				Tool:    tool.Name(),
				Kind:    "panic",
				Message: fmt.Sprintf("%v", r),
			}
		}
	}()

	result, err = tool.Execute(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}

func (e *Executor) isSerial(name string) bool {
	tool, err := e.registry.Get(name)
	if err != nil {
		return false
	}
	return tool.RiskLevel() == RiskHigh
}

// callArguments yields the JSON argument payload regardless of call kind.
func callArguments(call models.ToolCall) json.RawMessage {
	return call.WireArguments()
}

func failedResult(callID, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: callID,
		Content:    message,
		IsError:    true,
	}
}
