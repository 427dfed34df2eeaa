package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pywen-ai/pywen/internal/config"
	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/internal/session"
	"github.com/pywen-ai/pywen/internal/tools"
	"github.com/pywen-ai/pywen/pkg/models"
)

// scriptedAdapter replays one event script per StreamResponse call. The last
// script repeats if the agent asks for more turns than scripted.
type scriptedAdapter struct {
	scripts  [][]llm.ResponseEvent
	calls    int
	requests []*llm.Request
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) StreamResponse(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	idx := a.calls
	if idx >= len(a.scripts) {
		idx = len(a.scripts) - 1
	}
	a.calls++
	a.requests = append(a.requests, req)

	script := a.scripts[idx]
	events := make(chan llm.ResponseEvent)
	go func() {
		defer close(events)
		for _, ev := range script {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (a *scriptedAdapter) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, llm.ErrUnsupported
}

func (a *scriptedAdapter) CreateConversation(ctx context.Context) (string, error) {
	return "", llm.ErrUnsupported
}

// echoTool reflects its arguments back. No schema, no confirmation.
type echoTool struct{}

func (echoTool) Name() string                     { return "echo" }
func (echoTool) DisplayName() string              { return "Echo" }
func (echoTool) Description() string              { return "Echoes its arguments." }
func (echoTool) ParameterSchema() json.RawMessage { return nil }
func (echoTool) RiskLevel() tools.RiskLevel       { return tools.RiskSafe }

func (t echoTool) Build(string) models.ToolDefinition {
	return models.ToolDefinition{Name: "echo", Description: t.Description(), Kind: models.ToolCallFunction}
}

func (echoTool) ConfirmationDetails(json.RawMessage) *tools.Confirmation { return nil }

func (echoTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "echo:" + string(args)}, nil
}

// guardedTool always requests confirmation.
type guardedTool struct{ echoTool }

func (guardedTool) Name() string { return "guarded" }

func (t guardedTool) Build(string) models.ToolDefinition {
	return models.ToolDefinition{Name: "guarded", Kind: models.ToolCallFunction}
}

func (guardedTool) ConfirmationDetails(json.RawMessage) *tools.Confirmation {
	return &tools.Confirmation{Title: "Run guarded?", Command: "guarded"}
}

// rejectingConfirmer declines everything.
type rejectingConfirmer struct{}

func (rejectingConfirmer) ConfirmToolCall(ctx context.Context, call models.ToolCall, details *tools.Confirmation) (bool, error) {
	return false, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ModelConfig:   config.ModelConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o"},
		MaxIterations: 10,
		MaxTurns:      20,
	}
}

func newTestAgent(t *testing.T, cfg *config.Config, adapter *scriptedAdapter, opts Options) *Agent {
	t.Helper()
	client, err := llm.NewClient(llm.Config{Provider: cfg.ModelConfig.Provider, Model: cfg.ModelConfig.Model},
		func(llm.Config) (llm.Adapter, error) { return adapter, nil })
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	registry, err := tools.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(guardedTool{}); err != nil {
		t.Fatal(err)
	}

	opts.AgentType = "pywen"
	opts.Config = cfg
	opts.Client = client
	opts.Registry = registry
	opts.Executor = tools.NewExecutor(registry)
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = "test system prompt"
	}
	return New(opts)
}

func collect(t *testing.T, ag *Agent, text string) []models.AgentEvent {
	t.Helper()
	var events []models.AgentEvent
	for ev := range ag.Run(context.Background(), Submission{Text: text}) {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []models.AgentEvent) []models.AgentEventType {
	out := make([]models.AgentEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func assertEventTypes(t *testing.T, events []models.AgentEvent, want []models.AgentEventType) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func assertSingleTerminalLast(t *testing.T, events []models.AgentEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	terminals := 0
	for _, ev := range events {
		if ev.Type.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
	if !events[len(events)-1].Type.Terminal() {
		t.Errorf("last event %q is not terminal", events[len(events)-1].Type)
	}
}

func functionReady(id, name, args string) llm.ResponseEvent {
	return llm.FunctionCallReady(id, name, json.RawMessage(args))
}

func TestRunSimpleTextTask(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		llm.TextDelta("Hello"),
		llm.TextDelta(" world"),
		llm.UsageEvent(models.TokenUsage{InputTokens: 10, OutputTokens: 2}),
		llm.Completed(nil),
	}}}
	stats := session.New("sess", "pywen")
	ag := newTestAgent(t, testConfig(), adapter, Options{Stats: stats})

	events := collect(t, ag, "say hello")
	assertSingleTerminalLast(t, events)
	assertEventTypes(t, events, []models.AgentEventType{
		models.AgentEventUserMessage,
		models.AgentEventStreamStart,
		models.AgentEventLLMChunk,
		models.AgentEventLLMChunk,
		models.AgentEventTurnTokenUsage,
		models.AgentEventTaskComplete,
	})

	hist := ag.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].Role != models.RoleSystem || hist[0].Content != "test system prompt" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].Role != models.RoleUser || hist[1].Content != "say hello" {
		t.Errorf("history[1] = %+v", hist[1])
	}
	if hist[2].Role != models.RoleAssistant || hist[2].Content != "Hello world" {
		t.Errorf("history[2] = %+v", hist[2])
	}
	if stats.TokensUsed() != 12 {
		t.Errorf("stats tokens = %d, want 12", stats.TokensUsed())
	}
}

func TestRunToolCallRoundTrip(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			functionReady("call_1", "echo", `{"value":"ping"}`),
			llm.Completed(&models.TokenUsage{TotalTokens: 5}),
		},
		{
			llm.Created(nil),
			llm.TextDelta("done"),
			llm.Completed(&models.TokenUsage{TotalTokens: 3}),
		},
	}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	events := collect(t, ag, "use the tool")
	assertSingleTerminalLast(t, events)
	assertEventTypes(t, events, []models.AgentEventType{
		models.AgentEventUserMessage,
		models.AgentEventStreamStart,
		models.AgentEventTurnTokenUsage,
		models.AgentEventToolCall,
		models.AgentEventToolResult,
		models.AgentEventTurnComplete,
		models.AgentEventStreamStart,
		models.AgentEventLLMChunk,
		models.AgentEventTurnTokenUsage,
		models.AgentEventTaskComplete,
	})

	hist := ag.History()
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want 5: %+v", len(hist), hist)
	}
	assistant := hist[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	toolMsg := hist[3]
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "ping") {
		t.Errorf("tool result content = %q", toolMsg.Content)
	}
	if hist[4].Content != "done" {
		t.Errorf("final assistant = %+v", hist[4])
	}
	if adapter.calls != 2 {
		t.Errorf("provider calls = %d, want 2", adapter.calls)
	}
	// The second request must carry the full transcript including the tool
	// result.
	second := adapter.requests[1]
	if len(second.Messages) != 4 {
		t.Errorf("second request carried %d messages, want 4", len(second.Messages))
	}
}

func TestRunMaxIterationsZeroTripsOnFirstToolCall(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 0
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		functionReady("call_1", "echo", `{}`),
		llm.Completed(nil),
	}}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	events := collect(t, ag, "try")
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	if last.Type != models.AgentEventMaxIterations {
		t.Fatalf("terminal = %q, want max_iterations", last.Type)
	}
	for _, ev := range events {
		if ev.Type == models.AgentEventToolResult {
			t.Error("tool executed despite exhausted iteration budget")
		}
	}
	// The announced calls stay in history, answered by synthetic skip
	// results so the transcript stays replayable.
	hist := ag.History()
	lastMsg := hist[len(hist)-1]
	if lastMsg.Role != models.RoleTool || lastMsg.ToolCallID != "call_1" {
		t.Fatalf("last history item = %+v, want a tool message for call_1", lastMsg)
	}
	if !strings.Contains(lastMsg.Content, "skipped") {
		t.Errorf("skip result content = %q", lastMsg.Content)
	}
	if len(hist[len(hist)-2].ToolCalls) != 1 {
		t.Errorf("second-to-last item = %+v, want the assistant tool-call message", hist[len(hist)-2])
	}
}

func TestRunBudgetTripKeepsHistoryReplayable(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 0
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			functionReady("call_1", "echo", `{}`),
			llm.Completed(nil),
		},
		{
			llm.Created(nil),
			llm.TextDelta("fresh start"),
			llm.Completed(nil),
		},
	}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	// First task trips the budget; the agent and its history live on.
	collect(t, ag, "first")
	events := collect(t, ag, "second")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventTaskComplete {
		t.Fatalf("second task terminal = %q", events[len(events)-1].Type)
	}

	// The second request must not replay an unanswered tool call.
	second := adapter.requests[1]
	answered := make(map[string]bool)
	for _, msg := range second.Messages {
		if msg.Role == models.RoleTool {
			answered[msg.ToolCallID] = true
		}
	}
	for _, msg := range second.Messages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls {
			if !answered[call.ID] {
				t.Errorf("tool call %s replayed without a tool result", call.ID)
			}
		}
	}
}

func TestRunMaxTurnsZero(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTurns = 0
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		llm.Completed(nil),
	}}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	events := collect(t, ag, "never starts")
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	if last.Type != models.AgentEventMaxIterations {
		t.Fatalf("terminal = %q, want max_iterations", last.Type)
	}
	if last.TurnIndex != 0 {
		t.Errorf("terminal turn index = %d, want 0", last.TurnIndex)
	}
	if adapter.calls != 0 {
		t.Errorf("provider calls = %d, want 0", adapter.calls)
	}
}

func TestRunMaxIterationsBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 2
	// Every turn announces another tool call; the script repeats.
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		functionReady("call_x", "echo", `{}`),
		llm.Completed(nil),
	}}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	events := collect(t, ag, "loop forever")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventMaxIterations {
		t.Fatalf("terminal = %q, want max_iterations", events[len(events)-1].Type)
	}
	executed := 0
	for _, ev := range events {
		if ev.Type == models.AgentEventToolResult {
			executed++
		}
	}
	if executed != 2 {
		t.Errorf("tool executions = %d, want exactly 2", executed)
	}
}

func TestRunMaxTurnsBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTurns = 1
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		functionReady("call_x", "echo", `{}`),
		llm.Completed(nil),
	}}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	events := collect(t, ag, "loop")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventMaxIterations {
		t.Fatalf("terminal = %q, want max_iterations", events[len(events)-1].Type)
	}
	if adapter.calls != 1 {
		t.Errorf("provider calls = %d, want 1", adapter.calls)
	}
}

func TestRunStreamErrorEvent(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		llm.TextDelta("partial answer"),
		llm.ErrorEvent("upstream 500"),
	}}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	events := collect(t, ag, "fail please")
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	if last.Type != models.AgentEventError {
		t.Fatalf("terminal = %q, want error", last.Type)
	}
	if last.Error.Message != "upstream 500" {
		t.Errorf("error message = %q", last.Error.Message)
	}
	// Partial streamed text is preserved.
	hist := ag.History()
	lastMsg := hist[len(hist)-1]
	if lastMsg.Role != models.RoleAssistant || lastMsg.Content != "partial answer" {
		t.Errorf("partial text not preserved: %+v", lastMsg)
	}
}

func TestRunStreamEndsWithoutCompleted(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		llm.TextDelta("cut off"),
	}}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	events := collect(t, ag, "truncate")
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	if last.Type != models.AgentEventError {
		t.Fatalf("terminal = %q, want error", last.Type)
	}
	if !strings.Contains(last.Error.Message, "without completion") {
		t.Errorf("error message = %q", last.Error.Message)
	}
}

func TestRunStreamOpenError(t *testing.T) {
	client, err := llm.NewClient(llm.Config{},
		func(llm.Config) (llm.Adapter, error) { return failingAdapter{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	registry, err := tools.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	ag := New(Options{
		AgentType:    "pywen",
		Config:       testConfig(),
		Client:       client,
		Registry:     registry,
		Executor:     tools.NewExecutor(registry),
		SystemPrompt: "sys",
	})

	events := collect(t, ag, "go")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventError {
		t.Fatalf("terminal = %q, want error", events[len(events)-1].Type)
	}
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "failing" }
func (failingAdapter) StreamResponse(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	return nil, errors.New("connect refused")
}
func (failingAdapter) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, llm.ErrUnsupported
}
func (failingAdapter) CreateConversation(ctx context.Context) (string, error) {
	return "", llm.ErrUnsupported
}

func TestRunUnknownToolRecoversLocally(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			functionReady("call_1", "no_such_tool", `{}`),
			llm.Completed(nil),
		},
		{
			llm.Created(nil),
			llm.TextDelta("recovered"),
			llm.Completed(nil),
		},
	}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	events := collect(t, ag, "call the wrong tool")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventTaskComplete {
		t.Fatalf("terminal = %q, want task_complete", events[len(events)-1].Type)
	}

	sawToolError := false
	for _, ev := range events {
		if ev.Type == models.AgentEventToolError {
			sawToolError = true
			if ev.Tool.Name != "no_such_tool" {
				t.Errorf("tool_error name = %q", ev.Tool.Name)
			}
		}
	}
	if !sawToolError {
		t.Error("no tool_error event for the unknown tool")
	}

	// The error text reaches the model as a tool message so it can react.
	var toolMsg models.Message
	found := false
	for _, msg := range ag.History() {
		if msg.Role == models.RoleTool {
			toolMsg = msg
			found = true
		}
	}
	if !found {
		t.Fatal("no tool message appended for the failed call")
	}
	if !strings.Contains(toolMsg.Content, "no_such_tool") {
		t.Errorf("tool message = %q, want the error text", toolMsg.Content)
	}
}

func TestRunConfirmationRejection(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			functionReady("call_1", "guarded", `{}`),
			llm.Completed(nil),
		},
		{
			llm.Created(nil),
			llm.TextDelta("understood"),
			llm.Completed(nil),
		},
	}}
	ag := newTestAgent(t, testConfig(), adapter, Options{Confirmer: rejectingConfirmer{}})

	events := collect(t, ag, "do something risky")
	assertSingleTerminalLast(t, events)

	sawWaiting := false
	for _, ev := range events {
		switch ev.Type {
		case models.AgentEventWaitingForUser:
			sawWaiting = true
		case models.AgentEventToolResult:
			if ev.Tool.Success {
				t.Error("rejected call reported success")
			}
			if !strings.Contains(ev.Tool.Error, "rejected") {
				t.Errorf("tool result error = %q", ev.Tool.Error)
			}
		}
	}
	if !sawWaiting {
		t.Error("no waiting_for_user event before confirmation")
	}

	for _, msg := range ag.History() {
		if msg.Role == models.RoleTool && !strings.Contains(msg.Content, "rejected") {
			t.Errorf("tool message = %q, want rejection text", msg.Content)
		}
	}
}

func TestRunCustomToolCall(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			llm.CustomCallReady("call_1", "echo", "raw patch text"),
			llm.Completed(nil),
		},
		{
			llm.Created(nil),
			llm.TextDelta("applied"),
			llm.Completed(nil),
		},
	}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	events := collect(t, ag, "apply this")
	assertSingleTerminalLast(t, events)
	if events[len(events)-1].Type != models.AgentEventTaskComplete {
		t.Fatalf("terminal = %q", events[len(events)-1].Type)
	}

	var toolMsg models.Message
	for _, msg := range ag.History() {
		if msg.Role == models.RoleTool {
			toolMsg = msg
		}
	}
	// The executor wraps custom input as {"input": ...} for the tool.
	if !strings.Contains(toolMsg.Content, "raw patch text") {
		t.Errorf("tool message = %q, want the wrapped input", toolMsg.Content)
	}
}

func TestRunEstimatesTokensWithoutUsage(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		llm.TextDelta("12345678"), // 8 chars, 2 estimated tokens
		llm.Completed(nil),
	}}}
	stats := session.New("sess", "pywen")
	ag := newTestAgent(t, testConfig(), adapter, Options{Stats: stats})

	collect(t, ag, "estimate me")
	if got := stats.TokensUsed(); got != 2 {
		t.Errorf("estimated tokens = %d, want 2", got)
	}
}

func TestRunParallelToolCalls(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelToolCalls = true
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{
		{
			llm.Created(nil),
			functionReady("call_a", "echo", `{"n":1}`),
			functionReady("call_b", "echo", `{"n":2}`),
			llm.Completed(nil),
		},
		{
			llm.Created(nil),
			llm.TextDelta("both done"),
			llm.Completed(nil),
		},
	}}
	ag := newTestAgent(t, cfg, adapter, Options{})

	events := collect(t, ag, "run both")
	assertSingleTerminalLast(t, events)

	results := 0
	for _, ev := range events {
		if ev.Type == models.AgentEventToolResult {
			results++
		}
	}
	if results != 2 {
		t.Errorf("tool results = %d, want 2", results)
	}

	var toolIDs []string
	for _, msg := range ag.History() {
		if msg.Role == models.RoleTool {
			toolIDs = append(toolIDs, msg.ToolCallID)
		}
	}
	if len(toolIDs) != 2 || toolIDs[0] != "call_a" || toolIDs[1] != "call_b" {
		t.Errorf("tool history order = %v, want [call_a call_b]", toolIDs)
	}
}

func TestRunCancellationStopsCleanly(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.ResponseEvent{{
		llm.Created(nil),
		functionReady("call_x", "echo", `{}`),
		llm.Completed(nil),
	}}}
	ag := newTestAgent(t, testConfig(), adapter, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	stream := ag.Run(ctx, Submission{Text: "never finish"})

	// Consume a couple of events, then walk away.
	<-stream
	<-stream
	cancel()
	for range stream {
	}
}
