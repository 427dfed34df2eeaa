package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/internal/skills"
	"github.com/pywen-ai/pywen/pkg/models"
)

// Submission is one user utterance plus any explicitly referenced skills.
type Submission struct {
	Text   string
	Skills []skills.Reference
}

// Run executes one task. The returned channel carries AgentEvents in order
// and is closed after exactly one terminal event (task_complete,
// max_iterations, or error).
func (a *Agent) Run(ctx context.Context, sub Submission) <-chan models.AgentEvent {
	events := make(chan models.AgentEvent)
	go func() {
		defer close(events)
		a.runTask(ctx, sub, events)
	}()
	return events
}

// turnState accumulates what one provider stream produced.
type turnState struct {
	text      strings.Builder
	reasoning []models.Message
	calls     []models.ToolCall
	usageSeen bool
	completed bool
	errMsg    string
}

func (a *Agent) runTask(ctx context.Context, sub Submission, events chan<- models.AgentEvent) {
	emit := func(ev models.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Explicitly referenced skills become extra system material for this
	// task; the base prompt is restored afterwards.
	if extra := skills.Inject(sub.Skills, a.skills, a.logger); extra != "" {
		base := a.history.System()
		a.history.ReplaceSystem(extra + "\n\n" + base)
		defer a.history.ReplaceSystem(base)
	}

	turn := &models.Turn{
		ID:          uuid.NewString(),
		UserMessage: sub.Text,
		Status:      models.TurnActive,
	}
	if a.stats != nil {
		a.stats.TaskStarted()
		a.stats.SetAgentType(a.agentType)
	}

	a.history.Append(models.UserMessage(sub.Text))
	if !emit(models.NewUserMessageEvent(0, sub.Text)) {
		return
	}
	if a.recorder != nil {
		a.recorder.TaskStart(sub.Text, a.cfg.ModelConfig.Provider, a.cfg.ModelConfig.Model, a.cfg.MaxIterations)
	}

	recordedUpTo := 0
	iterations := 0

	for turnIndex := 0; ; turnIndex++ {
		if turnIndex >= a.cfg.MaxTurns {
			a.logger.Warn("turn budget exhausted", "turns", turnIndex)
			turn.Finish(models.TurnMaxIterations)
			last := turnIndex - 1
			if last < 0 {
				last = 0
			}
			emit(models.NewMaxIterationsEvent(last))
			return
		}
		if ctx.Err() != nil {
			turn.Finish(models.TurnError)
			emit(models.NewErrorEvent(turnIndex, ctx.Err().Error()))
			return
		}

		snapshot := a.history.Snapshot()
		if a.recorder != nil {
			for _, msg := range snapshot[recordedUpTo:] {
				a.recorder.InputMessage(msg)
			}
			recordedUpTo = len(snapshot)
		}

		stream, err := a.client.StreamResponse(ctx, &llm.Request{
			Messages: snapshot,
			Tools:    a.registry.Definitions(a.cfg.ModelConfig.Provider),
		})
		if err != nil {
			turn.Finish(models.TurnError)
			emit(models.NewErrorEvent(turnIndex, err.Error()))
			return
		}

		state := a.consumeStream(ctx, stream, turnIndex, turn, events)
		if state == nil {
			return
		}

		if state.errMsg != "" || !state.completed {
			// Partial assistant text streamed before the failure stays in
			// history.
			if state.text.Len() > 0 {
				a.history.Append(models.AssistantMessage(state.text.String(), nil))
			}
			msg := state.errMsg
			if msg == "" {
				msg = "provider stream ended without completion"
			}
			turn.Finish(models.TurnError)
			emit(models.NewErrorEvent(turnIndex, msg))
			return
		}

		if !state.usageSeen && a.stats != nil {
			a.stats.AddEstimated(state.text.String())
		}

		a.history.Extend(state.reasoning)

		if len(state.calls) == 0 {
			a.history.Append(models.AssistantMessage(state.text.String(), nil))
			turn.Finish(models.TurnCompleted)
			emit(models.NewTaskCompleteEvent(turnIndex))
			return
		}

		a.history.Append(models.AssistantMessage(state.text.String(), state.calls))

		if iterations >= a.cfg.MaxIterations {
			a.logger.Warn("iteration budget exhausted", "iterations", iterations)
			// The announced calls must still be answered: the history outlives
			// this task, and both wire dialects reject an assistant tool-call
			// item with no matching tool result on the next request.
			for _, call := range state.calls {
				a.history.Append(models.ToolMessage(call.ID, "skipped: iteration budget exhausted"))
			}
			turn.Finish(models.TurnMaxIterations)
			emit(models.NewMaxIterationsEvent(turnIndex))
			return
		}

		if !a.runToolCalls(ctx, turnIndex, state.calls, events) {
			turn.Finish(models.TurnError)
			emit(models.NewErrorEvent(turnIndex, "cancelled"))
			return
		}
		iterations++
		turn.Iterations = iterations

		if !emit(models.NewTurnCompleteEvent(turnIndex)) {
			return
		}
	}
}

// consumeStream drains one provider stream into a turnState. A nil return
// means the event consumer is gone and the task must stop silently.
func (a *Agent) consumeStream(ctx context.Context, stream <-chan llm.ResponseEvent, turnIndex int, turn *models.Turn, events chan<- models.AgentEvent) *turnState {
	emit := func(ev models.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	state := &turnState{}
	for ev := range stream {
		if a.recorder != nil {
			a.recorder.ResponseFrame(ev)
		}

		switch ev.Type {
		case llm.EventCreated:
			if !emit(models.NewStreamStartEvent(turnIndex)) {
				return nil
			}

		case llm.EventOutputTextDelta:
			state.text.WriteString(ev.Delta)
			if !emit(models.NewLLMChunkEvent(turnIndex, ev.Delta)) {
				return nil
			}

		case llm.EventReasoningTextDelta, llm.EventReasoningSummaryDelta:
			if !emit(models.NewReasoningChunkEvent(turnIndex, ev.Delta)) {
				return nil
			}

		case llm.EventToolCallDelta:
			// Argument assembly is the adapter's job; deltas are not
			// surfaced to the UI.

		case llm.EventToolCallReady:
			if ev.ToolCall != nil {
				state.calls = append(state.calls, models.ToolCall{
					ID:        ev.ToolCall.CallID,
					Name:      ev.ToolCall.Name,
					Kind:      ev.ToolCall.Kind,
					Arguments: ev.ToolCall.Arguments,
					Input:     ev.ToolCall.Input,
				})
			}

		case llm.EventOutputItemDone:
			if item := ev.Item; item != nil && item["type"] == "reasoning" {
				msg := models.Message{Role: models.RoleReasoning}
				if id, ok := item["id"].(string); ok {
					msg.ReasoningID = id
				}
				if summary, ok := item["summary"].([]string); ok {
					msg.Summary = summary
				}
				if encrypted, ok := item["encrypted"].(string); ok {
					msg.Encrypted = encrypted
				}
				state.reasoning = append(state.reasoning, msg)
			}

		case llm.EventTokenUsage:
			if ev.Usage != nil {
				state.usageSeen = true
				turn.TotalTokens += ev.Usage.Total()
				if a.stats != nil {
					a.stats.AddUsage(*ev.Usage)
				}
				if !emit(models.NewTurnTokenUsageEvent(turnIndex, ev.Usage.Total())) {
					return nil
				}
			}

		case llm.EventCompleted:
			state.completed = true
			if ev.Usage != nil && !state.usageSeen {
				state.usageSeen = true
				turn.TotalTokens += ev.Usage.Total()
				if a.stats != nil {
					a.stats.AddUsage(*ev.Usage)
				}
				if !emit(models.NewTurnTokenUsageEvent(turnIndex, ev.Usage.Total())) {
					return nil
				}
			}

		case llm.EventError:
			state.errMsg = ev.Message

		case llm.EventRateLimits, llm.EventWebSearchBegin:
			// Non-semantic provider extras.
		}
	}
	return state
}

// runToolCalls executes the calls announced in one turn, appending results
// to history and emitting tool events. Returns false on cancellation.
func (a *Agent) runToolCalls(ctx context.Context, turnIndex int, calls []models.ToolCall, events chan<- models.AgentEvent) bool {
	emit := func(ev models.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if a.cfg.ParallelToolCalls && len(calls) > 1 {
		return a.runToolCallsParallel(ctx, turnIndex, calls, events)
	}

	for _, call := range calls {
		if !emit(models.NewToolCallEvent(turnIndex, call)) {
			return false
		}
		result, dispatchable := a.dispatchOne(ctx, turnIndex, call, events)
		if result == nil {
			return false
		}
		a.history.Append(models.ToolMessage(call.ID, result.Content))
		if dispatchable {
			if !emit(models.NewToolResultEvent(turnIndex, call, *result)) {
				return false
			}
		}
	}
	return true
}

// dispatchOne runs the sub-procedure for one call: lookup, confirmation,
// execution. A nil result means cancellation. dispatchable is false when the
// tool could not be dispatched at all (unknown name), in which case the
// tool_error event has already been emitted.
func (a *Agent) dispatchOne(ctx context.Context, turnIndex int, call models.ToolCall, events chan<- models.AgentEvent) (result *models.ToolResult, dispatchable bool) {
	emit := func(ev models.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	tool, err := a.registry.Get(call.Name)
	if err != nil {
		a.logger.Warn("tool not found", "tool", call.Name, "call_id", call.ID)
		if !emit(models.NewToolErrorEvent(turnIndex, call, err.Error())) {
			return nil, false
		}
		return &models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}, false
	}

	if details := tool.ConfirmationDetails(callArgs(call)); details != nil {
		if !emit(models.NewWaitingForUserEvent(turnIndex, details.Title)) {
			return nil, false
		}
		ok, err := a.confirmer.ConfirmToolCall(ctx, call, details)
		if err != nil {
			return nil, false
		}
		if !ok {
			return &models.ToolResult{ToolCallID: call.ID, Content: "rejected by user", IsError: true}, true
		}
	}

	r := a.executor.ExecuteOne(ctx, call)
	if ctx.Err() != nil {
		return nil, false
	}
	return &r, true
}

// runToolCallsParallel confirms every call first, then executes approved
// calls concurrently through the executor. Results are appended in the order
// the executor returns them; correlation is by call id.
func (a *Agent) runToolCallsParallel(ctx context.Context, turnIndex int, calls []models.ToolCall, events chan<- models.AgentEvent) bool {
	emit := func(ev models.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	type decision struct {
		call     models.ToolCall
		rejected *models.ToolResult
		missing  bool
	}
	decisions := make([]decision, 0, len(calls))
	var approved []models.ToolCall

	for _, call := range calls {
		if !emit(models.NewToolCallEvent(turnIndex, call)) {
			return false
		}
		tool, err := a.registry.Get(call.Name)
		if err != nil {
			if !emit(models.NewToolErrorEvent(turnIndex, call, err.Error())) {
				return false
			}
			decisions = append(decisions, decision{call: call, missing: true,
				rejected: &models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}})
			continue
		}
		if details := tool.ConfirmationDetails(callArgs(call)); details != nil {
			if !emit(models.NewWaitingForUserEvent(turnIndex, details.Title)) {
				return false
			}
			ok, err := a.confirmer.ConfirmToolCall(ctx, call, details)
			if err != nil {
				return false
			}
			if !ok {
				decisions = append(decisions, decision{call: call,
					rejected: &models.ToolResult{ToolCallID: call.ID, Content: "rejected by user", IsError: true}})
				continue
			}
		}
		decisions = append(decisions, decision{call: call})
		approved = append(approved, call)
	}

	results := a.executor.ExecuteAll(ctx, approved)
	if ctx.Err() != nil {
		return false
	}
	byID := make(map[string]models.ToolResult, len(results))
	for _, r := range results {
		byID[r.ToolCallID] = r
	}

	for _, d := range decisions {
		var result models.ToolResult
		if d.rejected != nil {
			result = *d.rejected
		} else {
			result = byID[d.call.ID]
		}
		a.history.Append(models.ToolMessage(d.call.ID, result.Content))
		if d.missing {
			continue
		}
		if !emit(models.NewToolResultEvent(turnIndex, d.call, result)) {
			return false
		}
	}
	return true
}

// callArgs yields the JSON arguments for confirmation panels.
func callArgs(call models.ToolCall) []byte {
	if call.Kind == models.ToolCallCustom {
		return call.WireArguments()
	}
	return call.Arguments
}
