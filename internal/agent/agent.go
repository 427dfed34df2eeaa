// Package agent implements the task loop: it drives provider streams,
// dispatches tool calls through confirmation and execution, reinjects
// results into the conversation, and enforces turn and iteration budgets.
package agent

import (
	"context"
	"log/slog"

	"github.com/pywen-ai/pywen/internal/config"
	"github.com/pywen-ai/pywen/internal/history"
	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/internal/session"
	"github.com/pywen-ai/pywen/internal/skills"
	"github.com/pywen-ai/pywen/internal/tools"
	"github.com/pywen-ai/pywen/internal/trajectory"
	"github.com/pywen-ai/pywen/pkg/models"
)

// Confirmer answers the per-call confirmation handshake. Implementations
// block until the user decides; the agent suspends the turn meanwhile.
type Confirmer interface {
	// ConfirmToolCall returns true to run the call. details is nil when the
	// tool declared no confirmation panel; such calls may still be gated by
	// the implementation.
	ConfirmToolCall(ctx context.Context, call models.ToolCall, details *tools.Confirmation) (bool, error)
}

// AutoConfirmer approves every call. Used in one-shot mode and tests.
type AutoConfirmer struct{}

func (AutoConfirmer) ConfirmToolCall(ctx context.Context, call models.ToolCall, details *tools.Confirmation) (bool, error) {
	return true, nil
}

// Agent executes tasks against one conversation. It is not safe for
// concurrent tasks; callers run one task at a time.
type Agent struct {
	agentType string
	cfg       *config.Config
	client    *llm.Client
	registry  *tools.Registry
	executor  *tools.Executor
	history   *history.Conversation
	confirmer Confirmer
	recorder  *trajectory.Recorder
	stats     *session.Stats
	skills    []skills.Skill
	logger    *slog.Logger
}

// Options carries the collaborators for New. Recorder, Stats, and Logger are
// optional; Confirmer defaults to AutoConfirmer.
type Options struct {
	AgentType string
	Config    *config.Config
	Client    *llm.Client
	Registry  *tools.Registry
	Executor  *tools.Executor
	Confirmer Confirmer
	Recorder  *trajectory.Recorder
	Stats     *session.Stats
	Skills    []skills.Skill
	Logger    *slog.Logger

	// SystemPrompt overrides prompt composition when non-empty (tests).
	SystemPrompt string
}

// New builds an agent with a freshly composed system prompt.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "agent")
	}
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = AutoConfirmer{}
	}

	system := opts.SystemPrompt
	if system == "" {
		system = ComposeSystemPrompt(opts.AgentType, opts.Skills)
	}

	return &Agent{
		agentType: opts.AgentType,
		cfg:       opts.Config,
		client:    opts.Client,
		registry:  opts.Registry,
		executor:  opts.Executor,
		history:   history.New(system),
		confirmer: confirmer,
		recorder:  opts.Recorder,
		stats:     opts.Stats,
		skills:    opts.Skills,
		logger:    logger,
	}
}

// History returns a snapshot of the conversation.
func (a *Agent) History() []models.Message {
	return a.history.Snapshot()
}
