// Command pywen is a terminal-resident coding agent. A subcommand selects
// the agent profile; without --prompt it runs an interactive REPL.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pywen-ai/pywen/internal/agent"
	"github.com/pywen-ai/pywen/internal/config"
	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/internal/llm/provider"
	"github.com/pywen-ai/pywen/internal/logging"
	"github.com/pywen-ai/pywen/internal/session"
	"github.com/pywen-ai/pywen/internal/skills"
	"github.com/pywen-ai/pywen/internal/tools"
	"github.com/pywen-ai/pywen/internal/trajectory"
	"github.com/pywen-ai/pywen/pkg/models"
)

const (
	exitOK       = 0
	exitUser     = 1
	exitProvider = 2
	exitCancel   = 130
)

// exitError carries a process exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func main() {
	var (
		configPath string
		prompt     string
	)

	root := &cobra.Command{
		Use:           "pywen",
		Short:         "Terminal-resident LLM coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd.Context(), "pywen", configPath, prompt)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "pywen_config.json", "path to the config file")
	root.PersistentFlags().StringVar(&prompt, "prompt", "", "run one task non-interactively and exit")

	for _, profile := range []struct {
		name, short string
	}{
		{"codex", "Run with the codex agent profile"},
		{"claudecode", "Run with the claudecode agent profile"},
	} {
		profile := profile
		root.AddCommand(&cobra.Command{
			Use:           profile.name,
			Short:         profile.short,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProfile(cmd.Context(), profile.name, configPath, prompt)
			},
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		os.Exit(exitOK)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "pywen:", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "pywen:", err)
	os.Exit(exitUser)
}

func runProfile(ctx context.Context, agentType, configPath, prompt string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitUser, err: err}
	}

	pywenHome := config.PywenHome()
	logCloser, err := logging.Setup(pywenHome, cfg.SessionID, cfg.LogLevel)
	if err != nil {
		// Logging already fell back to stderr.
		slog.Default().Warn("file logging unavailable", "error", err)
	}
	defer logCloser.Close()
	logger := slog.Default().With("component", "cli", "session", cfg.SessionID)

	stats := session.Init(cfg.SessionID, agentType)
	defer session.Shutdown()

	if err := skills.InstallSystemSkills(pywenHome); err != nil {
		logger.Warn("system skill install failed", "error", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	discovered, problems := skills.NewLoader(cwd, pywenHome).Discover()
	for _, p := range problems {
		logger.Warn("skill discovery", "error", p)
	}

	recorder := trajectory.NewRecorder(pywenHome, cfg.SessionID, logger)
	defer recorder.Close()

	client, err := llm.NewClient(llm.Config{
		Provider:   cfg.ModelConfig.Provider,
		APIKey:     cfg.ModelConfig.APIKey,
		BaseURL:    cfg.ModelConfig.BaseURL,
		Model:      cfg.ModelConfig.Model,
		WireAPI:    llm.WireAPI(cfg.ModelConfig.WireAPI),
		Timeout:    cfg.Timeout(),
		MaxRetries: cfg.MaxRetries,
		MaxTurns:   cfg.MaxTurns,
	}, provider.New)
	if err != nil {
		return &exitError{code: exitProvider, err: err}
	}

	registry, err := tools.NewRegistry()
	if err != nil {
		return &exitError{code: exitUser, err: err}
	}
	executor := tools.NewExecutor(registry)

	interactive := prompt == ""
	var confirmer agent.Confirmer = agent.AutoConfirmer{}
	var stdin *bufio.Reader
	if interactive {
		stdin = bufio.NewReader(os.Stdin)
		confirmer = &terminalConfirmer{in: stdin, out: os.Stdout}
	}

	ag := agent.New(agent.Options{
		AgentType: agentType,
		Config:    cfg,
		Client:    client,
		Registry:  registry,
		Executor:  executor,
		Confirmer: confirmer,
		Recorder:  recorder,
		Stats:     stats,
		Skills:    discovered,
		Logger:    slog.Default().With("component", "agent"),
	})

	if !interactive {
		code := runTask(ctx, ag, agent.Submission{Text: prompt})
		if code != exitOK {
			return &exitError{code: code}
		}
		return nil
	}
	return repl(ctx, ag, stats, cfg, discovered, stdin)
}

// repl reads submissions until EOF or /quit. Slash commands are handled
// locally; everything else becomes a task.
func repl(ctx context.Context, ag *agent.Agent, stats *session.Stats, cfg *config.Config, discovered []skills.Skill, stdin *bufio.Reader) error {
	fmt.Printf("pywen %s (%s) — /help for commands, /quit to exit\n", cfg.ModelConfig.Model, cfg.ModelConfig.Provider)

	for {
		if ctx.Err() != nil {
			return &exitError{code: exitCancel}
		}
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return &exitError{code: exitUser, err: err}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Println("commands: /help, /stats, /skills, /quit")
			continue
		case line == "/stats":
			fmt.Printf("tasks: %d  tokens: %d (in %d, out %d)  window left: %d\n",
				stats.TasksStarted(), stats.TokensUsed(), stats.InputTokens(), stats.OutputTokens(),
				stats.WindowRemaining(cfg.ModelConfig.Model))
			continue
		case line == "/skills":
			if len(discovered) == 0 {
				fmt.Println("no skills discovered")
				continue
			}
			for _, s := range discovered {
				fmt.Printf("%s [%s]: %s\n", s.Name, s.Scope, s.PromptDescription())
			}
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command; /help lists commands")
			continue
		}

		sub := agent.Submission{Text: line, Skills: mentionedSkills(line, discovered)}
		if code := runTask(ctx, ag, sub); code == exitCancel {
			return &exitError{code: exitCancel}
		}
	}
}

// mentionedSkills resolves @name mentions against the discovered set.
func mentionedSkills(text string, discovered []skills.Skill) []skills.Reference {
	byName := make(map[string]skills.Skill, len(discovered))
	for _, s := range discovered {
		byName[s.Name] = s
	}
	var refs []skills.Reference
	seen := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		name, ok := strings.CutPrefix(field, "@")
		if !ok {
			continue
		}
		name = strings.TrimRight(name, ".,;:!?")
		if skill, found := byName[name]; found && !seen[name] {
			seen[name] = true
			refs = append(refs, skills.Reference{Name: skill.Name, Path: skill.Path})
		}
	}
	return refs
}

// runTask drives one task to its terminal event and maps it to an exit code.
func runTask(ctx context.Context, ag *agent.Agent, sub agent.Submission) int {
	streaming := false
	endStream := func() {
		if streaming {
			fmt.Println()
			streaming = false
		}
	}

	for ev := range ag.Run(ctx, sub) {
		switch ev.Type {
		case models.AgentEventLLMChunk:
			streaming = true
			fmt.Print(ev.Text.Content)
		case models.AgentEventReasoningChunk:
			// Reasoning is recorded, not rendered.
		case models.AgentEventToolCall:
			endStream()
			fmt.Printf("[tool] %s %s\n", ev.Tool.Name, compactArgs(ev.Tool.Arguments))
		case models.AgentEventToolResult:
			if ev.Tool.Success {
				fmt.Printf("[tool] %s ok\n", ev.Tool.Name)
			} else {
				fmt.Printf("[tool] %s failed: %s\n", ev.Tool.Name, ev.Tool.Error)
			}
		case models.AgentEventToolError:
			endStream()
			fmt.Printf("[tool] %s: %s\n", ev.Tool.Name, ev.Tool.Error)
		case models.AgentEventTurnTokenUsage:
			// Totals are available via /stats.
		case models.AgentEventWaitingForUser:
			endStream()
		case models.AgentEventTaskComplete:
			endStream()
			return exitOK
		case models.AgentEventMaxIterations:
			endStream()
			fmt.Println("[stopped] iteration budget reached")
			return exitOK
		case models.AgentEventError:
			endStream()
			fmt.Fprintln(os.Stderr, "error:", ev.Error.Message)
			if ctx.Err() != nil {
				return exitCancel
			}
			return exitProvider
		}
	}
	if ctx.Err() != nil {
		return exitCancel
	}
	return exitOK
}

func compactArgs(raw []byte) string {
	s := string(raw)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// terminalConfirmer asks y/N on the controlling terminal for tools that
// request confirmation.
type terminalConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func (c *terminalConfirmer) ConfirmToolCall(ctx context.Context, call models.ToolCall, details *tools.Confirmation) (bool, error) {
	fmt.Fprintf(c.out, "\n%s\n", details.Title)
	if details.Description != "" {
		fmt.Fprintln(c.out, details.Description)
	}
	if details.Command != "" {
		fmt.Fprintf(c.out, "  $ %s\n", details.Command)
	}
	fmt.Fprint(c.out, "Run this tool? [y/N] ")

	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
