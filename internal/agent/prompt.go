package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pywen-ai/pywen/internal/config"
	"github.com/pywen-ai/pywen/internal/skills"
)

// maxStyleWalkHops caps the PYWEN.md ancestor walk.
const maxStyleWalkHops = 512

// ComposeSystemPrompt builds the system prompt for an agent profile: base
// prompt, PYWEN.md style material, runtime environment, sandbox and git
// descriptors, and the discovered-skills listing. When PYWEN_WRITE_SYSTEM_MD
// is set, the composed text is written back to the resolved path.
func ComposeSystemPrompt(agentType string, discovered []skills.Skill) string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	sections := []string{
		basePrompt(agentType),
	}
	if style := stylePrompt(cwd); style != "" {
		sections = append(sections, style)
	}
	sections = append(sections, runtimeBlock(), sandboxBlock())
	if git := gitBlock(cwd); git != "" {
		sections = append(sections, git)
	}
	if section := skills.PromptSection(discovered); section != "" {
		sections = append(sections, section)
	}
	sections = append(sections, fmt.Sprintf("The current working directory is %s.", cwd))

	composed := strings.Join(sections, "\n\n")
	maybeWriteBack(agentType, composed)
	return composed
}

// basePrompt returns the external system prompt when configured, otherwise
// the built-in prompt for the profile.
//
// The override variable (PYWEN_SYSTEM_MD, or PYWEN_CODEX_SYSTEM_MD for the
// codex profile) is interpreted as: 0/false disables external loading,
// 1/true loads $PYWEN_HOME/system.md, anything else is a path.
func basePrompt(agentType string) string {
	if path := resolveSystemMDPath(agentType); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
		slog.Default().Warn("external system prompt not readable, using builtin", "path", path)
	}
	return builtinPrompt(agentType)
}

func overrideVar(agentType string) string {
	if agentType == "codex" {
		return "PYWEN_CODEX_SYSTEM_MD"
	}
	return "PYWEN_SYSTEM_MD"
}

func resolveSystemMDPath(agentType string) string {
	val := os.Getenv(overrideVar(agentType))
	switch strings.ToLower(val) {
	case "", "0", "false":
		return ""
	case "1", "true":
		return filepath.Join(config.PywenHome(), "system.md")
	default:
		return val
	}
}

func maybeWriteBack(agentType, composed string) {
	val := os.Getenv("PYWEN_WRITE_SYSTEM_MD")
	var path string
	switch strings.ToLower(val) {
	case "", "0", "false":
		return
	case "1", "true":
		path = resolveSystemMDPath(agentType)
		if path == "" {
			path = filepath.Join(config.PywenHome(), "system.md")
		}
	default:
		path = val
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if err := os.WriteFile(path, []byte(composed+"\n"), 0o644); err != nil {
			slog.Default().Warn("failed to write system prompt", "path", path, "error", err)
		}
	}
}

func builtinPrompt(agentType string) string {
	switch agentType {
	case "codex":
		return `You are a coding agent running in a terminal. Work autonomously on the
user's task: read the relevant files before editing, keep changes minimal
and consistent with the surrounding code, and verify your work when a
verification path exists. Use the provided tools for every interaction with
the machine; never fabricate file contents or command output.`
	case "claudecode":
		return `You are an interactive coding assistant operating in the user's terminal.
Be concise and direct. Prefer reading code over guessing about it. When a
task requires running commands or editing files, use the provided tools and
report what actually happened, including failures. Use the think tool to
reason through multi-step problems before acting.`
	default:
		return `You are Pywen, a terminal-resident software engineering assistant. You
help with coding tasks: answering questions, writing and refactoring code,
running commands, and applying patches. Use the provided tools for any
action against the workspace, ask for nothing the tools can tell you, and
keep responses focused on the task.`
	}
}

// stylePrompt concatenates every PYWEN.md found walking from cwd toward the
// filesystem root, outermost first, capped at maxStyleWalkHops hops.
func stylePrompt(cwd string) string {
	var found []string
	dir := cwd
	for hop := 0; hop < maxStyleWalkHops; hop++ {
		path := filepath.Join(dir, "PYWEN.md")
		if data, err := os.ReadFile(path); err == nil {
			found = append(found, strings.TrimSpace(string(data)))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if len(found) == 0 {
		return ""
	}
	// Root-first: reverse the inner-first collection order.
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return "# Project instructions\n\n" + strings.Join(found, "\n\n")
}

func runtimeBlock() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "unknown"
	}
	return fmt.Sprintf("# Environment\n\nOS: %s\nArchitecture: %s\nRuntime: %s\nShell: %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(), shell)
}

func sandboxBlock() string {
	switch sandbox := os.Getenv("SANDBOX"); {
	case sandbox == "":
		return "# Sandbox\n\nNo sandbox is active. Commands run with the user's full permissions; be careful with destructive operations."
	case sandbox == "sandbox-exec":
		return "# Sandbox\n\nCommands run under macOS seatbelt (sandbox-exec): writes are restricted to the working directory and temporary directories, and outbound network access is blocked unless explicitly allowed."
	default:
		return "# Sandbox\n\nCommands run inside a sandbox: writes outside the working directory may fail and network access may be restricted. Failures caused by the sandbox should be reported, not worked around."
	}
}

// gitBlock describes the enclosing git repository, when there is one.
func gitBlock(cwd string) string {
	root := findGitRoot(cwd)
	if root == "" {
		return ""
	}
	branch := gitBranch(root)
	if branch != "" {
		return fmt.Sprintf("# Git\n\nThis directory is inside a git repository rooted at %s (branch %s).", root, branch)
	}
	return fmt.Sprintf("# Git\n\nThis directory is inside a git repository rooted at %s.", root)
}

func findGitRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func gitBranch(root string) string {
	data, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	if rest, ok := strings.CutPrefix(head, "ref: refs/heads/"); ok {
		return rest
	}
	return ""
}
