// Package session tracks process-wide usage statistics: the active agent
// profile, tasks started, and tokens consumed across turns.
package session

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pywen-ai/pywen/pkg/models"
)

// Stats is the process-wide session accounting object. A single instance is
// initialized at startup; tests construct their own.
type Stats struct {
	sessionID string

	mu        sync.RWMutex
	agentType string

	tasksStarted atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	totalTokens  atomic.Int64
}

var (
	globalMu sync.Mutex
	global   *Stats
)

// Init installs the process-wide stats object. Calling Init twice replaces
// the previous instance.
func Init(sessionID, agentType string) *Stats {
	s := New(sessionID, agentType)
	globalMu.Lock()
	global = s
	globalMu.Unlock()
	return s
}

// Shutdown clears the process-wide stats object.
func Shutdown() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}

// Current returns the process-wide stats object, or nil before Init.
func Current() *Stats {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// New builds a stats object without installing it globally.
func New(sessionID, agentType string) *Stats {
	return &Stats{sessionID: sessionID, agentType: agentType}
}

// SessionID returns the session identifier.
func (s *Stats) SessionID() string {
	return s.sessionID
}

// AgentType returns the active agent profile.
func (s *Stats) AgentType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentType
}

// SetAgentType records a profile switch.
func (s *Stats) SetAgentType(agentType string) {
	s.mu.Lock()
	s.agentType = agentType
	s.mu.Unlock()
}

// TaskStarted increments the task counter.
func (s *Stats) TaskStarted() {
	s.tasksStarted.Add(1)
}

// TasksStarted returns the number of tasks started this session.
func (s *Stats) TasksStarted() int64 {
	return s.tasksStarted.Load()
}

// AddUsage accumulates provider-reported token usage.
func (s *Stats) AddUsage(usage models.TokenUsage) {
	s.inputTokens.Add(int64(usage.InputTokens))
	s.outputTokens.Add(int64(usage.OutputTokens))
	s.totalTokens.Add(int64(usage.Total()))
}

// AddEstimated accumulates the fallback heuristic for text with no reported
// usage.
func (s *Stats) AddEstimated(text string) {
	n := int64(EstimateTokens(text))
	s.outputTokens.Add(n)
	s.totalTokens.Add(n)
}

// TokensUsed returns the cumulative token count.
func (s *Stats) TokensUsed() int64 {
	return s.totalTokens.Load()
}

// InputTokens returns the cumulative input token count.
func (s *Stats) InputTokens() int64 {
	return s.inputTokens.Load()
}

// OutputTokens returns the cumulative output token count.
func (s *Stats) OutputTokens() int64 {
	return s.outputTokens.Load()
}

// EstimateTokens is the character-based fallback, roughly four characters
// per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// defaultTokenLimit is assumed for models absent from the table.
const defaultTokenLimit = 128_000

// tokenLimits maps model-name fragments to context-window sizes, checked in
// order so more specific fragments win.
var tokenLimits = []struct {
	fragment string
	limit    int
}{
	{"gpt-4o", 128_000},
	{"gpt-4.1", 1_000_000},
	{"gpt-5", 400_000},
	{"o3", 200_000},
	{"o4-mini", 200_000},
	{"claude", 200_000},
	{"qwen3-coder", 262_144},
	{"qwen", 131_072},
	{"deepseek", 131_072},
	{"gemini-2.5", 1_048_576},
}

// TokenLimit returns the context-window size for a model name.
func TokenLimit(model string) int {
	lower := strings.ToLower(model)
	for _, entry := range tokenLimits {
		if strings.Contains(lower, entry.fragment) {
			return entry.limit
		}
	}
	return defaultTokenLimit
}

// WindowRemaining reports how much of the model's context window is left
// after the session's cumulative usage.
func (s *Stats) WindowRemaining(model string) int {
	remaining := TokenLimit(model) - int(s.TokensUsed())
	if remaining < 0 {
		return 0
	}
	return remaining
}
