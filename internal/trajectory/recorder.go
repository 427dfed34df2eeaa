// Package trajectory appends per-session records of provider inputs and
// outputs as JSON lines for offline replay and debugging.
package trajectory

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/pkg/models"
)

// Record is one JSONL line. Kind discriminates; the payload fields are
// kind-specific.
type Record struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`

	// task_start
	Task          string `json:"task,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`

	// message
	Message *models.Message `json:"message,omitempty"`

	// response_frame
	Frame *llm.ResponseEvent `json:"frame,omitempty"`
}

// Recorder appends records to a per-session file. Write failures are logged
// and dropped; recording never fails the agent.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	failed bool
}

// Dir returns the trajectory directory under PYWEN_HOME.
func Dir(pywenHome string) string {
	return filepath.Join(pywenHome, "trajectories")
}

// NewRecorder opens (creating if needed) the append-only trajectory file for
// a session. On failure a disabled recorder is returned; the error is logged
// once and all writes become no-ops.
func NewRecorder(pywenHome, sessionID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default().With("component", "trajectory")
	}
	r := &Recorder{logger: logger}

	dir := Dir(pywenHome)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("trajectory disabled", "error", err)
		r.failed = true
		return r
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("trajectory disabled", "path", path, "error", err)
		r.failed = true
		return r
	}
	r.file = file
	return r
}

// TaskStart records the beginning of a task with its execution profile.
func (r *Recorder) TaskStart(task, provider, model string, maxIterations int) {
	r.append(Record{
		Kind:          "task_start",
		Time:          time.Now().UTC(),
		Task:          task,
		Provider:      provider,
		Model:         model,
		MaxIterations: maxIterations,
	})
}

// InputMessage records one message sent to the provider.
func (r *Recorder) InputMessage(msg models.Message) {
	r.append(Record{Kind: "message", Time: time.Now().UTC(), Message: &msg})
}

// ResponseFrame records one normalized provider stream event.
func (r *Recorder) ResponseFrame(ev llm.ResponseEvent) {
	r.append(Record{Kind: "response_frame", Time: time.Now().UTC(), Frame: &ev})
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Recorder) append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("trajectory record not serializable", "kind", rec.Kind, "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		if !r.failed {
			r.logger.Warn("trajectory write failed", "error", err)
			r.failed = true
		}
	}
}
