package trajectory

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pywen-ai/pywen/internal/llm"
	"github.com/pywen-ai/pywen/pkg/models"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trajectory: %v", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad JSONL line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	return records
}

func TestRecorderAppendsJSONL(t *testing.T) {
	home := t.TempDir()
	r := NewRecorder(home, "sess-1", nil)

	r.TaskStart("fix the bug", "openai", "gpt-4o", 10)
	r.InputMessage(models.UserMessage("fix the bug"))
	r.ResponseFrame(llm.TextDelta("working"))
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readRecords(t, filepath.Join(Dir(home), "sess-1.jsonl"))
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Kind != "task_start" || records[0].Task != "fix the bug" || records[0].Model != "gpt-4o" {
		t.Errorf("task_start = %+v", records[0])
	}
	if records[1].Kind != "message" || records[1].Message == nil || records[1].Message.Content != "fix the bug" {
		t.Errorf("message = %+v", records[1])
	}
	if records[2].Kind != "response_frame" || records[2].Frame == nil || records[2].Frame.Delta != "working" {
		t.Errorf("response_frame = %+v", records[2])
	}
}

func TestRecorderAppendsAcrossReopens(t *testing.T) {
	home := t.TempDir()

	r1 := NewRecorder(home, "sess-2", nil)
	r1.TaskStart("first", "openai", "gpt-4o", 10)
	r1.Close()

	r2 := NewRecorder(home, "sess-2", nil)
	r2.TaskStart("second", "openai", "gpt-4o", 10)
	r2.Close()

	records := readRecords(t, filepath.Join(Dir(home), "sess-2.jsonl"))
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (append-only)", len(records))
	}
	if records[0].Task != "first" || records[1].Task != "second" {
		t.Errorf("records = %+v", records)
	}
}

func TestRecorderDisabledOnOpenFailure(t *testing.T) {
	// A file where the trajectory directory should be makes MkdirAll fail.
	home := t.TempDir()
	if err := os.WriteFile(Dir(home), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(home, "sess-3", nil)
	// Writes must be silent no-ops.
	r.TaskStart("task", "openai", "gpt-4o", 10)
	r.InputMessage(models.UserMessage("x"))
	if err := r.Close(); err != nil {
		t.Errorf("Close on disabled recorder: %v", err)
	}
}

func TestRecorderWriteAfterClose(t *testing.T) {
	home := t.TempDir()
	r := NewRecorder(home, "sess-4", nil)
	r.Close()
	// Must not panic or recreate the file handle.
	r.ResponseFrame(llm.Completed(nil))

	records := readRecords(t, filepath.Join(Dir(home), "sess-4.jsonl"))
	if len(records) != 0 {
		t.Errorf("got %d records after close, want 0", len(records))
	}
}
