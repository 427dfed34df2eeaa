package skills

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestInjectLoadsReferencedBodies(t *testing.T) {
	home := t.TempDir()
	path := writeSkill(t, filepath.Join(home, "one"), "one", "first")
	discovered := []Skill{{Name: "one", Description: "first", Path: path, Scope: ScopeUser}}

	out := Inject([]Reference{{Name: "one"}}, discovered, nil)
	if !strings.Contains(out, "## Skill: one") {
		t.Errorf("missing section header: %q", out)
	}
	if !strings.Contains(out, "name: one") {
		t.Errorf("missing skill body: %q", out)
	}
}

func TestInjectSkipsUnknownAndUnreadable(t *testing.T) {
	home := t.TempDir()
	path := writeSkill(t, filepath.Join(home, "real"), "real", "exists")
	discovered := []Skill{
		{Name: "real", Path: path, Scope: ScopeUser},
		{Name: "gone", Path: filepath.Join(home, "gone", SkillFilename), Scope: ScopeUser},
	}

	out := Inject([]Reference{
		{Name: "real"},
		{Name: "gone"},
		{Name: "never-discovered"},
	}, discovered, nil)

	if !strings.Contains(out, "## Skill: real") {
		t.Errorf("readable skill missing: %q", out)
	}
	if strings.Contains(out, "gone") || strings.Contains(out, "never-discovered") {
		t.Errorf("unreadable or unknown skill injected: %q", out)
	}
}

func TestInjectEmptyReferences(t *testing.T) {
	if out := Inject(nil, []Skill{{Name: "x"}}, nil); out != "" {
		t.Errorf("Inject(nil refs) = %q, want empty", out)
	}
}

func TestPromptSection(t *testing.T) {
	if out := PromptSection(nil); out != "" {
		t.Errorf("PromptSection(nil) = %q, want empty", out)
	}

	out := PromptSection([]Skill{
		{Name: "a", Description: "long form", ShortDescription: "short form"},
		{Name: "b", Description: "only long"},
	})
	if !strings.Contains(out, "- a: short form") {
		t.Errorf("short description not preferred: %q", out)
	}
	if !strings.Contains(out, "- b: only long") {
		t.Errorf("description fallback missing: %q", out)
	}
}
