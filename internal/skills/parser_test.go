package skills

import (
	"strings"
	"testing"
)

func TestParseSkill(t *testing.T) {
	data := []byte(`---
name: commit-helper
description: Writes commit messages from staged diffs.
metadata:
  short-description: Commit message helper
---

# Commit helper

Body text.
`)
	skill, err := parseSkill(data, "/tmp/SKILL.md", ScopeUser)
	if err != nil {
		t.Fatalf("parseSkill: %v", err)
	}
	if skill.Name != "commit-helper" {
		t.Errorf("name = %q", skill.Name)
	}
	if skill.Description != "Writes commit messages from staged diffs." {
		t.Errorf("description = %q", skill.Description)
	}
	if skill.ShortDescription != "Commit message helper" {
		t.Errorf("short description = %q", skill.ShortDescription)
	}
	if skill.Scope != ScopeUser {
		t.Errorf("scope = %q", skill.Scope)
	}
	if got := skill.PromptDescription(); got != "Commit message helper" {
		t.Errorf("PromptDescription = %q, want the short description", got)
	}
}

func TestParseSkillSanitizesWhitespace(t *testing.T) {
	data := []byte(`---
name: "  spaced   name  "
description: >
  A description
  spread over
  several lines.
---
body
`)
	skill, err := parseSkill(data, "p", ScopeRepo)
	if err != nil {
		t.Fatalf("parseSkill: %v", err)
	}
	if skill.Name != "spaced name" {
		t.Errorf("name = %q, want collapsed whitespace", skill.Name)
	}
	if strings.Contains(skill.Description, "\n") {
		t.Errorf("description contains newline: %q", skill.Description)
	}
}

func TestParseSkillErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"no opening delimiter", "name: x\n"},
		{"no closing delimiter", "---\nname: x\n"},
		{"missing name", "---\ndescription: d\n---\n"},
		{"missing description", "---\nname: x\n---\n"},
		{"name too long", "---\nname: " + strings.Repeat("a", MaxNameLen+1) + "\ndescription: d\n---\n"},
		{"description too long", "---\nname: x\ndescription: " + strings.Repeat("a", MaxDescriptionLen+1) + "\n---\n"},
		{"invalid yaml", "---\nname: [unclosed\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseSkill([]byte(tt.data), "p", ScopeUser); err == nil {
				t.Error("parseSkill succeeded, want error")
			}
		})
	}
}

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"a\tb\nc", "a b c"},
		{"multi   space", "multi space"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeLine(tt.in); got != tt.want {
			t.Errorf("sanitizeLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
