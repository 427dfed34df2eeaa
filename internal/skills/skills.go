// Package skills discovers SKILL.md documents across scoped roots, installs
// the bundled system skills into the user cache, and loads skill bodies for
// injection into the system prompt.
package skills

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	// MaxNameLen bounds the frontmatter name field.
	MaxNameLen = 64

	// MaxDescriptionLen bounds description and short-description fields.
	MaxDescriptionLen = 1024
)

// Scope is the root category a skill was discovered under. Discovery order
// determines dedup priority: repo > user > system > admin.
type Scope string

const (
	ScopeRepo   Scope = "repo"
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
	ScopeAdmin  Scope = "admin"
)

// Skill is one discovered skill document.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// ShortDescription is the optional metadata.short-description field,
	// preferred for prompt listings when present.
	ShortDescription string `json:"short_description,omitempty"`

	// Path is the SKILL.md file path.
	Path string `json:"path"`

	Scope Scope `json:"scope"`
}

// PromptDescription returns the one-line description for prompt listings.
func (s Skill) PromptDescription() string {
	if s.ShortDescription != "" {
		return s.ShortDescription
	}
	return s.Description
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// sanitizeLine collapses a field to a single whitespace-normalized line.
func sanitizeLine(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// frontmatter is the YAML header of a SKILL.md.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metadata    struct {
		ShortDescription string `yaml:"short-description"`
	} `yaml:"metadata"`
}

func (f *frontmatter) validate() error {
	if f.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if len(f.Name) > MaxNameLen {
		return fmt.Errorf("skill name exceeds %d characters", MaxNameLen)
	}
	if f.Description == "" {
		return fmt.Errorf("skill description is required")
	}
	if len(f.Description) > MaxDescriptionLen {
		return fmt.Errorf("skill description exceeds %d characters", MaxDescriptionLen)
	}
	if len(f.Metadata.ShortDescription) > MaxDescriptionLen {
		return fmt.Errorf("skill short-description exceeds %d characters", MaxDescriptionLen)
	}
	return nil
}
