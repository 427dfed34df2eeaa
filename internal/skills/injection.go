package skills

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Reference is an explicit skill mention in a user submission: a typed input
// of kind "skill" with the discovered skill's name and path.
type Reference struct {
	Name string
	Path string
}

// Inject loads the bodies of explicitly referenced skills and returns them
// as extra system material for the turn. References that match no discovered
// skill or whose files cannot be read are logged as warnings and skipped;
// injection never fails the turn.
func Inject(refs []Reference, discovered []Skill, logger *slog.Logger) string {
	if len(refs) == 0 {
		return ""
	}
	if logger == nil {
		logger = slog.Default().With("component", "skills")
	}

	byName := make(map[string]Skill, len(discovered))
	for _, s := range discovered {
		byName[s.Name] = s
	}

	var sections []string
	for _, ref := range refs {
		skill, ok := byName[ref.Name]
		if !ok || (ref.Path != "" && ref.Path != skill.Path) {
			logger.Warn("referenced skill not found", "name", ref.Name, "path", ref.Path)
			continue
		}
		data, err := os.ReadFile(skill.Path)
		if err != nil {
			logger.Warn("failed to read skill", "name", skill.Name, "path", skill.Path, "error", err)
			continue
		}
		sections = append(sections, fmt.Sprintf("## Skill: %s\n\n%s", skill.Name, strings.TrimSpace(string(data))))
	}
	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n")
}

// PromptSection renders the discovered-skills listing for the system prompt:
// one line per skill with its preferred one-line description.
func PromptSection(discovered []Skill) string {
	if len(discovered) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Skills\n\nThe following skills are available. The user may reference them by name.\n\n")
	for _, s := range discovered {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.PromptDescription())
	}
	return strings.TrimRight(b.String(), "\n")
}
