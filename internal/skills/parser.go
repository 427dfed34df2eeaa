package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterDelimiter marks the beginning and end of the YAML header.
const frontmatterDelimiter = "---"

// ParseSkillFile parses a SKILL.md file into a Skill. The scope is assigned
// by the caller during discovery.
func ParseSkillFile(path string, scope Scope) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parseSkill(data, path, scope)
}

func parseSkill(data []byte, path string, scope Scope) (*Skill, error) {
	header, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	fm.Name = sanitizeLine(fm.Name)
	fm.Description = sanitizeLine(fm.Description)
	fm.Metadata.ShortDescription = sanitizeLine(fm.Metadata.ShortDescription)

	if err := fm.validate(); err != nil {
		return nil, err
	}

	return &Skill{
		Name:             fm.Name,
		Description:      fm.Description,
		ShortDescription: fm.Metadata.ShortDescription,
		Path:             path,
		Scope:            scope,
	}, nil
}

// splitFrontmatter returns the YAML header between the --- delimiters.
func splitFrontmatter(data []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var lines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			foundClosing = true
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	if !foundClosing {
		return nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	return []byte(strings.Join(lines, "\n")), nil
}
