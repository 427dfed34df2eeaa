package skills

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// adminSkillsDir is the POSIX machine-wide skill root.
const adminSkillsDir = "/etc/pywen/skills"

// root is one discovery root with its scope.
type root struct {
	dir   string
	scope Scope
}

// Loader discovers skills across the scoped roots.
type Loader struct {
	cwd       string
	pywenHome string
}

// NewLoader builds a loader for the working directory and PYWEN_HOME.
func NewLoader(cwd, pywenHome string) *Loader {
	return &Loader{cwd: cwd, pywenHome: pywenHome}
}

// Discover walks the roots in priority order (repo, user, system, admin),
// dedups by name keeping the first occurrence, and sorts by (name, path).
// Parse and walk problems are collected, not fatal; under the system scope
// they are silently skipped since that root is machine-managed.
func (l *Loader) Discover() ([]Skill, []error) {
	var skills []Skill
	var problems []error

	for _, r := range l.roots() {
		found, errs := scanRoot(r)
		skills = append(skills, found...)
		if r.scope != ScopeSystem {
			problems = append(problems, errs...)
		}
	}

	seen := make(map[string]bool, len(skills))
	deduped := skills[:0]
	for _, s := range skills {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		deduped = append(deduped, s)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Name != deduped[j].Name {
			return deduped[i].Name < deduped[j].Name
		}
		return deduped[i].Path < deduped[j].Path
	})
	return deduped, problems
}

func (l *Loader) roots() []root {
	var roots []root
	if repo := l.repoSkillsDir(); repo != "" {
		roots = append(roots, root{dir: repo, scope: ScopeRepo})
	}
	roots = append(roots,
		root{dir: filepath.Join(l.pywenHome, "skills"), scope: ScopeUser},
		root{dir: SystemCacheDir(l.pywenHome), scope: ScopeSystem},
	)
	if runtime.GOOS != "windows" {
		roots = append(roots, root{dir: adminSkillsDir, scope: ScopeAdmin})
	}
	return roots
}

// repoSkillsDir finds the nearest ancestor <dir>/.pywen/skills, never
// walking past the enclosing git root.
func (l *Loader) repoSkillsDir() string {
	gitRoot := findGitRoot(l.cwd)
	dir := l.cwd
	for {
		candidate := filepath.Join(dir, ".pywen", "skills")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		if gitRoot != "" && dir == gitRoot {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		if gitRoot == "" {
			// Outside a git repo only the working directory is searched.
			return ""
		}
		dir = parent
	}
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

// scanRoot breadth-first scans a root for SKILL.md files, skipping hidden
// entries and symlinks.
func scanRoot(r root) ([]Skill, []error) {
	if info, err := os.Stat(r.dir); err != nil || !info.IsDir() {
		return nil, nil
	}

	var skills []Skill
	var problems []error

	queue := []string{r.dir}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			problems = append(problems, fmt.Errorf("read %s: %w", dir, err))
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if len(name) > 0 && name[0] == '.' {
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			path := filepath.Join(dir, name)
			if entry.IsDir() {
				queue = append(queue, path)
				continue
			}
			if name != SkillFilename {
				continue
			}
			skill, err := ParseSkillFile(path, r.scope)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", path, err))
				continue
			}
			skills = append(skills, *skill)
		}
	}
	return skills, problems
}
