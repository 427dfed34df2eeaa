package skills

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed bundled
var bundledSkills embed.FS

const (
	// markerFilename holds the installed fingerprint at the cache root.
	markerFilename = ".pywen-system-skills.marker"

	// fingerprintSalt versions the fingerprint scheme itself.
	fingerprintSalt = "v1"
)

// SystemCacheDir returns the system-skills cache root under PYWEN_HOME.
func SystemCacheDir(pywenHome string) string {
	return filepath.Join(pywenHome, "skills", ".system")
}

// InstallSystemSkills syncs the bundled skills into the cache. The bundled
// tree is fingerprinted and compared with the marker file; on mismatch the
// cache is wiped and re-copied, then the marker is rewritten. A matching
// marker makes this a no-op.
func InstallSystemSkills(pywenHome string) error {
	src, err := fs.Sub(bundledSkills, "bundled")
	if err != nil {
		return fmt.Errorf("skills: bundled tree: %w", err)
	}
	return installFrom(src, SystemCacheDir(pywenHome))
}

func installFrom(src fs.FS, cacheDir string) error {
	want, err := Fingerprint(src)
	if err != nil {
		return fmt.Errorf("skills: fingerprint: %w", err)
	}

	markerPath := filepath.Join(cacheDir, markerFilename)
	if data, err := os.ReadFile(markerPath); err == nil {
		if strings.TrimSpace(string(data)) == want {
			return nil
		}
	}

	if err := os.RemoveAll(cacheDir); err != nil {
		return fmt.Errorf("skills: wipe cache: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("skills: create cache: %w", err)
	}

	err = fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		dst := filepath.Join(cacheDir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := fs.ReadFile(src, path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("skills: copy bundled tree: %w", err)
	}

	if err := os.WriteFile(markerPath, []byte(want+"\n"), 0o644); err != nil {
		return fmt.Errorf("skills: write marker: %w", err)
	}
	return nil
}

// Fingerprint computes the SHA-256 digest of a skill tree: the salt, then
// every regular file's slash-separated relative path and content hash in
// sorted path order.
func Fingerprint(src fs.FS) (string, error) {
	var paths []string
	err := fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := sha256.New()
	io.WriteString(h, fingerprintSalt)
	for _, path := range paths {
		data, err := fs.ReadFile(src, path)
		if err != nil {
			return "", err
		}
		content := sha256.Sum256(data)
		io.WriteString(h, "\x00"+path+"\x00")
		h.Write(content[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
