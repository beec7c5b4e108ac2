package playbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectDir is the runner's project directory inside the private data dir.
	ProjectDir = "project"

	timestampLayout = "20060102_150405"

	// maxCollisionSuffix bounds the search for a free filename.
	maxCollisionSuffix = 100
)

// Filename derives {agent}-{type}-{YYYYMMDD_HHMMSS}.yml. Characters that
// would escape the project directory are replaced.
func Filename(agent, alertType string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s.yml", sanitize(agent), sanitize(alertType), at.Format(timestampLayout))
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == ' ':
			return r
		default:
			return '_'
		}
	}, s)
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

// Writer persists playbooks into the runner's project directory. Files are
// never overwritten: when the derived name is taken, a numeric suffix is added.
type Writer struct {
	dir string
}

// NewWriter creates a Writer for privateDataDir/project.
func NewWriter(privateDataDir string) *Writer {
	return &Writer{dir: filepath.Join(privateDataDir, ProjectDir)}
}

// Dir returns the project directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores content under name, or name with a _N suffix if name exists.
// It returns the filename actually used and its full path.
func (w *Writer) Write(name string, content []byte) (string, string, error) {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create project dir: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 2; i <= maxCollisionSuffix+1; i++ {
		path := filepath.Join(w.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // name is sanitized by Filename
		if errors.Is(err, fs.ErrExist) {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create playbook file: %w", err)
		}
		if _, err := f.Write(content); err != nil {
			_ = f.Close()
			return "", "", fmt.Errorf("write playbook file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", "", fmt.Errorf("close playbook file: %w", err)
		}
		return candidate, path, nil
	}
	return "", "", fmt.Errorf("no free filename for %s after %d attempts", name, maxCollisionSuffix)
}

// CheckYAML reports whether content parses as an Ansible playbook: a
// non-empty YAML sequence of plays, each with hosts or import_playbook.
func CheckYAML(content string) error {
	var plays []map[string]any
	if err := yaml.Unmarshal([]byte(content), &plays); err != nil {
		return fmt.Errorf("not a YAML list of plays: %w", err)
	}
	if len(plays) == 0 {
		return errors.New("playbook has no plays")
	}
	for i, play := range plays {
		_, hosts := play["hosts"]
		_, imported := play["import_playbook"]
		if !hosts && !imported {
			return fmt.Errorf("play %d has neither hosts nor import_playbook", i+1)
		}
	}
	return nil
}
