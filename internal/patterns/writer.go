package patterns

import (
	"fmt"
	"os"
	"strings"
)

// Kind selects which rule file an edit targets.
type Kind string

const (
	KindWatch  Kind = "watch"
	KindIgnore Kind = "ignore"
)

func (m *Matcher) fileFor(kind Kind) (string, error) {
	switch kind {
	case KindWatch:
		return m.watch.path, nil
	case KindIgnore:
		return m.ignore.path, nil
	default:
		return "", fmt.Errorf("unknown pattern kind %q", kind)
	}
}

// AddPattern appends a pattern line to the watch or ignore file,
// creating the file if needed. Duplicate lines are rejected.
func (m *Matcher) AddPattern(kind Kind, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("empty pattern")
	}
	if err := Validate(line); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", line, err)
	}
	path, err := m.fileFor(kind)
	if err != nil {
		return err
	}

	existing, _ := os.ReadFile(path)
	for _, l := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(l) == line {
			return fmt.Errorf("pattern %q already present", line)
		}
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	m.Reload()
	return nil
}

// RemovePattern deletes a pattern line from the watch or ignore file.
func (m *Matcher) RemovePattern(kind Kind, line string) error {
	line = strings.TrimSpace(line)
	path, err := m.fileFor(kind)
	if err != nil {
		return err
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var kept []string
	found := false
	for _, l := range strings.Split(strings.TrimRight(string(existing), "\n"), "\n") {
		if strings.TrimSpace(l) == line {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return fmt.Errorf("pattern %q not found", line)
	}

	content := strings.Join(kept, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	m.Reload()
	return nil
}
