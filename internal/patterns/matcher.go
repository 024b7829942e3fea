// Package patterns decides which paths Obby watches and which it ignores.
//
// Rules live in two line-oriented files at the repository root:
// .obbywatch (watch list) and .obbyignore (ignore list). Lines starting
// with '#' are comments, blank lines are skipped, and a trailing '/'
// marks a directory pattern that matches the directory and everything
// beneath it. Both files hot-reload when their mtime changes.
package patterns

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const (
	// WatchFileName is the watch-list rule file at the repository root.
	WatchFileName = ".obbywatch"
	// IgnoreFileName is the ignore-list rule file at the repository root.
	IgnoreFileName = ".obbyignore"
)

// rule is a single compiled pattern line.
type rule struct {
	raw  string
	dir  bool      // trailing '/' in the source line
	rel  glob.Glob // matches the root-relative path, '/' separated
	base glob.Glob // matches the basename
}

// ruleSet holds the compiled rules of one file plus reload bookkeeping.
type ruleSet struct {
	path    string
	mtime   time.Time
	present bool
	rules   []rule
}

// Matcher evaluates watch and ignore rules for paths under a root.
// Reads are lock-free in the common case; reloads take the write lock.
type Matcher struct {
	root string
	log  *slog.Logger

	mu     sync.RWMutex
	watch  ruleSet
	ignore ruleSet
	extra  []rule // config-supplied ignores, unaffected by file reloads
}

// NewMatcher creates a Matcher rooted at dir and performs an initial load.
func NewMatcher(dir string, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	m := &Matcher{
		root:   dir,
		log:    log,
		watch:  ruleSet{path: filepath.Join(dir, WatchFileName)},
		ignore: ruleSet{path: filepath.Join(dir, IgnoreFileName)},
	}
	m.Reload()
	return m
}

// Root returns the repository root the matcher resolves paths against.
func (m *Matcher) Root() string { return m.root }

// HasWatchRules reports whether at least one watch pattern is loaded.
// With no watch patterns the watcher must refuse to start (strict mode).
func (m *Matcher) HasWatchRules() bool {
	m.refresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watch.rules) > 0
}

// ShouldWatch reports whether path matches a watch rule. With no watch
// rules loaded it always returns false.
func (m *Matcher) ShouldWatch(path string) bool {
	m.refresh()
	rel, ok := m.relative(path)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchAny(m.watch.rules, rel)
}

// ShouldIgnore reports whether path matches an ignore rule. The rule
// files themselves are always ignored so they never feed the tracker.
func (m *Matcher) ShouldIgnore(path string) bool {
	m.refresh()
	rel, ok := m.relative(path)
	if !ok {
		return true
	}
	base := filepath.Base(rel)
	if base == WatchFileName || base == IgnoreFileName {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchAny(m.ignore.rules, rel) || matchAny(m.extra, rel)
}

// SetExtraIgnores installs ignore patterns from configuration. They
// supplement the ignore file and survive rule-file reloads; malformed
// patterns are skipped like malformed file lines.
func (m *Matcher) SetExtraIgnores(lines []string) {
	var rules []rule
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := compileRule(line)
		if err != nil {
			m.log.Warn("skipping malformed ignore pattern from config", "pattern", line, "error", err)
			continue
		}
		rules = append(rules, r)
	}
	m.mu.Lock()
	m.extra = rules
	m.mu.Unlock()
}

// Accepts reports the combined decision: watched and not ignored.
func (m *Matcher) Accepts(path string) bool {
	return m.ShouldWatch(path) && !m.ShouldIgnore(path)
}

// WatchPatterns returns the raw watch pattern lines currently loaded.
func (m *Matcher) WatchPatterns() []string {
	m.refresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rawLines(m.watch.rules)
}

// IgnorePatterns returns the raw ignore pattern lines currently loaded.
func (m *Matcher) IgnorePatterns() []string {
	m.refresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rawLines(m.ignore.rules)
}

// Reload force-parses both rule files regardless of mtime.
func (m *Matcher) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(&m.watch)
	m.loadLocked(&m.ignore)
}

// refresh reparses any rule file whose mtime changed since the last load.
func (m *Matcher) refresh() {
	m.mu.RLock()
	stale := fileChanged(&m.watch) || fileChanged(&m.ignore)
	m.mu.RUnlock()
	if !stale {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fileChanged(&m.watch) {
		m.loadLocked(&m.watch)
	}
	if fileChanged(&m.ignore) {
		m.loadLocked(&m.ignore)
	}
}

// fileChanged compares the on-disk state against the loaded ruleSet.
func fileChanged(rs *ruleSet) bool {
	info, err := os.Stat(rs.path)
	if err != nil {
		return rs.present
	}
	return !rs.present || !info.ModTime().Equal(rs.mtime)
}

// loadLocked parses rs.path into rs.rules. An unreadable file is treated
// as an empty list; malformed lines are skipped.
func (m *Matcher) loadLocked(rs *ruleSet) {
	rs.rules = nil
	info, err := os.Stat(rs.path)
	if err != nil {
		rs.present = false
		return
	}
	rs.present = true
	rs.mtime = info.ModTime()

	f, err := os.Open(rs.path)
	if err != nil {
		m.log.Warn("pattern file unreadable, treating as empty", "path", rs.path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := compileRule(line)
		if err != nil {
			m.log.Warn("skipping malformed pattern", "path", rs.path, "pattern", line, "error", err)
			continue
		}
		rs.rules = append(rs.rules, r)
	}
	if err := scanner.Err(); err != nil {
		m.log.Warn("pattern file read error", "path", rs.path, "error", err)
	}
}

// compileRule turns one pattern line into a compiled rule.
func compileRule(line string) (rule, error) {
	r := rule{raw: line}
	pat := line
	if strings.HasSuffix(pat, "/") {
		r.dir = true
		pat = strings.TrimSuffix(pat, "/")
	}
	pat = strings.TrimPrefix(pat, "./")

	relGlob, err := glob.Compile(pat, '/')
	if err != nil {
		return rule{}, err
	}
	baseGlob, err := glob.Compile(pat)
	if err != nil {
		return rule{}, err
	}
	r.rel = relGlob
	r.base = baseGlob
	return r, nil
}

// Validate reports whether a single pattern line is well-formed.
func Validate(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	_, err := compileRule(line)
	return err
}

// matchAny applies the rule semantics: directory patterns match the
// directory and anything beneath it, file patterns match the basename
// and the root-relative path.
func matchAny(rules []rule, rel string) bool {
	base := filepath.Base(rel)
	for _, r := range rules {
		if r.dir {
			if r.rel.Match(rel) {
				return true
			}
			// Any ancestor directory matching makes the path a match.
			for dir := filepath.Dir(rel); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
				if r.rel.Match(filepath.ToSlash(dir)) {
					return true
				}
			}
			continue
		}
		if r.base.Match(base) || r.rel.Match(rel) {
			return true
		}
	}
	return false
}

// relative resolves path to a '/'-separated path relative to the root.
// Absolute paths outside the root are rejected.
func (m *Matcher) relative(path string) (string, bool) {
	p := path
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(m.root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", false
		}
		p = rel
	}
	return filepath.ToSlash(filepath.Clean(p)), true
}

// rawLines extracts the source lines of a compiled rule slice.
func rawLines(rules []rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.raw
	}
	return out
}
