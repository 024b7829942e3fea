package patterns

import "strings"

// SkipDirs contains directories that are never worth descending into,
// regardless of the configured rules: tool-owned caches, dependency
// trees and build output. User rules cannot re-enable these; watching
// node_modules would drown the pipeline in noise.
var SkipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	"coverage":     true,
	".git":         true,
	".next":        true,
	".nuxt":        true,
	".venv":        true,
	".idea":        true,
	".cache":       true,
}

// transientSuffixes are endings of editor working files: vim swap and
// backup files, generic temp files.
var transientSuffixes = []string{
	".swp", ".swo", ".swx", ".tmp", "~",
}

// transientNames are exact basenames of files editors and operating
// systems drop next to real content.
var transientNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
	"4913":      true, // vim write-permission probe
}

// SkipDir reports whether a directory basename should be excluded from
// recursive traversal. Dot-directories are skipped wholesale; rule
// files live at the root, not inside them.
func SkipDir(name string) bool {
	if SkipDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// TransientFile reports whether a file basename is an editor or OS
// artifact that should never produce a tracked version, even when a
// broad watch pattern like **/* would otherwise accept it.
func TransientFile(name string) bool {
	if transientNames[name] {
		return true
	}
	// Emacs lock and autosave files.
	if strings.HasPrefix(name, ".#") {
		return true
	}
	if strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#") {
		return true
	}
	for _, suffix := range transientSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
