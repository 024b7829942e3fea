package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Normalize decodes bytes as UTF-8 (replacing undecodable sequences)
// and converts CRLF and lone CR line endings to LF, so that a
// line-ending-only rewrite hashes identically.
func Normalize(data []byte) string {
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		text = strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// HashContent returns the SHA-256 hex digest of normalized content.
// Empty content hashes to the empty string.
func HashContent(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CountLines returns the number of lines in text, counting a trailing
// unterminated line.
func CountLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// UnifiedDiff computes a unified diff between old and new content and
// the added/removed line counts.
func UnifiedDiff(oldText, newText, oldLabel, newLabel string) (diff string, added, removed int, err error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  3,
	}
	diff, err = difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", 0, 0, err
	}
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return diff, added, removed, nil
}
