package tracker

import (
	"strconv"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLineEndings(t *testing.T) {
	assert.Equal(t, "a\nb\n", Normalize([]byte("a\r\nb\r\n")))
	assert.Equal(t, "a\nb\n", Normalize([]byte("a\rb\r")))
	assert.Equal(t, "a\nb\n", Normalize([]byte("a\nb\n")))
}

func TestNormalizeInvalidUTF8(t *testing.T) {
	out := Normalize([]byte{'h', 'i', 0xff, '!'})
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "!")
}

func TestHashContent(t *testing.T) {
	assert.Empty(t, HashContent(""), "empty content hashes to empty string")
	h1 := HashContent("hello\n")
	h2 := HashContent("hello\n")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, HashContent("hello world\n"))
}

func TestHashNormalizationEquivalence(t *testing.T) {
	// A line-ending-only rewrite must hash identically.
	assert.Equal(t,
		HashContent(Normalize([]byte("a\nb\n"))),
		HashContent(Normalize([]byte("a\r\nb\r\n"))))
}

func TestCountLines(t *testing.T) {
	assert.Zero(t, CountLines(""))
	assert.Equal(t, 1, CountLines("a"))
	assert.Equal(t, 1, CountLines("a\n"))
	assert.Equal(t, 2, CountLines("a\nb"))
	assert.Equal(t, 2, CountLines("a\nb\n"))
}

func TestUnifiedDiffCounts(t *testing.T) {
	diff, added, removed, err := UnifiedDiff("hello\n", "hello world\n", "a/x", "b/x")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	assert.Contains(t, diff, "-hello")
	assert.Contains(t, diff, "+hello world")
}

func TestUnifiedDiffCreation(t *testing.T) {
	_, added, removed, err := UnifiedDiff("", "one\ntwo\n", "a/x", "b/x")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Zero(t, removed)
}

func TestUnifiedDiffIdentical(t *testing.T) {
	diff, added, removed, err := UnifiedDiff("same\n", "same\n", "a/x", "b/x")
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, removed)
	assert.Empty(t, diff)
}

// applyUnified replays a diff produced by UnifiedDiff onto base,
// proving that stored diffs reconstruct content exactly.
func applyUnified(t *testing.T, base, diff string) string {
	t.Helper()
	if diff == "" {
		return base
	}
	src := difflib.SplitLines(base)
	var out []string
	i := 0
	inHunk := false
	for _, rec := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(rec, "@@"):
			inHunk = true
			for start := hunkOldStart(t, rec); i < start; i++ {
				out = append(out, src[i])
			}
		case !inHunk:
			// --- / +++ file headers before the first hunk.
		case strings.HasPrefix(rec, "+"):
			out = append(out, rec[1:]+"\n")
		case strings.HasPrefix(rec, "-"):
			i++
		case strings.HasPrefix(rec, " "):
			out = append(out, src[i])
			i++
		}
	}
	for ; i < len(src); i++ {
		out = append(out, src[i])
	}
	// SplitLines terminates every element with \n, including a phantom
	// final line; undo exactly one.
	return strings.TrimSuffix(strings.Join(out, ""), "\n")
}

// hunkOldStart returns the zero-based old-content index where a hunk
// begins. Single-line ranges omit the ",count" part and empty ranges
// are numbered from the line just before them.
func hunkOldStart(t *testing.T, header string) int {
	t.Helper()
	fields := strings.Fields(header)
	require.GreaterOrEqual(t, len(fields), 2, "malformed hunk header %q", header)
	spec, count, counted := strings.Cut(strings.TrimPrefix(fields[1], "-"), ",")
	begin, err := strconv.Atoi(spec)
	require.NoError(t, err, "hunk header %q", header)
	if counted && count == "0" {
		return begin
	}
	return begin - 1
}

func TestApplyUnifiedRoundTrip(t *testing.T) {
	tall := "l01\nl02\nl03\nl04\nl05\nl06\nl07\nl08\nl09\nl10\nl11\nl12\n"
	cases := []struct {
		name string
		old  string
		new  string
	}{
		{"creation", "", "one\ntwo\n"},
		{"insertion", "one\ntwo\n", "one\nmiddle\ntwo\n"},
		{"rewrite", "alpha\nbeta\n", "gamma\n"},
		{"truncation", "x\ny\n", ""},
		{"no trailing newline", "a\nb", "a\nc\nd"},
		{"distant hunks", tall, strings.Replace(strings.Replace(tall, "l02", "L02", 1), "l11", "L11", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			diff, _, _, err := UnifiedDiff(tc.old, tc.new, "a/x", "b/x")
			require.NoError(t, err)
			assert.Equal(t, tc.new, applyUnified(t, tc.old, diff))
		})
	}
}

func TestApplyUnifiedAcrossRevisions(t *testing.T) {
	revisions := []string{
		"# notes\n",
		"# notes\n\n- first item\n",
		"# notes\n\n- first item\n- second item\n",
		"# journal\n\n- second item\n- third item\n",
	}
	got := ""
	prev := ""
	for _, rev := range revisions {
		diff, _, _, err := UnifiedDiff(prev, rev, "a/n.md", "b/n.md")
		require.NoError(t, err)
		got = applyUnified(t, got, diff)
		prev = rev
	}
	assert.Equal(t, revisions[len(revisions)-1], got)
}
