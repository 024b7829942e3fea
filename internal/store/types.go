package store

import "time"

// ChangeType classifies a filesystem-level change.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeMoved    ChangeType = "moved"
)

// Impact is the closed set of summary impact levels.
type Impact string

const (
	ImpactBrief       Impact = "brief"
	ImpactModerate    Impact = "moderate"
	ImpactSignificant Impact = "significant"
)

// FileVersion is one captured snapshot of a file. Rows are never mutated.
type FileVersion struct {
	ID                int64     `json:"id"`
	FilePath          string    `json:"filePath"`
	ContentHash       string    `json:"contentHash"`
	Content           string    `json:"content"`
	LineCount         int       `json:"lineCount"`
	Timestamp         time.Time `json:"timestamp"`
	ChangeDescription string    `json:"changeDescription,omitempty"`
}

// ContentDiff is a unified diff between two versions of the same path.
// OldVersionID is zero for creations.
type ContentDiff struct {
	ID           int64      `json:"id"`
	FilePath     string     `json:"filePath"`
	OldVersionID int64      `json:"oldVersionId,omitempty"`
	NewVersionID int64      `json:"newVersionId"`
	ChangeType   ChangeType `json:"changeType"`
	DiffContent  string     `json:"diffContent"`
	LinesAdded   int        `json:"linesAdded"`
	LinesRemoved int        `json:"linesRemoved"`
	Timestamp    time.Time  `json:"timestamp"`
}

// FileState is the current row per file, derived from FileVersion.
type FileState struct {
	FilePath    string    `json:"filePath"`
	ContentHash string    `json:"contentHash"`
	LineCount   int       `json:"lineCount"`
	FileSize    int64     `json:"fileSize"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FileChange is a compact audit event for one tracked mutation.
type FileChange struct {
	ID             int64      `json:"id"`
	FilePath       string     `json:"filePath"`
	ChangeType     ChangeType `json:"changeType"`
	OldContentHash string     `json:"oldContentHash,omitempty"`
	NewContentHash string     `json:"newContentHash,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Event is an observed filesystem event at the monitoring boundary.
type Event struct {
	ID        int64      `json:"id"`
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`
	Size      int64      `json:"size"`
	Timestamp time.Time  `json:"timestamp"`
	Processed bool       `json:"processed"`
}

// SemanticEntry is extracted metadata for one summarized change set.
type SemanticEntry struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	Type             string    `json:"type"`
	Summary          string    `json:"summary"`
	Impact           Impact    `json:"impact"`
	FilePath         string    `json:"filePath,omitempty"`
	SearchableText   string    `json:"searchableText"`
	MarkdownFilePath string    `json:"markdownFilePath,omitempty"`
	SourceType       string    `json:"sourceType"`
	VersionID        int64     `json:"versionId,omitempty"`
	Topics           []string  `json:"topics"`
	Keywords         []string  `json:"keywords"`
}

// SearchResult is a scored semantic search hit.
type SearchResult struct {
	Entry SemanticEntry `json:"entry"`
	Score float64       `json:"score"`
}

// AgentAction is one recorded step of an agent session.
type AgentAction struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeAnalysis is the result of ComprehensiveTimeAnalysis.
type TimeAnalysis struct {
	Summary     TimeAnalysisSummary `json:"summary"`
	Diffs       []ContentDiff       `json:"diffs"`
	FileMetrics []FileMetric        `json:"fileMetrics"`
}

// TimeAnalysisSummary aggregates a time window of diffs.
type TimeAnalysisSummary struct {
	TotalChanges  int            `json:"totalChanges"`
	FilesAffected int            `json:"filesAffected"`
	LinesAdded    int            `json:"linesAdded"`
	LinesRemoved  int            `json:"linesRemoved"`
	ChangeTypes   map[string]int `json:"changeTypes"`
}

// FileMetric is per-file activity within an analysis window.
type FileMetric struct {
	FilePath     string `json:"filePath"`
	ChangeCount  int    `json:"changeCount"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
}

// PathFilter restricts a query to paths it returns true for. A nil
// filter accepts everything.
type PathFilter func(path string) bool
