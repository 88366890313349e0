package analysis

import (
	"sort"
	"strings"

	"imgtriage/risk"
	"imgtriage/scanner"
	"imgtriage/signals"
	"imgtriage/timeline"
)

// RawImageLabel stands in for a path when evidence comes from the raw buffer.
const RawImageLabel = "[raw_image]"

type TopFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

type DigestEntry struct {
	Path   string            `json:"path"`
	SHA256 string            `json:"sha256"`
	Hashes map[string]string `json:"hashes,omitempty"`
}

// SuspiciousItem is one flagged file. Reasons is comma-joined in detection order.
type SuspiciousItem struct {
	Path      string          `json:"path"`
	Extension string          `json:"extension"`
	Size      int64           `json:"size"`
	Reasons   string          `json:"reasons"`
	MimeType  string          `json:"mime_type,omitempty"`
	PE        *scanner.PEInfo `json:"pe,omitempty"`
}

// SampleEvidence describes a sampled file without its bytes.
type SampleEvidence struct {
	Path     string                 `json:"path"`
	Name     string                 `json:"name"`
	Size     int64                  `json:"size"`
	Reasons  []string               `json:"reasons"`
	Score    *float64               `json:"score,omitempty"`
	MimeType string                 `json:"mime_type"`
	TLSH     string                 `json:"tlsh,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the result of one analysis call. It is not modified after
// Analyze returns and may be shared through the cache.
type Summary struct {
	AnalysisID        string            `json:"analysis_id"`
	Filename          string            `json:"filename"`
	SHA256            string            `json:"sha256"`
	Size              int64             `json:"size"`
	UploadHashes      map[string]string `json:"upload_hashes,omitempty"`
	ImageDetected     bool              `json:"image_detected"`
	ValidationMessage string            `json:"validation_message"`
	FileCount         int               `json:"file_count"`
	TopFiles          []TopFile         `json:"top_files"`
	Suspicious        []SuspiciousItem  `json:"suspicious"`
	Hashes            []DigestEntry     `json:"hashes"`
	Timeline          []timeline.Entry  `json:"timeline"`
	Volumes           []string          `json:"volumes"`
	Samples           []SampleEvidence  `json:"samples"`
	Evidence          risk.Evidence     `json:"evidence"`
	RiskScore         int               `json:"risk_score"`
	RiskPath          risk.Path         `json:"risk_path"`
	RiskOverridden    bool              `json:"risk_overridden,omitempty"`
	ParseWarnings     []string          `json:"parse_warnings,omitempty"`
	FallbackEntropy   *float64          `json:"fallback_entropy,omitempty"`
	Unreadable        bool              `json:"unreadable"`
	KnownBad          []string          `json:"known_bad,omitempty"`
}

func newSummary(id string, in Input) *Summary {
	return &Summary{
		AnalysisID: id,
		Filename:   in.Name,
		Size:       int64(len(in.Data)),
		TopFiles:   []TopFile{},
		Suspicious: []SuspiciousItem{},
		Hashes:     []DigestEntry{},
		Timeline:   []timeline.Entry{},
		Volumes:    []string{},
		Samples:    []SampleEvidence{},
	}
}

func topFiles(records []scanner.FileRecord, n int) []TopFile {
	sorted := make([]scanner.FileRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]TopFile, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, TopFile{Path: r.Path, Size: r.Size, SHA256: r.SHA256})
	}
	return out
}

func digestList(records []scanner.FileRecord) []DigestEntry {
	out := []DigestEntry{}
	for _, r := range records {
		if r.SHA256 == "" {
			continue
		}
		out = append(out, DigestEntry{Path: r.Path, SHA256: r.SHA256, Hashes: r.Hashes})
	}
	return out
}

func suspiciousItem(path string, size int64, reasons []string) SuspiciousItem {
	return SuspiciousItem{
		Path:      path,
		Extension: signals.Extension(path),
		Size:      size,
		Reasons:   strings.Join(reasons, ","),
	}
}
