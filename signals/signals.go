// Package signals derives cheap malware heuristics from a bounded file head.
package signals

import (
	"math"
	"path"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

const (
	ReasonPEHeader    = "pe_header"
	ReasonJSKeywords  = "js_keywords"
	ReasonVBSKeywords = "vbs_keywords"
	ReasonPS1Keywords = "ps1_keywords"
	ReasonSuspExt     = "susp_ext"
	ReasonHighEntropy = "high_entropy"
)

const (
	// HeadSampleSize bounds the prefix scanned for signals.
	HeadSampleSize = 1024 * 1024
	// SampleHeadSize bounds the prefix retained for external scoring.
	SampleHeadSize = 256 * 1024

	HighEntropyThreshold = 7.5
	HighEntropyMinSize   = 50_000
)

var suspiciousExtensions = map[string]struct{}{
	".exe": {},
	".dll": {},
	".js":  {},
	".vbs": {},
	".ps1": {},
	".bat": {},
	".scr": {},
}

type keywordClass int

const (
	classJS keywordClass = iota
	classVBS
	classPS1
)

var keywords = []struct {
	term  string
	class keywordClass
}{
	{"function", classJS},
	{"eval(", classJS},
	{"<script", classJS},
	{"createobject", classVBS},
	{"wscript", classVBS},
	{"param(", classPS1},
	{"invoke-", classPS1},
}

var keywordMatcher = newKeywordMatcher()

func newKeywordMatcher() *ahocorasick.Matcher {
	terms := make([]string, len(keywords))
	for i, k := range keywords {
		terms[i] = k.term
	}
	return ahocorasick.NewStringMatcher(terms)
}

// Set is the per-file signal vector.
type Set struct {
	HasPEHeader            bool    `json:"has_pe_header"`
	HasScriptKeywords      bool    `json:"has_script_keywords"`
	HasVbsKeywords         bool    `json:"has_vbs_keywords"`
	HasPs1Keywords         bool    `json:"has_ps1_keywords"`
	HasSuspiciousExtension bool    `json:"has_suspicious_extension"`
	Entropy                float64 `json:"entropy"`
	IsHighEntropy          bool    `json:"is_high_entropy"`
}

// Reasons lists the fired signals in detection order.
func (s Set) Reasons() []string {
	var reasons []string
	if s.HasPEHeader {
		reasons = append(reasons, ReasonPEHeader)
	}
	if s.HasScriptKeywords {
		reasons = append(reasons, ReasonJSKeywords)
	}
	if s.HasVbsKeywords {
		reasons = append(reasons, ReasonVBSKeywords)
	}
	if s.HasPs1Keywords {
		reasons = append(reasons, ReasonPS1Keywords)
	}
	if s.HasSuspiciousExtension {
		reasons = append(reasons, ReasonSuspExt)
	}
	if s.IsHighEntropy {
		reasons = append(reasons, ReasonHighEntropy)
	}
	return reasons
}

// Suspicious reports whether any reason fired.
func (s Set) Suspicious() bool {
	return len(s.Reasons()) > 0
}

// Explicit reports whether a reason other than high_entropy fired.
func (s Set) Explicit() bool {
	return s.HasPEHeader || s.HasScriptKeywords || s.HasVbsKeywords || s.HasPs1Keywords || s.HasSuspiciousExtension
}

// IsExplicit reports whether reason counts as explicit evidence. high_entropy does not.
func IsExplicit(reason string) bool {
	switch reason {
	case ReasonPEHeader, ReasonJSKeywords, ReasonVBSKeywords, ReasonPS1Keywords, ReasonSuspExt:
		return true
	default:
		return false
	}
}

// HasExplicit reports whether any of reasons is explicit.
func HasExplicit(reasons []string) bool {
	for _, r := range reasons {
		if IsExplicit(r) {
			return true
		}
	}
	return false
}

// Extension returns the lowercased suffix of p, including the dot.
func Extension(p string) string {
	return strings.ToLower(path.Ext(p))
}

// HasSuspiciousExtension checks p against the fixed extension set.
func HasSuspiciousExtension(p string) bool {
	_, ok := suspiciousExtensions[Extension(p)]
	return ok
}

// Entropy is the Shannon entropy of data in bits per byte; 0 for empty input.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var histogram [256]int
	for _, b := range data {
		histogram[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Extract computes the signal set for a file of the given size from its head.
func Extract(filePath string, size int64, head []byte) Set {
	s := ExtractContent(size, head)
	s.HasSuspiciousExtension = HasSuspiciousExtension(filePath)
	return s
}

// ExtractContent is Extract without a name: every signal except susp_ext.
func ExtractContent(size int64, head []byte) Set {
	s := ScanContent(head)
	s.IsHighEntropy = s.Entropy >= HighEntropyThreshold && size > HighEntropyMinSize
	return s
}

// ScanContent fills the content-derived fields only: PE magic, keywords and entropy.
func ScanContent(head []byte) Set {
	var s Set
	s.HasPEHeader = len(head) >= 2 && head[0] == 'M' && head[1] == 'Z'
	s.Entropy = Entropy(head)
	if len(head) == 0 {
		return s
	}
	for _, idx := range keywordMatcher.MatchThreadSafe(asciiLower(head)) {
		if idx < 0 || idx >= len(keywords) {
			continue
		}
		switch keywords[idx].class {
		case classJS:
			s.HasScriptKeywords = true
		case classVBS:
			s.HasVbsKeywords = true
		case classPS1:
			s.HasPs1Keywords = true
		}
	}
	return s
}

// asciiLower folds A-Z only; keywords are ASCII and binary bytes must stay put.
func asciiLower(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return out
}
