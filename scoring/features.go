package scoring

import (
	"regexp"
	"strings"

	"imgtriage/signals"
)

// FeatureNames is the stable feature order shared by training and inference.
var FeatureNames = []string{
	"file_size_bytes",
	"entropy",
	"yara_match_count",
	"suspicious_string_count",
	"has_mz_header",
	"has_macro_keywords",
	"has_url",
	"has_base64_chunk",
}

type Features map[string]float64

// Vector returns the features in FeatureNames order.
func (f Features) Vector() []float64 {
	out := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[i] = f[name]
	}
	return out
}

var (
	urlPattern    = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
	base64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)
	macroPattern  = regexp.MustCompile(`(?i)\b(AutoOpen|Document_Open|AutoExec|ThisDocument|CreateObject\("WScript\.Shell"\))\b`)
	pwshPattern   = regexp.MustCompile(`(?i)\b(powershell|EncodedCommand|FromBase64String|Invoke-Mimikatz|cmd\.exe|wscript|cscript)\b`)

	ruleMacroPattern   = regexp.MustCompile(`(?i)Auto(Open|Exec)|Document_Open|ThisDocument|WScript\.Shell`)
	ruleEncodedPattern = regexp.MustCompile(`(?i)EncodedCommand|FromBase64String|Invoke-Mimikatz`)
)

// rule is a content rule in the spirit of a YARA signature: it matches when
// its condition holds over the scanned text.
type rule struct {
	name  string
	match func(text string) bool
}

var rules = []rule{
	{
		name:  "SuspiciousMacro",
		match: func(text string) bool { return ruleMacroPattern.MatchString(text) },
	},
	{
		name: "EncodedArtifacts",
		match: func(text string) bool {
			return len(base64Pattern.FindAllStringIndex(text, 3)) > 2 || ruleEncodedPattern.MatchString(text)
		},
	},
}

// MatchedRules lists the names of rules matching data.
func MatchedRules(data []byte) []string {
	text := decodeLoose(data)
	var matched []string
	for _, r := range rules {
		if r.match(text) {
			matched = append(matched, r.name)
		}
	}
	return matched
}

type stringCounts struct {
	url, base64, macro, pwsh int
}

func (c stringCounts) total() int {
	return c.url + c.base64 + c.macro + c.pwsh
}

func countSuspiciousStrings(text string) stringCounts {
	return stringCounts{
		url:    len(urlPattern.FindAllStringIndex(text, -1)),
		base64: len(base64Pattern.FindAllStringIndex(text, -1)),
		macro:  len(macroPattern.FindAllStringIndex(text, -1)),
		pwsh:   len(pwshPattern.FindAllStringIndex(text, -1)),
	}
}

// ExtractFeatures computes the scorer feature vector of a content sample.
func ExtractFeatures(data []byte, name string) Features {
	text := decodeLoose(data)
	counts := countSuspiciousStrings(text)
	f := Features{
		"file_size_bytes":         float64(len(data)),
		"entropy":                 signals.Entropy(data),
		"yara_match_count":        float64(len(MatchedRules(data))),
		"suspicious_string_count": float64(counts.total()),
	}
	f["has_mz_header"] = boolFeature(len(data) >= 2 && data[0] == 'M' && data[1] == 'Z')
	f["has_macro_keywords"] = boolFeature(counts.macro > 0)
	f["has_url"] = boolFeature(counts.url > 0)
	// a single long token is common in benign data
	f["has_base64_chunk"] = boolFeature(counts.base64 > 2)
	return f
}

func boolFeature(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// decodeLoose drops invalid UTF-8 sequences.
func decodeLoose(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}
