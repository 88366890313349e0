package utils

import (
	"path"
	"regexp"
	"strings"
)

// PatternMatcher filters in-image paths. Paths are slash-separated on every
// platform. Globs without a slash match the base name, globs with one match
// the whole path; both compare case-insensitively since FAT and NTFS do.
// Every pattern is also tried as a regular expression against the full path.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return &PatternMatcher{
		includeGlobs: lowerAll(includePatterns),
		includeRegex: compileRegex(includePatterns),
		excludeGlobs: lowerAll(excludePatterns),
		excludeRegex: compileRegex(excludePatterns),
	}
}

func (m *PatternMatcher) ShouldInclude(p string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(p, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(p, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

func (m *PatternMatcher) matches(p string, globs []string, regexes []*regexp.Regexp) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	for _, pattern := range globs {
		target := base
		if strings.Contains(pattern, "/") {
			target = lower
		}
		if matched, _ := path.Match(pattern, target); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

func lowerAll(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, strings.ToLower(p))
	}
	return out
}

func compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}
