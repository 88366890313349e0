package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	tests := []struct {
		name     string
		include  []string
		exclude  []string
		path     string
		expected bool
	}{
		{"default include", nil, nil, "/Windows/notepad.exe", true},
		{"nil matcher path", nil, nil, "", true},
		{"include miss", []string{"*.exe"}, nil, "/Users/a/notes.txt", false},
		{"include hit", []string{"*.exe"}, nil, "/Users/a/setup.exe", true},
		{"case-insensitive glob", []string{"*.exe"}, nil, "/WINDOWS/SETUP.EXE", true},
		{"exclude hit", nil, []string{"pagefile.*"}, "/pagefile.sys", false},
		{"exclude miss", nil, []string{"pagefile.*"}, "/Users/a/notes.txt", true},
		{"full path glob", []string{"/users/*/appdata/*"}, nil, "/Users/alice/AppData/run.js", true},
		{"full path glob miss", []string{"/users/*/appdata/*"}, nil, "/ProgramData/run.js", false},
		{"regex include", []string{`\.(js|vbs)$`}, nil, "/tmp/loader.vbs", true},
		{"exclude wins", []string{"*.exe"}, []string{"^/Windows/"}, "/Windows/explorer.exe", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := NewPatternMatcher(tt.include, tt.exclude)
			if got := matcher.ShouldInclude(tt.path); got != tt.expected {
				t.Fatalf("ShouldInclude(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}

	var nilMatcher *PatternMatcher
	if !nilMatcher.ShouldInclude("/any") {
		t.Fatal("nil matcher should include everything")
	}
}
