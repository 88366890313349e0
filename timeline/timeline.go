// Package timeline orders file records for "what changed most recently" review.
package timeline

import (
	"sort"
	"time"

	"imgtriage/scanner"
)

type Entry struct {
	Path  string     `json:"path"`
	Size  int64      `json:"size"`
	Ctime *time.Time `json:"ctime,omitempty"`
	Mtime *time.Time `json:"mtime,omitempty"`
	Atime *time.Time `json:"atime,omitempty"`
}

// Build projects records into entries sorted by known mtime first, newest
// mtime first, then known ctime first, newest ctime first. The sort is stable.
func Build(records []scanner.FileRecord) []Entry {
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Path: r.Path, Size: r.Size, Ctime: r.Ctime, Mtime: r.Mtime, Atime: r.Atime}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if c := compareDesc(entries[i].Mtime, entries[j].Mtime); c != 0 {
			return c < 0
		}
		return compareDesc(entries[i].Ctime, entries[j].Ctime) < 0
	})
	return entries
}

// compareDesc orders present before absent and later before earlier.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	default:
		return 0
	}
}
