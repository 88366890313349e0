package timeline

import (
	"testing"
	"time"

	"imgtriage/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day int) *time.Time {
	t := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestBuildOrdersByMtimeThenCtime(t *testing.T) {
	records := []scanner.FileRecord{
		{Path: "/none-1"},
		{Path: "/old", Mtime: at(1)},
		{Path: "/ctime-only", Ctime: at(20)},
		{Path: "/new", Mtime: at(10), Ctime: at(2)},
		{Path: "/new-later-ctime", Mtime: at(10), Ctime: at(5)},
		{Path: "/none-2"},
		{Path: "/new-no-ctime", Mtime: at(10)},
	}
	entries := Build(records)
	require.Len(t, entries, len(records))
	assert.Equal(t, []string{
		"/new-later-ctime",
		"/new",
		"/new-no-ctime",
		"/old",
		"/ctime-only",
		"/none-1",
		"/none-2",
	}, paths(entries))
}

func TestBuildKeepsTraversalOrderForTies(t *testing.T) {
	records := []scanner.FileRecord{
		{Path: "/a", Mtime: at(3), Ctime: at(3)},
		{Path: "/b", Mtime: at(3), Ctime: at(3)},
		{Path: "/c", Mtime: at(3), Ctime: at(3)},
	}
	assert.Equal(t, []string{"/a", "/b", "/c"}, paths(Build(records)))
}

func TestBuildMtimeInvariant(t *testing.T) {
	var records []scanner.FileRecord
	for i, d := range []int{5, 1, 9, 3, 9, 2} {
		records = append(records, scanner.FileRecord{Path: string(rune('a' + i)), Mtime: at(d), Size: int64(i)})
	}
	records = append(records, scanner.FileRecord{Path: "z"})
	entries := Build(records)
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.Mtime == nil {
			continue
		}
		require.NotNil(t, prev.Mtime, "entry with mtime after one without")
		assert.False(t, cur.Mtime.After(*prev.Mtime), "%s sorted after older %s", cur.Path, prev.Path)
	}
	assert.Equal(t, "z", entries[len(entries)-1].Path)
}

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, Build(nil))
}
