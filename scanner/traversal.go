package scanner

import (
	"context"
	"path"

	"imgtriage/forensicfs"

	"github.com/pkg/errors"
)

// DefaultMaxDepth bounds directory nesting when the config leaves it unset.
const DefaultMaxDepth = 64

// WalkFunc receives every regular file in traversal order. Returning an error
// stops the walk.
type WalkFunc func(fsPath string, entry forensicfs.Entry) error

// WarnFunc records a non-fatal traversal problem.
type WarnFunc func(format string, args ...interface{})

type frame struct {
	dir     string
	entries []forensicfs.Entry
	next    int
	depth   int
}

// Walk visits the filesystem depth-first with an explicit stack of open
// directory listings, so files are yielded in the same order a recursive
// descent would produce. Directories that fail to list, exceed maxDepth or were
// already visited are reported through warn and skipped.
func Walk(ctx context.Context, fsys forensicfs.Filesystem, maxDepth int, fn WalkFunc, warn WarnFunc) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	entries, err := safeReadDir(fsys, "/")
	if err != nil {
		warn("Failed to list root directory: %v", err)
		return nil
	}
	visited := map[string]struct{}{"/": {}}
	stack := []*frame{{dir: "/", entries: entries}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		top := stack[len(stack)-1]
		if top.next >= len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++

		if entry.Name == "" || entry.Name == "." || entry.Name == ".." {
			continue
		}
		p := path.Join(top.dir, entry.Name)

		switch entry.Type {
		case forensicfs.TypeDir:
			if _, seen := visited[p]; seen {
				warn("Skipping already visited directory %s", p)
				continue
			}
			visited[p] = struct{}{}
			if top.depth+1 > maxDepth {
				warn("Skipping %s: depth limit %d reached", p, maxDepth)
				continue
			}
			children, err := safeReadDir(fsys, p)
			if err != nil {
				warn("Failed to list directory %s: %v", p, err)
				continue
			}
			stack = append(stack, &frame{dir: p, entries: children, depth: top.depth + 1})
		case forensicfs.TypeReg:
			if err := fn(p, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func safeReadDir(fsys forensicfs.Filesystem, dir string) (entries []forensicfs.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, errors.Errorf("directory parser panic: %v", r)
		}
	}()
	return fsys.ReadDir(dir)
}
