package main

import (
	"os"
	"time"

	"imgtriage/analysis"
	"imgtriage/output"

	"github.com/djherbis/times"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

var openMmapReader = mmap.Open

// sourceInfo records where an artifact came from and its filesystem times.
// Times the platform does not report are left empty.
func sourceInfo(path string, declared bool) output.Source {
	src := output.Source{Path: path, DeclaredImage: declared}
	ts, err := times.Stat(path)
	if err != nil {
		return src
	}
	src.ModTime = ts.ModTime().UTC().Format(time.RFC3339)
	src.AccessTime = ts.AccessTime().UTC().Format(time.RFC3339)
	if ts.HasChangeTime() {
		src.ChangeTime = ts.ChangeTime().UTC().Format(time.RFC3339)
	}
	if ts.HasBirthTime() {
		src.BirthTime = ts.BirthTime().UTC().Format(time.RFC3339)
	}
	if info, err := os.Stat(path); err == nil {
		src.Size = info.Size()
	}
	return src
}

// readInput maps the artifact and copies it into memory. Artifacts larger
// than maxSize are refused before any byte is read.
func readInput(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat input")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Errorf("%s is not a regular file", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, errors.Wrapf(analysis.ErrInput, "%d bytes exceeds the %d byte limit", info.Size(), maxSize)
	}
	if info.Size() == 0 {
		return []byte{}, nil
	}

	r, err := openMmapReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "map input")
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return buf, nil
}
