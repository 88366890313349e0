// Package memfs is an in-memory forensicfs backend for tests. It can inject
// open, list and read failures and counts open handles so callers can assert
// that every handle was released.
package memfs

import (
	"path"
	"strings"
	"sync"
	"time"

	"imgtriage/forensicfs"

	"github.com/pkg/errors"
)

type Node struct {
	Name     string
	Dir      bool
	Special  bool
	Data     []byte
	Size     int64
	Ctime    *time.Time
	Mtime    *time.Time
	Atime    *time.Time
	Children []*Node

	ListErr   error
	OpenErr   error
	ReadErr   error
	ReadErrAt int64
	// MaxRead caps bytes returned per ReadRandom call to simulate short reads.
	MaxRead int
	Panic   bool
	// ListPanic makes listing this directory panic like a corrupt record.
	ListPanic bool
}

func Dir(name string, children ...*Node) *Node {
	return &Node{Name: name, Dir: true, Children: children}
}

func File(name string, data []byte) *Node {
	return &Node{Name: name, Data: data, Size: int64(len(data))}
}

// WithTimes sets modification and creation times; zero values stay absent.
func (n *Node) WithTimes(mtime, ctime time.Time) *Node {
	n.Mtime = forensicfs.TimePtr(mtime)
	n.Ctime = forensicfs.TimePtr(ctime)
	return n
}

type PartitionSpec struct {
	Partition forensicfs.Partition
	// Root is nil for a partition without a mountable filesystem.
	Root *Node
}

type Backend struct {
	Whole          *Node
	Partitions     []PartitionSpec
	NoVolumeSystem bool
	FailOpens      int

	mu       sync.Mutex
	opens    int
	attempts int
}

// Attempts returns how many times OpenImage was called.
func (b *Backend) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// OpenHandles returns images, filesystems and files not yet closed.
func (b *Backend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *Backend) track(delta int) {
	b.mu.Lock()
	b.opens += delta
	b.mu.Unlock()
}

func (b *Backend) OpenImage(string) (forensicfs.Image, error) {
	b.mu.Lock()
	b.attempts++
	fail := b.attempts <= b.FailOpens
	b.mu.Unlock()
	if fail {
		return nil, errors.New("image busy")
	}
	b.track(1)
	return &image{b: b}, nil
}

type image struct {
	b      *Backend
	closed bool
}

func (img *image) OpenFilesystem(offset int64) (forensicfs.Filesystem, error) {
	if offset == 0 && img.b.Whole != nil {
		img.b.track(1)
		return &filesystem{b: img.b, root: img.b.Whole}, nil
	}
	if offset == 0 {
		return nil, forensicfs.ErrNoFilesystem
	}
	for _, spec := range img.b.Partitions {
		if spec.Partition.Start == offset {
			if spec.Root == nil {
				return nil, forensicfs.ErrNoFilesystem
			}
			img.b.track(1)
			return &filesystem{b: img.b, root: spec.Root}, nil
		}
	}
	return nil, forensicfs.ErrNoFilesystem
}

func (img *image) OpenVolumeSystem() ([]forensicfs.Partition, error) {
	if img.b.NoVolumeSystem || len(img.b.Partitions) == 0 {
		return nil, forensicfs.ErrNoVolumeSystem
	}
	parts := make([]forensicfs.Partition, 0, len(img.b.Partitions))
	for _, spec := range img.b.Partitions {
		parts = append(parts, spec.Partition)
	}
	return parts, nil
}

func (img *image) Close() error {
	if !img.closed {
		img.closed = true
		img.b.track(-1)
	}
	return nil
}

type filesystem struct {
	b      *Backend
	root   *Node
	closed bool
}

func (f *filesystem) lookup(p string) (*Node, error) {
	node := f.root
	for _, part := range strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/") {
		if part == "" {
			continue
		}
		var next *Node
		for _, child := range node.Children {
			if child.Name == part {
				next = child
				break
			}
		}
		if next == nil {
			return nil, errors.Wrap(forensicfs.ErrNotFound, p)
		}
		node = next
	}
	return node, nil
}

func (f *filesystem) ReadDir(dirPath string) ([]forensicfs.Entry, error) {
	node, err := f.lookup(dirPath)
	if err != nil {
		return nil, err
	}
	if node.ListPanic {
		panic("corrupt directory record")
	}
	if node.ListErr != nil {
		return nil, node.ListErr
	}
	entries := []forensicfs.Entry{
		{Name: ".", Type: forensicfs.TypeDir},
		{Name: "..", Type: forensicfs.TypeDir},
	}
	for _, child := range node.Children {
		entry := forensicfs.Entry{
			Name: child.Name,
			Type: forensicfs.TypeReg,
			Meta: forensicfs.Metadata{Size: child.Size, Ctime: child.Ctime, Mtime: child.Mtime, Atime: child.Atime},
		}
		switch {
		case child.Dir:
			entry.Type = forensicfs.TypeDir
		case child.Special:
			entry.Type = forensicfs.TypeOther
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (f *filesystem) Open(filePath string) (forensicfs.File, error) {
	node, err := f.lookup(filePath)
	if err != nil {
		return nil, err
	}
	if node.OpenErr != nil {
		return nil, node.OpenErr
	}
	f.b.track(1)
	return &file{b: f.b, node: node}, nil
}

func (f *filesystem) Close() error {
	if !f.closed {
		f.closed = true
		f.b.track(-1)
	}
	return nil
}

type file struct {
	b      *Backend
	node   *Node
	closed bool
}

func (f *file) ReadRandom(offset int64, length int) ([]byte, error) {
	if f.node.Panic {
		panic("corrupt record")
	}
	if f.node.ReadErr != nil && offset >= f.node.ReadErrAt {
		return nil, f.node.ReadErr
	}
	if offset >= int64(len(f.node.Data)) {
		return nil, nil
	}
	if f.node.MaxRead > 0 && length > f.node.MaxRead {
		length = f.node.MaxRead
	}
	end := offset + int64(length)
	if end > int64(len(f.node.Data)) {
		end = int64(len(f.node.Data))
	}
	return append([]byte(nil), f.node.Data[offset:end]...), nil
}

func (f *file) Close() error {
	if !f.closed {
		f.closed = true
		f.b.track(-1)
	}
	return nil
}
