package forensicfs

import (
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ioFS adapts an io/fs.FS, the shape fslib filesystems expose.
type ioFS struct {
	fsys   fs.FS
	closer io.Closer
}

// FromFS wraps fsys; closer may be nil.
func FromFS(fsys fs.FS, closer io.Closer) Filesystem {
	return &ioFS{fsys: fsys, closer: closer}
}

func fsName(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return "."
	}
	return p
}

func (f *ioFS) ReadDir(dirPath string) ([]Entry, error) {
	dirEntries, err := fs.ReadDir(f.fsys, fsName(dirPath))
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dirPath)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		entry := Entry{Name: d.Name(), Type: TypeOther}
		switch {
		case d.IsDir():
			entry.Type = TypeDir
		case d.Type().IsRegular():
			entry.Type = TypeReg
		}
		if info, err := d.Info(); err == nil {
			entry.Meta.Size = info.Size()
			entry.Meta.Mtime = TimePtr(info.ModTime())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (f *ioFS) Open(filePath string) (File, error) {
	file, err := f.fsys.Open(fsName(filePath))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filePath)
	}
	return &ioFile{f: file}, nil
}

func (f *ioFS) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

type ioFile struct {
	f fs.File
}

func (f *ioFile) ReadRandom(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if ra, ok := f.f.(io.ReaderAt); ok {
		n, err := ra.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return buf[:n], err
		}
		return buf[:n], nil
	}
	rs, ok := f.f.(io.ReadSeeker)
	if !ok {
		return nil, errors.New("file does not support random access")
	}
	return seekRead(rs, buf, offset)
}

func (f *ioFile) Close() error {
	return f.f.Close()
}

func seekRead(rs io.ReadSeeker, buf []byte, offset int64) ([]byte, error) {
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	n, err := io.ReadFull(rs, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return buf[:n], err
}
