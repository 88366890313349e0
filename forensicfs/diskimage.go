package forensicfs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/forensicanalysis/fslib/ntfs"
	"github.com/pkg/errors"
)

// DiskBackend opens raw images with go-diskfs and falls back to fslib for NTFS
// volumes, which go-diskfs cannot mount.
type DiskBackend struct{}

func NewDiskBackend() *DiskBackend {
	return &DiskBackend{}
}

func (b *DiskBackend) OpenImage(path string) (Image, error) {
	raw, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open raw image")
	}
	info, err := raw.Stat()
	if err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "stat raw image")
	}
	d, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "open disk")
	}
	return &diskImage{disk: d, raw: raw, size: info.Size()}, nil
}

type diskImage struct {
	disk *disk.Disk
	raw  *os.File
	size int64

	once       sync.Once
	partitions []Partition
	tableErr   error
}

func (img *diskImage) loadPartitions() {
	img.once.Do(func() {
		table, err := img.disk.GetPartitionTable()
		if err != nil {
			img.tableErr = errors.Wrap(ErrNoVolumeSystem, err.Error())
			return
		}
		if table == nil {
			img.tableErr = ErrNoVolumeSystem
			return
		}
		for i, p := range table.GetPartitions() {
			if p == nil {
				continue
			}
			img.partitions = append(img.partitions, Partition{
				Number:      i + 1,
				Start:       p.GetStart(),
				Length:      p.GetSize(),
				Description: describePartition(p),
			})
		}
	})
}

func describePartition(p interface{}) string {
	switch v := p.(type) {
	case *mbr.Partition:
		return fmt.Sprintf("MBR type 0x%02x", byte(v.Type))
	case *gpt.Partition:
		if name := strings.TrimSpace(v.Name); name != "" {
			return name
		}
		return fmt.Sprintf("GPT %s", string(v.Type))
	default:
		return ""
	}
}

func (img *diskImage) OpenVolumeSystem() ([]Partition, error) {
	img.loadPartitions()
	if img.tableErr != nil {
		return nil, img.tableErr
	}
	return append([]Partition(nil), img.partitions...), nil
}

func (img *diskImage) OpenFilesystem(offset int64) (Filesystem, error) {
	number := 0
	length := img.size - offset
	if offset != 0 {
		img.loadPartitions()
		for _, p := range img.partitions {
			if p.Start == offset {
				number = p.Number
				length = p.Length
				break
			}
		}
		if number == 0 {
			return nil, errors.Wrapf(ErrNoFilesystem, "no partition starts at offset %d", offset)
		}
	}
	fs, err := img.disk.GetFilesystem(number)
	if err == nil && fs != nil {
		return &diskFilesystem{fs: fs}, nil
	}
	if length <= 0 {
		return nil, ErrNoFilesystem
	}
	nfs, nerr := ntfs.New(io.NewSectionReader(img.raw, offset, length))
	if nerr != nil {
		return nil, errors.Wrapf(ErrNoFilesystem, "offset %d: %v; ntfs: %v", offset, err, nerr)
	}
	return FromFS(nfs, nil), nil
}

func (img *diskImage) Close() error {
	var firstErr error
	if c, ok := interface{}(img.disk).(io.Closer); ok {
		firstErr = c.Close()
	}
	if err := img.raw.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type diskFilesystem struct {
	fs filesystem.FileSystem
}

func (d *diskFilesystem) ReadDir(dirPath string) ([]Entry, error) {
	infos, err := d.fs.ReadDir(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dirPath)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		entry := Entry{
			Name: info.Name(),
			Type: TypeOther,
			Meta: Metadata{Size: info.Size(), Mtime: TimePtr(info.ModTime())},
		}
		switch {
		case info.IsDir():
			entry.Type = TypeDir
		case info.Mode().IsRegular():
			entry.Type = TypeReg
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *diskFilesystem) Open(filePath string) (File, error) {
	f, err := d.fs.OpenFile(filePath, os.O_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filePath)
	}
	return &diskFile{f: f}, nil
}

func (d *diskFilesystem) Close() error {
	if c, ok := d.fs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type diskFile struct {
	f filesystem.File
}

func (f *diskFile) ReadRandom(offset int64, length int) ([]byte, error) {
	return seekRead(f.f, make([]byte, length), offset)
}

func (f *diskFile) Close() error {
	return f.f.Close()
}
