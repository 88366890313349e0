// Package forensicfs is the small capability surface the triage pipeline needs
// from a filesystem-forensics library: open an image, open a filesystem at a
// byte offset, list partitions, list directories and read file content at
// random offsets.
package forensicfs

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNoFilesystem   = errors.New("no mountable filesystem")
	ErrNoVolumeSystem = errors.New("no volume system")
	ErrNotFound       = errors.New("not found")
)

type EntryType int

const (
	TypeOther EntryType = iota
	TypeDir
	TypeReg
)

func (t EntryType) String() string {
	switch t {
	case TypeDir:
		return "DIR"
	case TypeReg:
		return "REG"
	default:
		return "OTHER"
	}
}

// Metadata carries what the filesystem reports about an entry. Timestamps are
// nil when the filesystem does not record them.
type Metadata struct {
	Size  int64
	Ctime *time.Time
	Mtime *time.Time
	Atime *time.Time
}

type Entry struct {
	Name string
	Type EntryType
	Meta Metadata
}

// Partition is one slot of a volume system. Start and Length are in bytes.
type Partition struct {
	Number      int
	Start       int64
	Length      int64
	Description string
}

type Backend interface {
	OpenImage(path string) (Image, error)
}

type Image interface {
	// OpenFilesystem mounts the filesystem starting offset bytes into the image.
	OpenFilesystem(offset int64) (Filesystem, error)
	OpenVolumeSystem() ([]Partition, error)
	Close() error
}

type Filesystem interface {
	ReadDir(dirPath string) ([]Entry, error)
	Open(filePath string) (File, error)
	Close() error
}

type File interface {
	// ReadRandom may return fewer bytes than requested, and none at EOF.
	ReadRandom(offset int64, length int) ([]byte, error)
	Close() error
}

// RetryPolicy governs transient image-open failures. Attempt n waits n*Backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(time.Duration)
}

const MaxOpenAttempts = 5

// OpenImage opens path with bounded, linearly backed-off retries.
func OpenImage(b Backend, path string, policy RetryPolicy) (Image, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	if attempts > MaxOpenAttempts {
		attempts = MaxOpenAttempts
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		img, err := b.OpenImage(path)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if attempt < attempts && policy.Backoff > 0 {
			sleep(time.Duration(attempt) * policy.Backoff)
		}
	}
	return nil, errors.Wrapf(lastErr, "open image after %d attempts", attempts)
}

// TimePtr returns nil for the zero time so absent timestamps stay absent.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() <= 0 {
		return nil
	}
	return &t
}
