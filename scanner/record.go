package scanner

import (
	"time"

	"imgtriage/signals"
)

// FileRecord describes one regular file found inside a mounted volume.
// SHA256 is empty when the first content read failed.
type FileRecord struct {
	Path      string            `json:"path"`
	Name      string            `json:"name"`
	Volume    string            `json:"volume"`
	Size      int64             `json:"size"`
	BytesRead int64             `json:"bytes_read"`
	Ctime     *time.Time        `json:"ctime,omitempty"`
	Mtime     *time.Time        `json:"mtime,omitempty"`
	Atime     *time.Time        `json:"atime,omitempty"`
	SHA256    string            `json:"sha256,omitempty"`
	Hashes    map[string]string `json:"hashes,omitempty"`
	MimeType  string            `json:"mime_type,omitempty"`
}

// PEInfo is header evidence for files that start with an MZ stub.
type PEInfo struct {
	Machine  string     `json:"machine"`
	Is64     bool       `json:"is_64bit"`
	IsDLL    bool       `json:"is_dll"`
	Sections int        `json:"sections"`
	Compiled *time.Time `json:"compiled,omitempty"`
}

// ScannedFile pairs a record with the evidence derived from its content.
type ScannedFile struct {
	Record  FileRecord
	Signals signals.Set
	PE      *PEInfo
	// Head is the retained sample prefix, kept only for early explicit files.
	Head []byte

	volume int
	fsPath string
}

// Reasons lists the fired signals in fixed order.
func (f *ScannedFile) Reasons() []string {
	return f.Signals.Reasons()
}
