package scanner

import (
	"context"
	"fmt"
	"time"

	"imgtriage/config"
	"imgtriage/forensicfs"
	"imgtriage/hasher"
	"imgtriage/signals"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/saferwall/pe"
)

type FileModule interface {
	Name() string
	Enabled(cfg *config.Config) bool
	Collect(ctx context.Context, fc *FileContext, data *ScannedFile) error
}

type FileContext struct {
	Path   string
	FSPath string
	Entry  forensicfs.Entry
	File   forensicfs.File
	Cfg    *config.Config

	headLoaded bool
	head       []byte
	headErr    error
}

// Head returns the signal sample: min(size, HeadSampleSize) bytes from offset 0.
func (fc *FileContext) Head() ([]byte, error) {
	if fc.headLoaded {
		return fc.head, fc.headErr
	}
	limit := fc.Cfg.HeadSampleSize
	if limit <= 0 {
		limit = signals.HeadSampleSize
	}
	fc.head, fc.headErr = readHead(fc.File, fc.Entry.Meta.Size, limit, fc.Cfg.ReadChunkSize)
	fc.headLoaded = true
	return fc.head, fc.headErr
}

func buildFileModules() []FileModule {
	return []FileModule{
		digestModule{},
		signalModule{},
		mimeModule{},
		peModule{},
	}
}

// runModule isolates parser panics to the module that raised them.
func runModule(ctx context.Context, m FileModule, fc *FileContext, data *ScannedFile) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return m.Collect(ctx, fc, data)
}

type digestModule struct{}

func (m digestModule) Name() string { return "digest" }

func (m digestModule) Enabled(cfg *config.Config) bool { return true }

func (m digestModule) Collect(ctx context.Context, fc *FileContext, data *ScannedFile) error {
	res := hasher.ComputeHashes(fc.File, fc.Entry.Meta.Size, fc.Cfg.HashAlgorithms, fc.Cfg.ReadChunkSize)
	data.Record.BytesRead = res.BytesRead
	if sum, ok := res.Digest(hasher.Primary); ok {
		data.Record.SHA256 = sum
		data.Record.Hashes = res.Hashes
	}
	if res.Err != nil {
		return errors.Wrapf(res.Err, "read failed after %d bytes", res.BytesRead)
	}
	return nil
}

type signalModule struct{}

func (m signalModule) Name() string { return "signals" }

func (m signalModule) Enabled(cfg *config.Config) bool { return true }

func (m signalModule) Collect(ctx context.Context, fc *FileContext, data *ScannedFile) error {
	head, err := fc.Head()
	if err != nil {
		return err
	}
	data.Signals = signals.Extract(fc.Path, fc.Entry.Meta.Size, head)
	return nil
}

type mimeModule struct{}

func (m mimeModule) Name() string { return "mime" }

func (m mimeModule) Enabled(cfg *config.Config) bool { return true }

func (m mimeModule) Collect(ctx context.Context, fc *FileContext, data *ScannedFile) error {
	head, err := fc.Head()
	if err != nil {
		return nil
	}
	data.Record.MimeType = DetectMime(head)
	return nil
}

// DetectMime matches magic numbers in head; "unknown" when nothing matches.
func DetectMime(head []byte) string {
	if len(head) == 0 {
		return "unknown"
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return "unknown"
	}
	return kind.MIME.Value
}

type peModule struct{}

func (m peModule) Name() string { return "pe" }

func (m peModule) Enabled(cfg *config.Config) bool { return true }

func (m peModule) Collect(ctx context.Context, fc *FileContext, data *ScannedFile) error {
	if !data.Signals.HasPEHeader {
		return nil
	}
	head, err := fc.Head()
	if err != nil {
		return nil
	}
	data.PE = ParsePE(head)
	return nil
}

var machineNames = map[uint16]string{
	0x014c: "i386",
	0x01c0: "arm",
	0x01c4: "armnt",
	0x0200: "ia64",
	0x8664: "amd64",
	0xaa64: "arm64",
}

// ParsePE reads COFF header evidence from a (possibly truncated) PE head.
// It returns nil when no NT header can be located.
func ParsePE(head []byte) *PEInfo {
	f, err := pe.NewBytes(head, &pe.Options{Fast: true})
	if err != nil {
		return nil
	}
	// Parse may fail on sections past the head; the NT header is enough.
	if err := f.Parse(); err != nil && !f.HasNTHdr {
		return nil
	}
	if !f.HasNTHdr {
		return nil
	}
	hdr := f.NtHeader.FileHeader
	machine := uint16(hdr.Machine)
	info := &PEInfo{
		Machine:  machineNames[machine],
		Is64:     f.Is64,
		IsDLL:    f.IsDLL(),
		Sections: int(hdr.NumberOfSections),
	}
	if info.Machine == "" {
		info.Machine = fmt.Sprintf("0x%04x", machine)
	}
	if hdr.TimeDateStamp != 0 {
		ts := time.Unix(int64(hdr.TimeDateStamp), 0).UTC()
		info.Compiled = &ts
	}
	return info
}
