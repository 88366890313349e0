package scanner

import (
	"context"
	"fmt"
	"strings"

	"imgtriage/config"
	"imgtriage/forensicfs"
	"imgtriage/logger"
	"imgtriage/tracing"
	"imgtriage/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Options struct {
	// Limiter throttles file opens inside the image; nil means unlimited.
	Limiter *rate.Limiter
	// OnFile is called after each regular file has been processed.
	OnFile func(path string)
}

// Result is the outcome of traversing every mounted volume.
type Result struct {
	Volumes  []string
	Files    []ScannedFile
	Warnings []string
}

// Session holds the mounted volumes of one image until Close.
type Session struct {
	cfg      *config.Config
	opts     Options
	volumes  []Volume
	matcher  *utils.PatternMatcher
	modules  []FileModule
	warnings []string
	log      *logrus.Entry
}

// Open mounts img. Mount problems become warnings of the session; when no
// volume mounts at all the error wraps ErrFilesystemUnreadable.
func Open(img forensicfs.Image, cfg *config.Config, opts Options) (*Session, error) {
	volumes, warnings := MountVolumes(img)
	if len(volumes) == 0 {
		if len(warnings) > 0 {
			return nil, errors.Wrap(ErrFilesystemUnreadable, strings.Join(warnings, "; "))
		}
		return nil, ErrFilesystemUnreadable
	}
	s := &Session{
		cfg:      cfg,
		opts:     opts,
		volumes:  volumes,
		matcher:  utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns),
		modules:  buildFileModules(),
		warnings: warnings,
		log:      logger.WithFields(logrus.Fields{"volumes": len(volumes)}),
	}
	return s, nil
}

// Labels returns the mounted volume labels in mount order.
func (s *Session) Labels() []string {
	labels := make([]string, len(s.volumes))
	for i, v := range s.volumes {
		labels[i] = v.Label
	}
	return labels
}

func (s *Session) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warn(msg)
	s.warnings = append(s.warnings, msg)
}

// Scan walks every volume and processes each regular file through the module
// chain. Per-file and per-directory failures are recorded as warnings. Heads of
// the first MaxSamples files with explicit evidence are retained for sampling.
func (s *Session) Scan(ctx context.Context) (*Result, error) {
	ctx, endTask := tracing.StartTask(ctx, "scan_image")
	defer endTask()

	res := &Result{Volumes: s.Labels()}
	retained := 0
	for i, vol := range s.volumes {
		tracing.Log(ctx, "volume", vol.Label)
		err := Walk(ctx, vol.FS, s.cfg.MaxTraversalDepth, func(fsPath string, entry forensicfs.Entry) error {
			displayPath := DisplayPath(vol.Label, fsPath)
			if !s.matcher.ShouldInclude(displayPath) {
				return nil
			}
			if s.opts.Limiter != nil {
				if err := s.opts.Limiter.Wait(ctx); err != nil {
					return err
				}
			}
			file := s.processFile(ctx, i, fsPath, displayPath, entry)
			if file.Signals.Explicit() && retained < s.cfg.MaxSamples {
				file.Head = truncateCopy(file.Head, s.cfg.SampleHeadSize)
				retained++
			} else {
				file.Head = nil
			}
			res.Files = append(res.Files, file)
			if s.opts.OnFile != nil {
				s.opts.OnFile(displayPath)
			}
			return nil
		}, func(format string, args ...interface{}) {
			s.warnf("%s: %s", vol.Label, fmt.Sprintf(format, args...))
		})
		if err != nil {
			res.Warnings = append(res.Warnings, s.warnings...)
			return res, err
		}
	}
	res.Warnings = append(res.Warnings, s.warnings...)
	return res, nil
}

func (s *Session) processFile(ctx context.Context, volume int, fsPath, displayPath string, entry forensicfs.Entry) ScannedFile {
	endRegion := tracing.StartRegion(ctx, "process_file")
	defer endRegion()

	data := ScannedFile{
		Record: FileRecord{
			Path:   displayPath,
			Name:   entry.Name,
			Volume: s.volumes[volume].Label,
			Size:   entry.Meta.Size,
			Ctime:  entry.Meta.Ctime,
			Mtime:  entry.Meta.Mtime,
			Atime:  entry.Meta.Atime,
		},
		volume: volume,
		fsPath: fsPath,
	}

	file, err := openFile(s.volumes[volume].FS, fsPath)
	if err != nil {
		s.warnf("Failed to open %s: %v", displayPath, err)
		return data
	}
	defer file.Close()

	fc := &FileContext{
		Path:   displayPath,
		FSPath: fsPath,
		Entry:  entry,
		File:   file,
		Cfg:    s.cfg,
	}
	for _, module := range s.modules {
		if !module.Enabled(s.cfg) {
			continue
		}
		if err := runModule(ctx, module, fc, &data); err != nil {
			s.warnf("Module %s failed for %s: %v", module.Name(), displayPath, err)
		}
	}
	if fc.headLoaded && fc.headErr == nil {
		data.Head = fc.head
	}
	return data
}

func openFile(fsys forensicfs.Filesystem, fsPath string) (file forensicfs.File, err error) {
	defer func() {
		if r := recover(); r != nil {
			file, err = nil, errors.Errorf("open panic: %v", r)
		}
	}()
	return fsys.Open(fsPath)
}

// ReadHead re-reads up to limit bytes from the start of a scanned file.
func (s *Session) ReadHead(f *ScannedFile, limit int) (head []byte, err error) {
	if f.volume < 0 || f.volume >= len(s.volumes) {
		return nil, errors.Errorf("unknown volume for %s", f.Record.Path)
	}
	defer func() {
		if r := recover(); r != nil {
			head, err = nil, errors.Errorf("read panic: %v", r)
		}
	}()
	file, err := s.volumes[f.volume].FS.Open(f.fsPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readHead(file, f.Record.Size, limit, s.cfg.ReadChunkSize)
}

// Close releases every mounted volume.
func (s *Session) Close() error {
	closeVolumes(s.volumes)
	s.volumes = nil
	return nil
}

// DisplayPath prefixes in-volume paths with the partition label.
func DisplayPath(label, fsPath string) string {
	if label == RootLabel {
		return fsPath
	}
	return label + fsPath
}
