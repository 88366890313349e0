package analysis

import (
	"context"

	"imgtriage/forensicfs"
	"imgtriage/fuzzy"
	"imgtriage/logger"
	"imgtriage/metadata"
	"imgtriage/risk"
	"imgtriage/sampling"
	"imgtriage/scanner"
	"imgtriage/timeline"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const backingFilePattern = "imgtriage-*.img"

// spool writes data to a temporary backing file for the forensics backend.
// The returned cleanup removes it.
func (a *Analyzer) spool(data []byte) (string, func(), error) {
	f, err := afero.TempFile(a.deps.Fs, a.cfg.TempDir, backingFilePattern)
	if err != nil {
		return "", nil, errors.Wrap(err, "create backing file")
	}
	name := f.Name()
	cleanup := func() {
		if err := a.deps.Fs.Remove(name); err != nil {
			logger.Warnf("Failed to remove backing file %s: %v", name, err)
		}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, errors.Wrap(err, "write backing file")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "close backing file")
	}
	return name, cleanup, nil
}

func (a *Analyzer) openImage(path string) (img forensicfs.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, errors.Errorf("image open panic: %v", r)
		}
	}()
	return forensicfs.OpenImage(a.deps.Backend, path, forensicfs.RetryPolicy{
		Attempts: a.cfg.OpenRetries,
		Backoff:  a.cfg.OpenRetryBackoff,
		Sleep:    a.deps.Sleep,
	})
}

// scan mounts the image and fills sum from the files it holds. It returns
// nil findings when no regular file was discovered, leaving the fallback to
// the caller. sum.Unreadable is set when nothing could be mounted.
func (a *Analyzer) scan(ctx context.Context, in Input, sum *Summary, log *logrus.Entry) (*findings, error) {
	backing, cleanup, err := a.spool(in.Data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	img, err := a.openImage(backing)
	if err != nil {
		log.Warnf("Image could not be opened: %v", err)
		sum.ParseWarnings = append(sum.ParseWarnings, err.Error())
		sum.Unreadable = true
		return nil, nil
	}
	defer img.Close()

	session, err := scanner.Open(img, a.cfg, scanner.Options{
		Limiter: a.deps.Limiter,
		OnFile:  a.deps.OnFile,
	})
	if err != nil {
		log.Warnf("No filesystem could be mounted: %v", err)
		sum.ParseWarnings = append(sum.ParseWarnings, err.Error())
		sum.Unreadable = errors.Is(err, scanner.ErrFilesystemUnreadable)
		return nil, nil
	}
	defer session.Close()

	result, err := session.Scan(ctx)
	if result != nil {
		sum.Volumes = append(sum.Volumes, result.Volumes...)
		sum.ParseWarnings = append(sum.ParseWarnings, result.Warnings...)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan image")
	}
	if len(result.Files) == 0 {
		log.Info("Mounted volumes hold no regular files")
		return nil, nil
	}
	return a.summarizeFiles(ctx, session, result.Files, sum, log), nil
}

func (a *Analyzer) summarizeFiles(ctx context.Context, session *scanner.Session, files []scanner.ScannedFile, sum *Summary, log *logrus.Entry) *findings {
	found := &findings{}
	records := make([]scanner.FileRecord, len(files))
	cands := make([]sampling.Candidate, len(files))
	for i := range files {
		f := &files[i]
		records[i] = f.Record
		reasons := f.Reasons()
		cands[i] = sampling.Candidate{
			Path:    f.Record.Path,
			Name:    f.Record.Name,
			Size:    f.Record.Size,
			Reasons: reasons,
			Head:    f.Head,
		}
		if len(reasons) > 0 {
			item := suspiciousItem(f.Record.Path, f.Record.Size, reasons)
			item.MimeType = f.Record.MimeType
			item.PE = f.PE
			sum.Suspicious = append(sum.Suspicious, item)
			found.evidence.Observe(reasons)
		}
		if f.Record.SHA256 != "" && a.deps.IOC.Contains(f.Record.SHA256) {
			log.Warnf("Known-bad digest %s at %s", f.Record.SHA256, f.Record.Path)
			sum.KnownBad = append(sum.KnownBad, f.Record.Path)
		}
	}

	sum.FileCount = len(records)
	sum.TopFiles = topFiles(records, a.cfg.TopFiles)
	sum.Hashes = digestList(records)
	sum.Timeline = timeline.Build(records)

	items := sampling.Select(cands, a.cfg.MaxSamples, func(i int) ([]byte, error) {
		return session.ReadHead(&files[i], a.cfg.SampleHeadSize)
	})
	for _, item := range items {
		ev, score := a.inspectSample(ctx, item, log)
		sum.Samples = append(sum.Samples, ev)
		if score != nil {
			found.scores = append(found.scores, *score)
		}
	}
	return found
}

// inspectSample enriches one sample and asks the scorer for its opinion. A
// failing scorer leaves the sample unscored.
func (a *Analyzer) inspectSample(ctx context.Context, item sampling.Item, log *logrus.Entry) (SampleEvidence, *risk.SampleScore) {
	ev := SampleEvidence{
		Path:     item.Path,
		Name:     item.Name,
		Size:     item.Size,
		Reasons:  item.Reasons,
		MimeType: scanner.DetectMime(item.Head),
	}
	if a.cfg.FuzzyHash {
		if digest, ok := fuzzy.Digest("tlsh", item.Head, int(a.cfg.FuzzyMinSize)); ok {
			ev.TLSH = digest
		}
	}
	if meta := metadata.ExtractMetadata(item.Head, ev.MimeType, a.cfg.MetadataMaxBytes); len(meta) > 0 {
		ev.Metadata = meta
	}
	if a.deps.Scorer == nil {
		return ev, nil
	}
	v, err := a.score(ctx, item.Head, item.Name)
	if err != nil {
		log.Warnf("Scorer failed for %s: %v", item.Path, err)
		return ev, nil
	}
	ev.Score = &v
	return ev, &risk.SampleScore{Path: item.Path, Score: v, Reasons: item.Reasons}
}
