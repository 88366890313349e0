// Package analysis runs the triage pipeline over one uploaded artifact: input
// validation, volume enumeration, per-file evidence, sampling, timeline and
// risk aggregation, with a raw-byte fallback when no file can be enumerated.
package analysis

import (
	"context"
	"math"
	"path"
	"strings"
	"time"

	"imgtriage/config"
	"imgtriage/forensicfs"
	"imgtriage/hasher"
	"imgtriage/imagecheck"
	"imgtriage/ioc"
	"imgtriage/logger"
	"imgtriage/metrics"
	"imgtriage/risk"
	"imgtriage/scoring"
	"imgtriage/signals"
	"imgtriage/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

var (
	// ErrInput rejects a buffer before any parsing is attempted.
	ErrInput = errors.New("invalid input")
	// ErrUnreadableImage classifies summaries of images that could not be
	// mounted. It is never returned by Analyze.
	ErrUnreadableImage = errors.New("unreadable image")
)

var imageExtensions = map[string]struct{}{
	".raw": {},
	".dd":  {},
	".img": {},
}

// IsImageName reports whether name carries a raw disk-image extension.
func IsImageName(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

type Input struct {
	Name string
	Data []byte
	// DeclaredImage marks the buffer as a disk image regardless of its name.
	DeclaredImage bool
}

func (in Input) declared() bool {
	return in.DeclaredImage || IsImageName(in.Name)
}

// Deps are the collaborators shared across analyses. All of them must be
// safe for concurrent use; nil optional members are skipped.
type Deps struct {
	// Backend opens the spooled image by path and must see the same
	// filesystem as Fs. Defaults to the go-diskfs backend over the OS.
	Backend forensicfs.Backend
	// Fs holds the temporary backing file. Defaults to the OS filesystem.
	Fs      afero.Fs
	Scorer  scoring.Scorer
	Cache   *Cache
	Metrics *metrics.Recorder
	IOC     *ioc.Set
	// Limiter throttles file opens inside images.
	Limiter *rate.Limiter
	OnFile  func(path string)
	// Sleep replaces time.Sleep between image open attempts.
	Sleep func(time.Duration)
}

type Analyzer struct {
	cfg  *config.Config
	deps Deps
}

func New(cfg *config.Config, deps Deps) *Analyzer {
	if deps.Backend == nil {
		deps.Backend = forensicfs.NewDiskBackend()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Analyzer{cfg: cfg, deps: deps}
}

// findings is the evidence handed to the risk aggregator.
type findings struct {
	evidence risk.Evidence
	scores   []risk.SampleScore
}

func (a *Analyzer) validateInput(in Input) error {
	size := len(in.Data)
	switch {
	case size == 0:
		return errors.Wrap(ErrInput, "empty buffer")
	case a.cfg.MaxInputSize > 0 && int64(size) > a.cfg.MaxInputSize:
		return errors.Wrapf(ErrInput, "buffer of %d bytes exceeds the %d byte limit", size, a.cfg.MaxInputSize)
	case in.declared() && size < imagecheck.MinImageSize:
		return errors.Wrapf(ErrInput, "declared disk image is only %d bytes", size)
	}
	return nil
}

// Analyze produces the summary of one artifact. Only ErrInput and context
// cancellation are returned as errors; every other failure degrades into
// warnings or the raw-byte fallback.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*Summary, error) {
	ctx, endTask := tracing.StartTask(ctx, "analyze")
	defer endTask()
	start := time.Now()

	if err := a.validateInput(in); err != nil {
		a.deps.Metrics.ObserveAnalysis(metrics.Analysis{Outcome: metrics.OutcomeRejected})
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uploadHashes := hasher.HashBytes(in.Data, a.cfg.HashAlgorithms)
	digest := uploadHashes[hasher.Primary]
	key := cacheKey(digest, in.Name, in.declared())
	if cached, ok := a.deps.Cache.Get(key); ok {
		a.deps.Metrics.CacheHit()
		logger.Debugf("Cache hit for %s (%s)", in.Name, digest)
		return cached, nil
	}

	id := uuid.New().String()
	log := logger.WithFields(logrus.Fields{"analysis_id": id, "filename": in.Name})
	sum := newSummary(id, in)
	sum.SHA256 = digest
	sum.UploadHashes = uploadHashes
	sum.ImageDetected, sum.ValidationMessage = imagecheck.Validate(in.Data)
	log.Debugf("Validation: %s", sum.ValidationMessage)

	outcome := metrics.OutcomeScanned
	var found *findings
	if sum.ImageDetected || in.declared() {
		var err error
		found, err = a.scan(ctx, in, sum, log)
		if err != nil {
			a.deps.Metrics.ObserveAnalysis(metrics.Analysis{Outcome: metrics.OutcomeError})
			return nil, err
		}
	}
	if found == nil {
		outcome = metrics.OutcomeFallback
		if sum.Unreadable {
			outcome = metrics.OutcomeUnreadable
		}
		found = a.fallback(ctx, in, sum, !sum.ImageDetected && !in.declared(), log)
	}

	head := rawHead(in.Data, a.cfg.FallbackScanBytes)
	result := risk.Aggregate(risk.Input{
		Evidence:        found.evidence,
		Samples:         found.scores,
		Entropy:         signals.Entropy(head),
		SampleSize:      int64(len(head)),
		WholeImageScore: a.wholeImageScore(ctx, in, log),
	})
	sum.Evidence = found.evidence
	sum.RiskScore = result.Score
	sum.RiskPath = result.Path
	sum.RiskOverridden = result.Overridden
	if a.deps.IOC.Contains(digest) {
		sum.KnownBad = append([]string{RawImageLabel}, sum.KnownBad...)
	}

	elapsed := time.Since(start)
	a.deps.Metrics.ObserveAnalysis(metrics.Analysis{
		Outcome:   outcome,
		Files:     sum.FileCount,
		Warnings:  len(sum.ParseWarnings),
		KnownBad:  len(sum.KnownBad),
		RiskScore: sum.RiskScore,
		Elapsed:   elapsed,
	})
	log.WithFields(logrus.Fields{
		"files":     sum.FileCount,
		"risk":      sum.RiskScore,
		"risk_path": sum.RiskPath,
		"elapsed":   elapsed.Round(time.Millisecond),
	}).Info("Analysis complete")

	a.deps.Cache.Add(key, sum)
	return sum, nil
}

// Condition returns ErrUnreadableImage when no filesystem could be mounted.
func (s *Summary) Condition() error {
	if s != nil && s.Unreadable {
		return ErrUnreadableImage
	}
	return nil
}

func rawHead(data []byte, limit int) []byte {
	if limit > 0 && len(data) > limit {
		return data[:limit]
	}
	return data
}

func (a *Analyzer) wholeImageScore(ctx context.Context, in Input, log *logrus.Entry) *float64 {
	if !a.cfg.ScoreWholeImage || a.deps.Scorer == nil {
		return nil
	}
	v, err := a.score(ctx, in.Data, in.Name)
	if err != nil {
		log.Warnf("Whole-image scoring failed: %v", err)
		return nil
	}
	return &v
}

// score calls the injected scorer, turning panics and non-finite results into errors.
func (a *Analyzer) score(ctx context.Context, data []byte, name string) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, errors.Errorf("scorer panic: %v", r)
		}
	}()
	v, err = a.deps.Scorer.Score(ctx, data, name)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("scorer returned %v", v)
	}
	return v, nil
}
