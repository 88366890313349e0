package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"imgtriage/analysis"
	"imgtriage/config"
	"imgtriage/ioc"
	"imgtriage/logger"
	"imgtriage/metrics"
	"imgtriage/output"
	"imgtriage/scoring"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

// buildDeps loads the collaborators shared by every analysis of the run.
func buildDeps(cfg *config.Config) (analysis.Deps, error) {
	deps := analysis.Deps{
		Metrics: metrics.New(),
		OnFile: func(path string) {
			logger.Debugf("Processed %s", path)
		},
	}

	if cfg.IOCHashFile != "" {
		set, err := ioc.Load(cfg.IOCHashFile)
		if err != nil {
			return deps, err
		}
		logger.Infof("Loaded %d known-bad digests from %s", set.Len(), cfg.IOCHashFile)
		deps.IOC = set
	}

	if cfg.ModelPath != "" {
		model, err := scoring.LoadModel(cfg.ModelPath)
		if err != nil {
			return deps, err
		}
		deps.Scorer = model
	}

	cache, err := analysis.NewCache(cfg.CacheSize)
	if err != nil {
		return deps, errors.Wrap(err, "create cache")
	}
	deps.Cache = cache

	if cfg.MaxIOPerSecond > 0 {
		deps.Limiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}
	return deps, nil
}

// collectInputs expands directories one level deep into their regular files.
func collectInputs(paths []string) []string {
	var inputs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.Warnf("Failed to access %s: %v", p, err)
			inputs = append(inputs, p)
			continue
		}
		if !info.IsDir() {
			inputs = append(inputs, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			logger.Warnf("Failed to list %s: %v", p, err)
			continue
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				inputs = append(inputs, filepath.Join(p, e.Name()))
			}
		}
	}
	return inputs
}

func runAnalyses(ctx context.Context, cfg *config.Config, a *analysis.Analyzer, inputs []string, w *output.Writer) {
	bar := progressbar.NewOptions(len(inputs),
		progressbar.OptionSetDescription("Analyzing inputs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionFullWidth(),
	)

	workers := cfg.ConcurrencyLevel
	if workers <= 0 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan string, workers)
	progressCh := make(chan int, max(workers*4, 16))
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		for delta := range progressCh {
			_ = bar.Add(delta)
		}
	}()

	go func() {
		defer close(jobs)
		for _, path := range inputs {
			select {
			case <-ctx.Done():
				return
			case jobs <- path:
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					return
				}
				rec, ok := analyzeInput(ctx, cfg, a, path)
				if ok {
					w.WriteRecord(rec)
				}
				progressCh <- 1
			}
		}()
	}

	wg.Wait()
	close(progressCh)
	progressWG.Wait()
	_ = bar.Finish()
}

// analyzeInput produces the output record for one artifact. It reports false
// when the run was canceled mid-analysis and nothing should be written.
func analyzeInput(ctx context.Context, cfg *config.Config, a *analysis.Analyzer, path string) (output.Record, bool) {
	rec := output.Record{Source: sourceInfo(path, cfg.DeclareImage)}

	data, err := readInput(path, cfg.MaxInputSize)
	if err != nil {
		logger.Errorf("Failed to read %s: %v", path, err)
		rec.Error = err.Error()
		return rec, true
	}

	sum, err := a.Analyze(ctx, analysis.Input{
		Name:          filepath.Base(path),
		Data:          data,
		DeclaredImage: cfg.DeclareImage,
	})
	if err != nil {
		if ctx.Err() != nil {
			return rec, false
		}
		logger.Errorf("Analysis of %s failed: %v", path, err)
		rec.Error = err.Error()
		return rec, true
	}
	rec.Summary = sum
	return rec, true
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("IMGTRIAGE_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
