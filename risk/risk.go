// Package risk folds per-file evidence, optional model scores and whole-image
// entropy into a single 0-100 score.
package risk

import (
	"math"

	"imgtriage/signals"
)

// Path names the step that produced a score.
type Path string

const (
	PathModelTrusted   Path = "model_trusted"
	PathModelUntrusted Path = "model_untrusted"
	PathHeuristic      Path = "heuristic"
	PathEntropy        Path = "entropy"
	PathFloor          Path = "floor"
)

const (
	TrustedModelThreshold = 60

	BenignMin = 5
	BenignMax = 30

	HeuristicMin = 20
	HeuristicMax = 95

	peWeight     = 35
	scriptWeight = 25
	extWeight    = 15

	corroborationStep = 6
	corroborationCap  = 25

	entropyTrigger   = 7.5
	entropyBaseline  = 7.6
	entropySpan      = 0.4
	entropyScale     = 62.5
	largeSampleBytes = 2_000_000
	largeSampleBonus = 5

	overrideMax = 95
)

// Evidence aggregates explicit reasons across every file of one image.
type Evidence struct {
	PEHits          bool `json:"pe_hits"`
	ScriptHits      bool `json:"script_hits"`
	ExtHits         bool `json:"ext_hits"`
	SuspiciousCount int  `json:"suspicious_count"`
}

// Observe folds the reasons of one suspicious item into e.
func (e *Evidence) Observe(reasons []string) {
	if len(reasons) == 0 {
		return
	}
	e.SuspiciousCount++
	for _, r := range reasons {
		switch r {
		case signals.ReasonPEHeader:
			e.PEHits = true
		case signals.ReasonJSKeywords, signals.ReasonVBSKeywords, signals.ReasonPS1Keywords:
			e.ScriptHits = true
		case signals.ReasonSuspExt:
			e.ExtHits = true
		}
	}
}

// Explicit reports whether any explicit reason was seen.
func (e Evidence) Explicit() bool {
	return e.PEHits || e.ScriptHits || e.ExtHits
}

// SampleScore is the content scorer's opinion of one sampled file.
type SampleScore struct {
	Path    string   `json:"path"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

type Input struct {
	Evidence Evidence
	Samples  []SampleScore
	// Entropy and SampleSize describe the whole-image head sample.
	Entropy    float64
	SampleSize int64
	// WholeImageScore is an optional scorer result over the raw image.
	WholeImageScore *float64
}

type Result struct {
	Score      int  `json:"score"`
	Path       Path `json:"path"`
	Overridden bool `json:"overridden"`
}

// Aggregate runs the trusted-model, heuristic, entropy and override steps in
// priority order. The result is always within [0,100].
func Aggregate(in Input) Result {
	var res Result
	switch {
	case len(in.Samples) > 0:
		res = modelScore(in.Samples)
		if res.Path == PathModelTrusted {
			break
		}
		if in.Evidence.Explicit() {
			res = heuristicScore(in.Evidence)
		}
	case in.Evidence.Explicit():
		res = heuristicScore(in.Evidence)
	default:
		res = entropyScore(in.Entropy, in.SampleSize)
	}

	if in.WholeImageScore != nil {
		model := roundScore(*in.WholeImageScore)
		before := res.Score
		if in.Evidence.Explicit() || model >= TrustedModelThreshold {
			res.Score = min(overrideMax, max(res.Score, model))
		} else {
			res.Score = max(BenignMin, min(BenignMax, res.Score, model))
		}
		res.Overridden = res.Score != before
	}
	res.Score = clamp(res.Score, 0, 100)
	return res
}

func modelScore(samples []SampleScore) Result {
	maxScore := math.Inf(-1)
	reasoned := false
	for _, s := range samples {
		if s.Score > maxScore {
			maxScore = s.Score
		}
		if len(s.Reasons) > 0 {
			reasoned = true
		}
	}
	score := roundScore(maxScore)
	if reasoned || score >= TrustedModelThreshold {
		return Result{Score: score, Path: PathModelTrusted}
	}
	return Result{Score: clamp(score, BenignMin, BenignMax), Path: PathModelUntrusted}
}

func heuristicScore(e Evidence) Result {
	score := 0
	if e.PEHits {
		score += peWeight
	}
	if e.ScriptHits {
		score += scriptWeight
	}
	if e.ExtHits {
		score += extWeight
	}
	score += min(corroborationCap, corroborationStep*max(0, e.SuspiciousCount-1))
	return Result{Score: clamp(score, HeuristicMin, HeuristicMax), Path: PathHeuristic}
}

func entropyScore(entropy float64, sampleSize int64) Result {
	if !(entropy > entropyTrigger) {
		return Result{Score: BenignMin, Path: PathFloor}
	}
	score := BenignMin + int(math.Floor(math.Min(entropySpan, entropy-entropyBaseline)*entropyScale))
	if sampleSize >= largeSampleBytes {
		score += largeSampleBonus
	}
	return Result{Score: clamp(score, BenignMin, BenignMax), Path: PathEntropy}
}

func roundScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
