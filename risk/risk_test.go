package risk

import (
	"math"
	"testing"

	"imgtriage/signals"

	"github.com/stretchr/testify/assert"
)

func evidence(items ...[]string) Evidence {
	var e Evidence
	for _, reasons := range items {
		e.Observe(reasons)
	}
	return e
}

func score(v float64) *float64 { return &v }

func TestPEExecutableUsesHeuristicPath(t *testing.T) {
	res := Aggregate(Input{Evidence: evidence([]string{signals.ReasonPEHeader, signals.ReasonSuspExt})})
	assert.Equal(t, Result{Score: 50, Path: PathHeuristic}, res)
}

func TestHighEntropyImageWithoutEvidence(t *testing.T) {
	res := Aggregate(Input{Entropy: 7.9, SampleSize: 2_500_000})
	assert.Equal(t, 28, res.Score)
	assert.Equal(t, PathEntropy, res.Path)
}

func TestTrustedModelScoreWins(t *testing.T) {
	res := Aggregate(Input{
		Evidence: evidence([]string{signals.ReasonPEHeader}, []string{signals.ReasonJSKeywords}),
		Samples:  []SampleScore{{Path: "/a.exe", Score: 85, Reasons: []string{signals.ReasonPEHeader}}},
		Entropy:  7.99,
	})
	assert.Equal(t, Result{Score: 85, Path: PathModelTrusted}, res)
}

func TestHighModelScoreTrustedWithoutReasons(t *testing.T) {
	res := Aggregate(Input{Samples: []SampleScore{{Score: 12}, {Score: 72.6}}})
	assert.Equal(t, Result{Score: 73, Path: PathModelTrusted}, res)
}

func TestUntrustedModelClampedToBenignBand(t *testing.T) {
	cases := map[float64]int{0: 5, 3.2: 5, 17.5: 18, 45: 30, 59.4: 30}
	for in, want := range cases {
		res := Aggregate(Input{Samples: []SampleScore{{Score: in, Reasons: []string{}}}, Entropy: 7.99, SampleSize: 5_000_000})
		assert.Equal(t, want, res.Score, "model score %v", in)
		assert.Equal(t, PathModelUntrusted, res.Path)
	}
}

func TestUntrustedModelYieldsToHeuristic(t *testing.T) {
	res := Aggregate(Input{
		Evidence: evidence([]string{signals.ReasonSuspExt}),
		Samples:  []SampleScore{{Path: "/big.iso", Score: 10}},
	})
	assert.Equal(t, Result{Score: 20, Path: PathHeuristic}, res)
}

func TestHeuristicCorroborationBonusAndClamp(t *testing.T) {
	var items [][]string
	for i := 0; i < 3; i++ {
		items = append(items, []string{signals.ReasonSuspExt})
	}
	// 15 + 6*2
	assert.Equal(t, 27, Aggregate(Input{Evidence: evidence(items...)}).Score)

	items = nil
	for i := 0; i < 40; i++ {
		items = append(items, []string{signals.ReasonPEHeader, signals.ReasonVBSKeywords, signals.ReasonSuspExt})
	}
	// 35 + 25 + 15 + 25 = 100, clamped
	assert.Equal(t, HeuristicMax, Aggregate(Input{Evidence: evidence(items...)}).Score)
}

func TestHighEntropyOnlyItemsCountButDoNotTriggerHeuristic(t *testing.T) {
	e := evidence([]string{signals.ReasonHighEntropy}, []string{signals.ReasonHighEntropy})
	assert.Equal(t, 2, e.SuspiciousCount)
	assert.False(t, e.Explicit())
	res := Aggregate(Input{Evidence: e, Entropy: 4.0})
	assert.Equal(t, Result{Score: 5, Path: PathFloor}, res)
}

func TestEntropyFallbackBoundaries(t *testing.T) {
	cases := []struct {
		entropy float64
		size    int64
		want    int
		path    Path
	}{
		{7.5, 10_000_000, 5, PathFloor},
		{7.55, 0, 5, PathEntropy},
		{7.7, 1_000, 11, PathEntropy},
		{8.0, 1_999_999, 30, PathEntropy},
		{8.0, 2_000_000, 30, PathEntropy},
		{0, 0, 5, PathFloor},
	}
	for _, tc := range cases {
		res := Aggregate(Input{Entropy: tc.entropy, SampleSize: tc.size})
		assert.Equal(t, tc.want, res.Score, "entropy %v size %d", tc.entropy, tc.size)
		assert.Equal(t, tc.path, res.Path)
	}
}

func TestWholeImageOverride(t *testing.T) {
	res := Aggregate(Input{Evidence: evidence([]string{signals.ReasonJSKeywords}), WholeImageScore: score(99)})
	assert.Equal(t, 95, res.Score)
	assert.True(t, res.Overridden)

	res = Aggregate(Input{Evidence: evidence([]string{signals.ReasonJSKeywords}), WholeImageScore: score(10)})
	assert.Equal(t, 25, res.Score)
	assert.False(t, res.Overridden)

	res = Aggregate(Input{Entropy: 7.9, SampleSize: 3_000_000, WholeImageScore: score(12)})
	assert.Equal(t, 12, res.Score)
	assert.True(t, res.Overridden)

	res = Aggregate(Input{WholeImageScore: score(1)})
	assert.Equal(t, 5, res.Score)

	res = Aggregate(Input{WholeImageScore: score(64)})
	assert.Equal(t, 64, res.Score)
	assert.Equal(t, PathFloor, res.Path)
}

func TestScoreAlwaysInRange(t *testing.T) {
	inputs := []Input{
		{Samples: []SampleScore{{Score: 1e9, Reasons: []string{"x"}}}},
		{Samples: []SampleScore{{Score: -40}}},
		{Samples: []SampleScore{{Score: math.NaN()}}},
		{WholeImageScore: score(-3)},
		{Entropy: 100, SampleSize: 1 << 40},
	}
	for _, in := range inputs {
		res := Aggregate(in)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 100)
	}
}
