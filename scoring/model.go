// Package scoring provides the optional content scorer consulted for sampled
// files and its default logistic model.
package scoring

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"imgtriage/logger"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Scorer rates content on a 0-100 scale. Implementations must be safe for
// concurrent use.
type Scorer interface {
	Score(ctx context.Context, data []byte, name string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, data []byte, name string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, data []byte, name string) (float64, error) {
	return f(ctx, data, name)
}

type Scaling struct {
	Mean float64 `json:"mean" yaml:"mean"`
	Std  float64 `json:"std" yaml:"std"`
}

// LinearModel is a logistic regression over Features in FeatureNames order.
// Missing weights count as zero and weights for unknown features are ignored;
// features listed in Scale are standardized before weighting.
type LinearModel struct {
	FeatureNames []string           `json:"feature_names" yaml:"feature_names"`
	Intercept    float64            `json:"intercept" yaml:"intercept"`
	Weights      map[string]float64 `json:"weights" yaml:"weights"`
	Scale        map[string]Scaling `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// LoadModel reads a YAML or JSON model file, chosen by extension.
func LoadModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model")
	}
	model := &LinearModel{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, model)
	default:
		err = json.Unmarshal(data, model)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse model %s", path)
	}
	if len(model.Weights) == 0 {
		return nil, errors.Errorf("model %s has no weights", path)
	}
	for name := range model.Weights {
		if !knownFeature(name) {
			logger.Warnf("Model weight %q does not match any extracted feature", name)
		}
	}
	if len(model.FeatureNames) > 0 && !sameNames(model.FeatureNames, FeatureNames) {
		logger.Warn("Feature names in model differ from extracted features; scores may be unreliable")
	}
	logger.Infof("Risk model loaded from %s", path)
	return model, nil
}

func knownFeature(name string) bool {
	for _, n := range FeatureNames {
		if n == name {
			return true
		}
	}
	return false
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Probability returns the model's risk probability for f.
func (m *LinearModel) Probability(f Features) float64 {
	z := m.Intercept
	for i, v := range f.Vector() {
		name := FeatureNames[i]
		w, ok := m.Weights[name]
		if !ok {
			continue
		}
		if s, ok := m.Scale[name]; ok && s.Std != 0 {
			v = (v - s.Mean) / s.Std
		}
		z += w * v
	}
	return 1 / (1 + math.Exp(-z))
}

// Score implements Scorer on extracted content features.
func (m *LinearModel) Score(ctx context.Context, data []byte, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := m.Probability(ExtractFeatures(data, name))
	if math.IsNaN(p) {
		return 0, errors.New("model produced NaN")
	}
	return math.Max(0, math.Min(100, math.Round(p*100))), nil
}
