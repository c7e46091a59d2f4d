package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bot-scorer/internal/features"

	"gopkg.in/yaml.v3"
)

var (
	// ErrArtifactNotFound means the artifact file does not exist.
	ErrArtifactNotFound = errors.New("classifier artifact not found")
	// ErrArtifactCorrupt means the artifact exists but cannot be used.
	ErrArtifactCorrupt = errors.New("classifier artifact corrupt")
)

const (
	scalerStep     = "scaler"
	classifierStep = "classifier"
)

// Artifact is the on-disk form of a fitted pipeline.
type Artifact struct {
	Version   string    `json:"version" yaml:"version"`
	TrainedAt time.Time `json:"trained_at" yaml:"trained_at"`
	Features  []string  `json:"features" yaml:"features"`
	Steps     []Step    `json:"steps" yaml:"steps"`
}

// Step is one named pipeline stage. Only the fields of its type are set.
type Step struct {
	Name      string      `json:"name" yaml:"name"`
	Type      string      `json:"type" yaml:"type"`
	Mean      []float64   `json:"mean,omitempty" yaml:"mean,omitempty"`
	Scale     []float64   `json:"scale,omitempty" yaml:"scale,omitempty"`
	Coef      [][]float64 `json:"coef,omitempty" yaml:"coef,omitempty"`
	Intercept []float64   `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	Classes   []int       `json:"classes,omitempty" yaml:"classes,omitempty"`
}

// LoadClassifier reads and validates a pipeline artifact. The file format is
// chosen by extension: .yaml/.yml are YAML, anything else is JSON.
func LoadClassifier(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrArtifactCorrupt, path, err)
	}

	var a Artifact
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &a)
	default:
		err = json.Unmarshal(data, &a)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrArtifactCorrupt, path, err)
	}

	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	p.info.Path = path
	return p, nil
}

// Pipeline validates the artifact and builds the runtime pipeline.
func (a Artifact) Pipeline() (*Pipeline, error) {
	if err := a.checkFeatureOrder(); err != nil {
		return nil, err
	}

	scalerRaw, err := a.step(scalerStep)
	if err != nil {
		return nil, err
	}
	classifierRaw, err := a.step(classifierStep)
	if err != nil {
		return nil, err
	}

	scaler, err := scalerRaw.scaler()
	if err != nil {
		return nil, err
	}
	classifier, err := classifierRaw.classifier()
	if err != nil {
		return nil, err
	}

	return NewPipeline(scaler, classifier, Info{
		Version:   a.Version,
		TrainedAt: a.TrainedAt,
		Features:  canonicalNames(),
	}), nil
}

func (a Artifact) checkFeatureOrder() error {
	if len(a.Features) == 0 {
		return nil
	}
	if len(a.Features) != features.Count {
		return fmt.Errorf("%w: expected %d features, got %d", ErrArtifactCorrupt, features.Count, len(a.Features))
	}
	for i, n := range features.Names {
		if a.Features[i] != n.String() {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrArtifactCorrupt, i, a.Features[i], n)
		}
	}
	return nil
}

func (a Artifact) step(name string) (Step, error) {
	for _, s := range a.Steps {
		if s.Name == name {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("%w: missing %q step", ErrArtifactCorrupt, name)
}

func (s Step) scaler() (StandardScaler, error) {
	mean, err := toVector(s.Name+".mean", s.Mean)
	if err != nil {
		return StandardScaler{}, err
	}
	scale, err := toVector(s.Name+".scale", s.Scale)
	if err != nil {
		return StandardScaler{}, err
	}
	return StandardScaler{Mean: mean, Scale: scale}, nil
}

func (s Step) classifier() (LogisticRegression, error) {
	if len(s.Coef) != 1 {
		return LogisticRegression{}, fmt.Errorf("%w: %s.coef must have exactly one row, got %d", ErrArtifactCorrupt, s.Name, len(s.Coef))
	}
	coef, err := toVector(s.Name+".coef", s.Coef[0])
	if err != nil {
		return LogisticRegression{}, err
	}
	if len(s.Intercept) != 1 || !finite(s.Intercept[0]) {
		return LogisticRegression{}, fmt.Errorf("%w: %s.intercept must hold one finite value", ErrArtifactCorrupt, s.Name)
	}

	classes := [2]int{0, 1}
	if len(s.Classes) != 0 {
		if len(s.Classes) != 2 {
			return LogisticRegression{}, fmt.Errorf("%w: binary classifier expected, got %d classes", ErrArtifactCorrupt, len(s.Classes))
		}
		classes = [2]int{s.Classes[0], s.Classes[1]}
	}

	return LogisticRegression{Coef: coef, Intercept: s.Intercept[0], Classes: classes}, nil
}

func toVector(field string, values []float64) (Vector, error) {
	var v Vector
	if len(values) != features.Count {
		return v, fmt.Errorf("%w: %s has %d values, expected %d", ErrArtifactCorrupt, field, len(values), features.Count)
	}
	for i, x := range values {
		if !finite(x) {
			return v, fmt.Errorf("%w: %s[%d] is not finite", ErrArtifactCorrupt, field, i)
		}
		v[i] = x
	}
	return v, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
