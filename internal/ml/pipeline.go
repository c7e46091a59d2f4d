// Package ml scores accounts with a fitted two-stage classification pipeline
// (standardization followed by logistic regression) and explains individual
// predictions through per-feature contributions to the log-odds.
//
// A Pipeline is loaded once from a serialized artifact and is immutable
// afterwards, so a single instance can be shared by any number of goroutines.
// The package performs no logging and no network I/O.
package ml

import (
	"math"
	"sort"
	"time"

	"bot-scorer/internal/features"
)

// Vector is one standardized or raw row in canonical feature order.
type Vector = [features.Count]float64

// StandardScaler standardizes a raw row with the per-feature mean and scale
// captured at fit time.
type StandardScaler struct {
	Mean  Vector
	Scale Vector
}

// Transform returns (x - mean) / scale for every position.
func (s StandardScaler) Transform(x Vector) Vector {
	var z Vector
	for i := range x {
		z[i] = (x[i] - s.Mean[i]) / s.Scale[i]
	}
	return z
}

// LogisticRegression is a fitted binary linear classifier.
type LogisticRegression struct {
	Coef      Vector
	Intercept float64
	Classes   [2]int
}

// DecisionFunction returns the log-odds of the positive class.
func (c LogisticRegression) DecisionFunction(z Vector) float64 {
	sum := c.Intercept
	for i := range z {
		sum += c.Coef[i] * z[i]
	}
	return sum
}

// PredictProba returns [P(class 0), P(class 1)].
func (c LogisticRegression) PredictProba(z Vector) [2]float64 {
	p := sigmoid(c.DecisionFunction(z))
	return [2]float64{1 - p, p}
}

// Info describes the loaded artifact.
type Info struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Features  []string  `json:"features"`
	Path      string    `json:"path"`
}

// Pipeline chains the scaler and the classifier.
type Pipeline struct {
	scaler     StandardScaler
	classifier LogisticRegression
	info       Info
}

// NewPipeline assembles a pipeline from already fitted stages.
func NewPipeline(scaler StandardScaler, classifier LogisticRegression, info Info) *Pipeline {
	for i, s := range scaler.Scale {
		if s == 0 {
			scaler.Scale[i] = 1
		}
	}
	if len(info.Features) == 0 {
		info.Features = canonicalNames()
	}
	return &Pipeline{scaler: scaler, classifier: classifier, info: info}
}

// Scaler returns the first stage.
func (p *Pipeline) Scaler() StandardScaler { return p.scaler }

// Classifier returns the second stage.
func (p *Pipeline) Classifier() LogisticRegression { return p.classifier }

// Info returns artifact metadata.
func (p *Pipeline) Info() Info { return p.info }

// DecisionFunction standardizes a raw row and returns its log-odds.
func (p *Pipeline) DecisionFunction(x Vector) float64 {
	return p.classifier.DecisionFunction(p.scaler.Transform(x))
}

// PredictProba standardizes a raw row and returns both class probabilities.
func (p *Pipeline) PredictProba(x Vector) [2]float64 {
	return p.classifier.PredictProba(p.scaler.Transform(x))
}

// Score returns the probability that the account is automated.
// Inputs outside the training distribution are not clamped.
func (p *Pipeline) Score(f features.Features) float64 {
	return p.PredictProba(f.Vector())[1]
}

// Contributions returns coef_i * z_i for every feature: each feature's signed
// share of the positive-class log-odds for this particular input.
func (p *Pipeline) Contributions(f features.Features) Vector {
	z := p.scaler.Transform(f.Vector())
	var c Vector
	for i := range z {
		c[i] = p.classifier.Coef[i] * z[i]
	}
	return c
}

// RankImportance orders the features from the strongest push towards the
// bot class to the strongest push away from it. Values are the original
// inputs. Equal contributions keep canonical order.
func (p *Pipeline) RankImportance(f features.Features) features.Ranked {
	contrib := p.Contributions(f)
	raw := f.Vector()

	ranked := make(features.Ranked, features.Count)
	for i, n := range features.Names {
		ranked[i] = features.Entry{Name: n, Value: raw[n]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return contrib[ranked[i].Name] > contrib[ranked[j].Name]
	})
	return ranked
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func canonicalNames() []string {
	names := make([]string, features.Count)
	for i, n := range features.Names {
		names[i] = n.String()
	}
	return names
}
