package ml

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClassifier_JSON(t *testing.T) {
	p, err := LoadClassifier("testdata/pipeline.json")
	require.NoError(t, err)

	info := p.Info()
	assert.Equal(t, "2020.06-lr", info.Version)
	assert.Equal(t, 2020, info.TrainedAt.Year())
	assert.Equal(t, "testdata/pipeline.json", info.Path)
	assert.Equal(t, "statuses_count", info.Features[0])
	assert.Equal(t, "protected", info.Features[7])

	assert.Equal(t, 12000.0, p.Scaler().Mean[0])
	assert.Equal(t, -2.1, p.Classifier().Coef[6])
	assert.Equal(t, -0.5, p.Classifier().Intercept)
	assert.Equal(t, [2]int{0, 1}, p.Classifier().Classes)
}

func TestLoadClassifier_YAMLMatchesJSON(t *testing.T) {
	fromJSON, err := LoadClassifier("testdata/pipeline.json")
	require.NoError(t, err)
	fromYAML, err := LoadClassifier("testdata/pipeline.yaml")
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Scaler(), fromYAML.Scaler())
	assert.Equal(t, fromJSON.Classifier(), fromYAML.Classifier())
	assert.Equal(t, fromJSON.Score(referenceFeatures()), fromYAML.Score(referenceFeatures()))
}

func TestLoadClassifier_NotFound(t *testing.T) {
	_, err := LoadClassifier(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
	assert.False(t, errors.Is(err, ErrArtifactCorrupt))
}

func TestLoadClassifier_Corrupt(t *testing.T) {
	valid := func() Artifact {
		data, err := os.ReadFile("testdata/pipeline.json")
		require.NoError(t, err)
		var a Artifact
		require.NoError(t, json.Unmarshal(data, &a))
		return a
	}

	testCases := []struct {
		name   string
		mutate func(a *Artifact)
		raw    string
	}{
		{name: "not json", raw: "\x80\x04\x95pickle"},
		{name: "empty object", raw: "{}"},
		{name: "missing scaler", mutate: func(a *Artifact) { a.Steps = a.Steps[1:] }},
		{name: "missing classifier", mutate: func(a *Artifact) { a.Steps = a.Steps[:1] }},
		{name: "renamed stage", mutate: func(a *Artifact) { a.Steps[0].Name = "standardscaler" }},
		{name: "short mean", mutate: func(a *Artifact) { a.Steps[0].Mean = a.Steps[0].Mean[:7] }},
		{name: "long coef", mutate: func(a *Artifact) { a.Steps[1].Coef[0] = append(a.Steps[1].Coef[0], 1) }},
		{name: "multi-class coef", mutate: func(a *Artifact) { a.Steps[1].Coef = append(a.Steps[1].Coef, a.Steps[1].Coef[0]) }},
		{name: "no intercept", mutate: func(a *Artifact) { a.Steps[1].Intercept = nil }},
		{name: "three classes", mutate: func(a *Artifact) { a.Steps[1].Classes = []int{0, 1, 2} }},
		{name: "scrambled features", mutate: func(a *Artifact) {
			a.Features[0], a.Features[1] = a.Features[1], a.Features[0]
		}},
		{name: "seven features", mutate: func(a *Artifact) { a.Features = a.Features[:7] }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pipeline.json")
			data := []byte(tc.raw)
			if tc.mutate != nil {
				a := valid()
				tc.mutate(&a)
				var err error
				data, err = json.Marshal(a)
				require.NoError(t, err)
			}
			require.NoError(t, os.WriteFile(path, data, 0o600))

			_, err := LoadClassifier(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrArtifactCorrupt), "got %v", err)
		})
	}
}

func TestLoadClassifier_DirectoryIsCorrupt(t *testing.T) {
	_, err := LoadClassifier(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactCorrupt))
}

func TestArtifact_WithoutFeatureListUsesCanonicalOrder(t *testing.T) {
	data, err := os.ReadFile("testdata/pipeline.json")
	require.NoError(t, err)
	var a Artifact
	require.NoError(t, json.Unmarshal(data, &a))
	a.Features = nil

	p, err := a.Pipeline()
	require.NoError(t, err)
	assert.Len(t, p.Info().Features, 8)
}
