package processor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiflow/config"
	"sentiflow/models"
)

// fixedPolarity returns a preset compound per text.
type fixedPolarity map[string]float64

func (f fixedPolarity) Compound(text string) float64 { return f[text] }

func defaultSentiment() config.SentimentConfig {
	return config.Default().Sentiment
}

func TestNormScoreAffine(t *testing.T) {
	assert.Equal(t, 0.0, NormScore(-1))
	assert.Equal(t, 50.0, NormScore(0))
	assert.Equal(t, 100.0, NormScore(1))
	for c := -1.0; c <= 1.0; c += 0.125 {
		assert.InDelta(t, (c+1)*50, NormScore(c), 1e-9)
	}
	assert.Equal(t, 0.0, NormScore(-1.5))
	assert.Equal(t, 100.0, NormScore(2))
}

func TestLabelBoundariesInclusive(t *testing.T) {
	cases := map[float64]string{
		44: models.LabelNegative,
		45: models.LabelNegative,
		50: models.LabelNeutral,
		55: models.LabelPositive,
		56: models.LabelPositive,
	}
	for norm, want := range cases {
		assert.Equal(t, want, Label(norm, 45, 55), "norm=%v", norm)
	}
}

func TestAnnotateBlankTextIsNeutral(t *testing.T) {
	s := NewScorer(defaultSentiment(), fixedPolarity{})
	for _, text := range []string{"", "   ", "\n\t"} {
		a := s.Annotate(text)
		assert.Equal(t, 0.0, a.Compound)
		assert.Equal(t, 50.0, a.NormScore)
		assert.Equal(t, models.LabelNeutral, a.Label)
	}
}

func TestAnnotateBatchIndependentOfGrouping(t *testing.T) {
	p := fixedPolarity{"up": 0.8, "down": -0.6, "meh": 0.02}
	s := NewScorer(defaultSentiment(), p)
	texts := []string{"up", "down", "meh", "up"}

	whole := s.AnnotateBatch(texts)
	var split []Annotation
	split = append(split, s.AnnotateBatch(texts[:1])...)
	split = append(split, s.AnnotateBatch(texts[1:3])...)
	split = append(split, s.AnnotateBatch(texts[3:])...)

	assert.Equal(t, whole, split)
	assert.Equal(t, models.LabelPositive, whole[0].Label)
	assert.Equal(t, models.LabelNegative, whole[1].Label)
	assert.Equal(t, models.LabelNeutral, whole[2].Label)
}

func TestScoreCarriesMessageFields(t *testing.T) {
	s := NewScorer(defaultSentiment(), fixedPolarity{"moon": 0.5})
	msgs := []models.RawMessage{{Source: models.SourceTwitter, Origin: "q", ID: 1, Timestamp: day(1).Add(3600e9), Text: "moon"}}

	recs := s.Score(msgs)
	require.Len(t, recs, 1)
	assert.Equal(t, models.SourceTwitter, recs[0].Source)
	assert.Equal(t, 75.0, recs[0].NormScore)
	assert.Equal(t, models.LabelPositive, recs[0].Label)
}

func TestVaderPolarity(t *testing.T) {
	s := NewScorer(defaultSentiment(), nil)

	good := s.Annotate("Bitcoin is great, I love this rally!")
	bad := s.Annotate("This crash is terrible and awful.")

	assert.Greater(t, good.Compound, 0.0)
	assert.Less(t, bad.Compound, 0.0)
	assert.False(t, math.IsNaN(good.NormScore))
	assert.Equal(t, models.LabelPositive, good.Label)
	assert.Equal(t, models.LabelNegative, bad.Label)
}
