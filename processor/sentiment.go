package processor

import (
	"math"
	"strings"

	"github.com/jonreiter/govader"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
)

// Polarity returns a compound polarity in [-1, 1] for a piece of text.
type Polarity interface {
	Compound(text string) float64
}

type vaderPolarity struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVaderPolarity returns the lexicon based VADER analyzer.
func NewVaderPolarity() Polarity {
	return &vaderPolarity{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *vaderPolarity) Compound(text string) float64 {
	return v.analyzer.PolarityScores(text).Compound
}

// Annotation is the sentiment of one text.
type Annotation struct {
	Compound  float64
	NormScore float64
	Label     string
}

// Scorer labels text against two thresholds on the 0..100 scale.
// Labels are boundary inclusive: norm <= low is negative, norm >= high is
// positive.
type Scorer struct {
	polarity Polarity
	low      float64
	high     float64
	log      *logger.Log
}

// NewScorer builds a Scorer. A nil polarity selects VADER.
func NewScorer(cfg config.SentimentConfig, polarity Polarity) *Scorer {
	if polarity == nil {
		polarity = NewVaderPolarity()
	}
	return &Scorer{
		polarity: polarity,
		low:      cfg.LowThreshold,
		high:     cfg.HighThreshold,
		log:      logger.GetLogger(),
	}
}

// NormScore maps a compound polarity onto [0, 100].
func NormScore(compound float64) float64 {
	return math.Max(0, math.Min(100, (compound+1)*50))
}

// Label classifies a norm score.
func Label(norm, low, high float64) string {
	switch {
	case norm <= low:
		return models.LabelNegative
	case norm >= high:
		return models.LabelPositive
	default:
		return models.LabelNeutral
	}
}

// Annotate scores a single text. Blank text scores a compound of zero.
func (s *Scorer) Annotate(text string) Annotation {
	var compound float64
	if strings.TrimSpace(text) != "" {
		compound = s.polarity.Compound(text)
	}
	norm := NormScore(compound)
	return Annotation{
		Compound:  compound,
		NormScore: norm,
		Label:     Label(norm, s.low, s.high),
	}
}

// AnnotateBatch scores texts independently, preserving order.
func (s *Scorer) AnnotateBatch(texts []string) []Annotation {
	out := make([]Annotation, len(texts))
	for i, t := range texts {
		out[i] = s.Annotate(t)
	}
	return out
}

// Score turns fetched messages into scored records, preserving order.
func (s *Scorer) Score(msgs []models.RawMessage) []models.ScoredRecord {
	out := make([]models.ScoredRecord, len(msgs))
	for i, m := range msgs {
		a := s.Annotate(m.Text)
		out[i] = models.ScoredRecord{
			Timestamp: m.Timestamp.UTC(),
			Source:    m.Source,
			Text:      m.Text,
			Compound:  a.Compound,
			NormScore: a.NormScore,
			Label:     a.Label,
		}
	}
	s.log.WithComponent("scorer").WithFields(logger.Fields{"records": len(out)}).Debug("scored records")
	return out
}
