package processor

import (
	"fmt"
	"sort"
	"time"

	"sentiflow/models"
)

// SourceSummary is the per-source part of a Summary.
type SourceSummary struct {
	Days         int            `json:"days"`
	Messages     int            `json:"messages"`
	AvgSentiment float64        `json:"avg_sentiment"`
	SentimentStd float64        `json:"sentiment_std"`
	Labels       map[string]int `json:"label_distribution"`
}

// Summary describes a daily series. Score statistics only use real rows;
// gap-filled rows count towards days and labels.
type Summary struct {
	TotalDays     int                      `json:"total_days"`
	TotalMessages int                      `json:"total_messages"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	Overall       ScoreStats               `json:"overall_sentiment"`
	Labels        map[string]int           `json:"sentiment_distribution"`
	BySource      map[string]SourceSummary `json:"by_source"`
}

// Summarize computes summary metrics over rows.
func Summarize(rows []models.DailySentiment) Summary {
	s := Summary{
		Labels:   make(map[string]int),
		BySource: make(map[string]SourceSummary),
	}
	if len(rows) == 0 {
		return s
	}

	var scores []float64
	perSource := make(map[string][]float64)
	s.Start, s.End = rows[0].Date, rows[0].Date
	for _, r := range rows {
		s.TotalDays++
		s.TotalMessages += r.Count
		s.Labels[r.Label]++
		if r.Date.Before(s.Start) {
			s.Start = r.Date
		}
		if r.Date.After(s.End) {
			s.End = r.Date
		}

		src := s.BySource[r.Source]
		if src.Labels == nil {
			src.Labels = make(map[string]int)
		}
		src.Days++
		src.Messages += r.Count
		src.Labels[r.Label]++
		s.BySource[r.Source] = src

		if !r.IsSynthetic() {
			scores = append(scores, r.AvgScore)
			perSource[r.Source] = append(perSource[r.Source], r.AvgScore)
		}
	}

	s.Overall = describe(scores)
	for name, src := range s.BySource {
		st := describe(perSource[name])
		src.AvgSentiment = st.Mean
		src.SentimentStd = st.Std
		s.BySource[name] = src
	}
	return s
}

// Sources returns the source names of the summary in order.
func (s Summary) Sources() []string {
	out := make([]string, 0, len(s.BySource))
	for name := range s.BySource {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Insights turns a summary into short human readable findings.
func Insights(s Summary) []string {
	if s.TotalDays == 0 {
		return []string{"No data available for analysis"}
	}
	if s.Overall.N == 0 {
		return []string{fmt.Sprintf("No scored messages across %d days", s.TotalDays)}
	}

	var out []string
	avg := s.Overall.Mean
	switch {
	case avg > 60:
		out = append(out, fmt.Sprintf("Overall sentiment is positive (avg: %.1f)", avg))
	case avg < 40:
		out = append(out, fmt.Sprintf("Overall sentiment is negative (avg: %.1f)", avg))
	default:
		out = append(out, fmt.Sprintf("Overall sentiment is neutral (avg: %.1f)", avg))
	}

	if s.Overall.N > 1 {
		switch std := s.Overall.Std; {
		case std > 15:
			out = append(out, fmt.Sprintf("High sentiment volatility detected (std: %.1f)", std))
		case std < 5:
			out = append(out, fmt.Sprintf("Sentiment is very stable (std: %.1f)", std))
		}
	}

	switch total := s.TotalMessages; {
	case total < 100:
		out = append(out, fmt.Sprintf("Limited data available (%d messages)", total))
	case total > 1000:
		out = append(out, fmt.Sprintf("Rich dataset with %d messages analyzed", total))
	}
	return out
}
