package pipeline

import (
	"fmt"
	"io"
	"sort"

	"sentiflow/models"
	"sentiflow/processor"
	"sentiflow/reader"
)

// Status is the terminal state of a run. Empty outcomes are statuses, not
// errors.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoOrigins Status = "no_origins"
	StatusNoData    Status = "no_data"
	StatusNoPrice   Status = "no_price"
)

// OriginReport summarizes one origin's fetch.
type OriginReport struct {
	Source      string              `json:"source"`
	Origin      string              `json:"origin"`
	Messages    int                 `json:"messages"`
	Diagnostics []models.Diagnostic `json:"diagnostics,omitempty"`
}

// SourceReport compares the rows produced for a source with the window.
type SourceReport struct {
	Source       string `json:"source"`
	ExpectedDays int    `json:"expected_days"`
	Rows         int    `json:"rows"`
	RealRows     int    `json:"real_rows"`
	Messages     int    `json:"messages"`
}

// Report is the per-run data sufficiency report.
type Report struct {
	Origins []OriginReport `json:"origins"`
	Sources []SourceReport `json:"sources"`
}

// Result is what an ingest run hands back to the caller.
type Result struct {
	RunID       string                  `json:"run_id"`
	Window      Window                  `json:"window"`
	Status      Status                  `json:"status"`
	Daily       []models.DailySentiment `json:"daily"`
	Report      Report                  `json:"report"`
	Diagnostics []models.Diagnostic     `json:"diagnostics,omitempty"`
	Paths       []string                `json:"paths,omitempty"`
}

func originReports(results []reader.FetchResult) []OriginReport {
	out := make([]OriginReport, 0, len(results))
	for _, r := range results {
		out = append(out, OriginReport{
			Source:      r.Source,
			Origin:      r.Origin,
			Messages:    len(r.Messages),
			Diagnostics: r.Diagnostics,
		})
	}
	return out
}

func sourceReports(w Window, daily []models.DailySentiment) []SourceReport {
	bySource := make(map[string]*SourceReport)
	for _, d := range daily {
		sr, ok := bySource[d.Source]
		if !ok {
			sr = &SourceReport{Source: d.Source, ExpectedDays: w.Days()}
			bySource[d.Source] = sr
		}
		sr.Rows++
		sr.Messages += d.Count
		if !d.IsSynthetic() {
			sr.RealRows++
		}
	}
	out := make([]SourceReport, 0, len(bySource))
	for _, sr := range bySource {
		out = append(out, *sr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// WriteReport prints a human readable run report.
func WriteReport(w io.Writer, res Result) {
	fmt.Fprintf(w, "run %s: window %s (%d days expected per source), status %s\n",
		res.RunID, res.Window, res.Window.Days(), res.Status)
	for _, sr := range res.Report.Sources {
		fmt.Fprintf(w, "  %s: %d rows (%d with data, %d messages)\n", sr.Source, sr.Rows, sr.RealRows, sr.Messages)
	}
	for _, or := range res.Report.Origins {
		fmt.Fprintf(w, "  origin %s/%s: %d messages\n", or.Source, or.Origin, or.Messages)
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "  warning: %s\n", d)
	}
	if len(res.Daily) > 0 {
		s := processor.Summarize(res.Daily)
		fmt.Fprintf(w, "  average score %.2f over %d days with data\n", s.Overall.Mean, s.Overall.N)
		for _, line := range processor.Insights(s) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	for _, p := range res.Paths {
		fmt.Fprintf(w, "  wrote %s\n", p)
	}
}
