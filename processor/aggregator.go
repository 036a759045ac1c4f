package processor

import (
	"sort"
	"time"

	"sentiflow/models"
)

// AggregateOptions controls Aggregate. A zero Start or End disables the
// window, and with it gap filling.
type AggregateOptions struct {
	Start       time.Time
	End         time.Time
	GapFill     bool
	NeutralFill float64
	NoDataLabel string

	// Sources is the source set of the gap-filled grid. When empty it falls
	// back to the observed sources, then to DefaultSource.
	Sources       []string
	DefaultSource string
}

// DefaultAggregateOptions mirrors the pipeline defaults.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{
		GapFill:       true,
		NeutralFill:   50,
		NoDataLabel:   models.LabelNoData,
		DefaultSource: models.SourceTelegram,
	}
}

type groupKey struct {
	source string
	day    time.Time
}

type group struct {
	sum    float64
	count  int
	labels map[string]int
}

// labelPriority breaks ties when picking the dominant label.
var labelPriority = []string{models.LabelNeutral, models.LabelPositive, models.LabelNegative}

// Aggregate folds scored records into one row per (source, UTC day), sorted by
// source then date. With a window and GapFill every (source, day) pair of the
// window appears exactly once and missing pairs become no-data rows.
func Aggregate(records []models.ScoredRecord, opts AggregateOptions) []models.DailySentiment {
	if opts.NoDataLabel == "" {
		opts.NoDataLabel = models.LabelNoData
	}

	groups := make(map[groupKey]*group)
	observed := make(map[string]struct{})
	for _, r := range records {
		k := groupKey{source: r.Source, day: models.DayStart(r.Timestamp)}
		g, ok := groups[k]
		if !ok {
			g = &group{labels: make(map[string]int)}
			groups[k] = g
		}
		g.sum += r.NormScore
		g.count++
		g.labels[r.Label]++
		observed[r.Source] = struct{}{}
	}

	windowed := !opts.Start.IsZero() && !opts.End.IsZero()
	if !opts.GapFill || !windowed {
		out := make([]models.DailySentiment, 0, len(groups))
		for k, g := range groups {
			out = append(out, realRow(k, g))
		}
		sortDaily(out)
		return out
	}

	sources := resolveSources(opts, observed)
	days := Days(opts.Start, opts.End)

	out := make([]models.DailySentiment, 0, len(sources)*len(days))
	for _, src := range sources {
		for _, day := range days {
			k := groupKey{source: src, day: day}
			if g, ok := groups[k]; ok {
				out = append(out, realRow(k, g))
				continue
			}
			out = append(out, models.DailySentiment{
				Date:     day,
				Source:   src,
				AvgScore: opts.NeutralFill,
				Count:    0,
				Label:    opts.NoDataLabel,
			})
		}
	}
	sortDaily(out)
	return out
}

// Days lists every UTC midnight in [start, end], both ends truncated to their
// day. It returns nil when end is before start.
func Days(start, end time.Time) []time.Time {
	first, last := models.DayStart(start), models.DayStart(end)
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func resolveSources(opts AggregateOptions, observed map[string]struct{}) []string {
	var sources []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if _, ok := seen[s]; ok || s == "" {
			return
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}

	for _, s := range opts.Sources {
		add(s)
	}
	if len(sources) == 0 {
		for s := range observed {
			add(s)
		}
	}
	if len(sources) == 0 {
		def := opts.DefaultSource
		if def == "" {
			def = models.SourceTelegram
		}
		add(def)
	}
	sort.Strings(sources)
	return sources
}

func realRow(k groupKey, g *group) models.DailySentiment {
	return models.DailySentiment{
		Date:     k.day,
		Source:   k.source,
		AvgScore: g.sum / float64(g.count),
		Count:    g.count,
		Label:    dominantLabel(g.labels),
	}
}

// dominantLabel returns the most frequent label. Ties go to the first label
// in labelPriority, then to the lexically smallest unknown label.
func dominantLabel(counts map[string]int) string {
	best, bestN := "", -1
	for _, l := range labelPriority {
		if n := counts[l]; n > bestN && n > 0 {
			best, bestN = l, n
		}
	}
	var extra []string
	for l := range counts {
		if l != models.LabelNeutral && l != models.LabelPositive && l != models.LabelNegative {
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)
	for _, l := range extra {
		if n := counts[l]; n > bestN {
			best, bestN = l, n
		}
	}
	if best == "" {
		return models.LabelNeutral
	}
	return best
}

func sortDaily(rows []models.DailySentiment) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Source != rows[j].Source {
			return rows[i].Source < rows[j].Source
		}
		return rows[i].Date.Before(rows[j].Date)
	})
}
