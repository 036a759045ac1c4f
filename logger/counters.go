package logger

import (
	"sort"
	"sync"
	"sync/atomic"
)

type componentStat struct {
	warns  int64
	errors int64
}

var components sync.Map // map[string]*componentStat

// ComponentCount is a snapshot of warnings and errors logged by one component.
type ComponentCount struct {
	Component string
	Warns     int64
	Errors    int64
}

func stat(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&stat(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&stat(component).errors, 1)
}

// Counters returns per-component warn/error counts sorted by component name.
func Counters() []ComponentCount {
	var out []ComponentCount
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		out = append(out, ComponentCount{
			Component: k.(string),
			Warns:     atomic.LoadInt64(&cs.warns),
			Errors:    atomic.LoadInt64(&cs.errors),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// ReportCounters logs the current counters as one summary entry and
// publishes them as metrics.
func ReportCounters(log *Log) {
	counts := Counters()
	summary := make(map[string]map[string]int64, len(counts))
	for _, c := range counts {
		summary[c.Component] = map[string]int64{"warns": c.Warns, "errors": c.Errors}
		log.LogMetric(c.Component, "warnings", c.Warns, "counter", nil)
		log.LogMetric(c.Component, "errors", c.Errors, "counter", nil)
	}
	log.WithComponent("report").WithFields(Fields{"components": summary}).Info("run report")
}
