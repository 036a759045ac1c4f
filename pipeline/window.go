// Package pipeline wires the readers, the scorer, the aggregator and the
// store into the batch runs exposed by the CLI.
package pipeline

import (
	"fmt"
	"time"

	"sentiflow/models"
)

// Window is a day-bounded request window: Start is a UTC midnight and End is
// 23:59:59 of the last day.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalcWindow returns the window covering daysBack calendar days that ends
// today, or yesterday when includeToday is false.
func CalcWindow(now time.Time, daysBack int, includeToday bool) (Window, error) {
	if daysBack < 1 {
		return Window{}, fmt.Errorf("days back must be at least 1, got %d", daysBack)
	}
	today := models.DayStart(now)
	last := today
	if !includeToday {
		last = today.AddDate(0, 0, -1)
	}
	return Window{
		Start: last.AddDate(0, 0, -(daysBack - 1)),
		End:   last.Add(24*time.Hour - time.Second),
	}, nil
}

// Days is the number of calendar days in the window.
func (w Window) Days() int {
	if w.End.Before(w.Start) {
		return 0
	}
	return int(models.DayStart(w.End).Sub(models.DayStart(w.Start))/(24*time.Hour)) + 1
}

func (w Window) String() string {
	return fmt.Sprintf("%s → %s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}
