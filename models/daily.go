package models

import "time"

// DailySentiment is one (source, calendar day) summary row.
type DailySentiment struct {
	Date     time.Time `json:"date"`
	Source   string    `json:"source"`
	AvgScore float64   `json:"avg_score"`
	Count    int       `json:"count"`
	Label    string    `json:"label"`
}

// IsSynthetic reports whether the row was produced by gap filling.
func (d DailySentiment) IsSynthetic() bool {
	return d.Count == 0
}

// PriceBar is one day's OHLCV for the tracked symbol.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JoinedRow is a daily sentiment row with the matching close price, if any.
type JoinedRow struct {
	DailySentiment
	Close     *float64 `json:"close,omitempty"`
	ReturnPct *float64 `json:"return_pct,omitempty"`
}

// DayStart truncates t to UTC midnight.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
