package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name         string
		now          time.Time
		daysBack     int
		includeToday bool
		start, end   time.Time
		days         int
	}{
		{
			name:         "today only",
			now:          now,
			daysBack:     1,
			includeToday: true,
			start:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			end:          time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC),
			days:         1,
		},
		{
			name:         "three days ending yesterday",
			now:          now,
			daysBack:     3,
			includeToday: false,
			start:        time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
			end:          time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC),
			days:         3,
		},
		{
			name:         "month boundary",
			now:          time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC),
			daysBack:     2,
			includeToday: true,
			start:        time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			end:          time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC),
			days:         2,
		},
		{
			name:         "non utc clock",
			now:          time.Date(2024, 3, 11, 2, 0, 0, 0, time.FixedZone("UTC+5", 5*3600)),
			daysBack:     1,
			includeToday: true,
			start:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			end:          time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC),
			days:         1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := CalcWindow(tt.now, tt.daysBack, tt.includeToday)
			require.NoError(t, err)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, tt.end, w.End)
			assert.Equal(t, tt.days, w.Days())
		})
	}
}

func TestCalcWindowRejectsZeroDays(t *testing.T) {
	_, err := CalcWindow(time.Now(), 0, true)
	assert.Error(t, err)
}

func TestWindowString(t *testing.T) {
	w, err := CalcWindow(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), 3, false)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-07 → 2024-03-09", w.String())
	assert.Equal(t, 0, Window{Start: w.End, End: w.Start}.Days())
}
