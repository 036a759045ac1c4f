package reader

import (
	"fmt"
	"time"

	"sentiflow/models"
)

// Completeness inspects a finished fetch. It reports a tail gap when nothing
// was returned for the first requested day, and possible clipping when the
// result size equals the cap exactly.
//
// The tail gap check compares UTC day starts, not instants. Windows open at
// midnight and the series is daily, so a first record at 00:05 on the start
// day still covers that day; only an earliest record on a later day means
// the start day is missing from the output.
func Completeness(source, origin string, msgs []models.RawMessage, start time.Time, totalLimit int) []models.Diagnostic {
	var diags []models.Diagnostic

	if len(msgs) == 0 {
		diags = append(diags, models.Diagnostic{
			Kind:   models.DiagTailGap,
			Source: source,
			Origin: origin,
			Detail: fmt.Sprintf("no records at or after %s", start.Format(time.RFC3339)),
		})
	} else {
		earliest := msgs[0].Timestamp
		for _, m := range msgs[1:] {
			if m.Timestamp.Before(earliest) {
				earliest = m.Timestamp
			}
		}
		if models.DayStart(earliest).After(models.DayStart(start)) {
			diags = append(diags, models.Diagnostic{
				Kind:   models.DiagTailGap,
				Source: source,
				Origin: origin,
				Detail: fmt.Sprintf("earliest record %s is later than requested start %s",
					earliest.Format(time.RFC3339), start.Format(time.RFC3339)),
			})
		}
	}

	if totalLimit > 0 && len(msgs) == totalLimit {
		diags = append(diags, models.Diagnostic{
			Kind:   models.DiagClipped,
			Source: source,
			Origin: origin,
			Detail: fmt.Sprintf("result hit the cap of %d records; more may exist", totalLimit),
		})
	}
	return diags
}
