// Package civil converts between the operator-facing wall-clock notation
// ("DD.MM.YYYY HH:MM", fixed UTC+3, no DST) and absolute UTC instants.
package civil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Offset is the fixed civil offset. Schedules are always authored in this
// zone regardless of where the process runs; no IANA database is consulted.
var Offset = time.FixedZone("UTC+3", 3*60*60)

const (
	parseLayout  = "02.01.2006 15:04"
	formatLayout = "02.01.2006, 15:04"
)

var ErrNotFuture = errors.New("scheduled time is not in the future")

// Parse interprets s as wall-clock time in the fixed offset and returns the
// UTC instant. It accepts both "DD.MM.YYYY HH:MM" and the display form with a
// comma after the date. The instant must be strictly after now.
func Parse(s string, now time.Time) (time.Time, error) {
	raw := strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
	t, err := time.ParseInLocation(parseLayout, raw, Offset)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: expected DD.MM.YYYY HH:MM: %w", s, err)
	}
	// time.Parse tolerates missing zero padding; require the strict form so
	// Parse and Format stay exact inverses.
	if t.Format(parseLayout) != raw {
		return time.Time{}, fmt.Errorf("invalid schedule %q: expected zero-padded DD.MM.YYYY HH:MM", s)
	}
	utc := t.UTC()
	if !utc.After(now) {
		return time.Time{}, fmt.Errorf("schedule %q: %w", s, ErrNotFuture)
	}
	return utc, nil
}

// Format renders the instant as wall-clock time in the fixed offset,
// zero-padded: "DD.MM.YYYY, HH:MM". For zero-second instants Format and Parse
// are exact inverses.
func Format(t time.Time) string {
	return t.In(Offset).Format(formatLayout)
}
