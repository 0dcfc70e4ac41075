package campaign

import (
	"fmt"
	"strings"
)

// Segment is a named predicate over the recipient population. The resolved
// set is recomputed at send time; membership drift between scheduling and
// firing is accepted.
type Segment string

const (
	SegmentAll           Segment = "all"
	SegmentActive7       Segment = "active_7"
	SegmentActive30      Segment = "active_30"
	SegmentWithReferrals Segment = "with_referrals"
	SegmentTopReferrers  Segment = "top_referrers"
	SegmentNoReferrals   Segment = "no_referrals"
	// SegmentNew7 is an alias of active_7 kept for the authoring UI naming.
	SegmentNew7  Segment = "new_7"
	SegmentOld30 Segment = "old_30"
)

// Segments lists the fixed enumeration in authoring order.
func Segments() []Segment {
	return []Segment{
		SegmentAll,
		SegmentActive7,
		SegmentActive30,
		SegmentWithReferrals,
		SegmentTopReferrers,
		SegmentNoReferrals,
		SegmentNew7,
		SegmentOld30,
	}
}

func ParseSegment(raw string) (Segment, error) {
	s := Segment(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Segments() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown segment %q", raw)
}
