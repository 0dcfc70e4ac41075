// Package audience resolves a campaign segment to the concrete recipient set.
// Resolution happens at send time; the set is never stored.
package audience

import (
	"context"
	"fmt"
	"time"

	"crmbot/internal/campaign"
	"crmbot/internal/storage"
	"crmbot/pkg/logx"
)

const (
	activeWindowShort = 7 * 24 * time.Hour
	activeWindowLong  = 30 * 24 * time.Hour

	topReferrersCap = 10
	topReferrersMin = 5
)

type Resolver struct {
	store *storage.Store
	log   logx.Logger
}

func New(store *storage.Store, log logx.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// Resolve maps the segment to its recipient filter and runs it. Blocked
// recipients are excluded by the storage query path for every segment.
func (r *Resolver) Resolve(ctx context.Context, seg campaign.Segment, now time.Time) ([]int64, error) {
	f, err := filterFor(seg, now)
	if err != nil {
		return nil, err
	}
	ids, err := r.store.RecipientsWhere(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("resolve segment %s: %w", seg, err)
	}
	r.log.Debug("segment resolved", logx.String("segment", string(seg)), logx.Int("recipients", len(ids)))
	return ids, nil
}

func filterFor(seg campaign.Segment, now time.Time) (storage.RecipientFilter, error) {
	switch seg {
	case campaign.SegmentAll:
		return storage.RecipientFilter{}, nil
	case campaign.SegmentActive7, campaign.SegmentNew7:
		return storage.RecipientFilter{JoinedAfter: now.Add(-activeWindowShort)}, nil
	case campaign.SegmentActive30:
		return storage.RecipientFilter{JoinedAfter: now.Add(-activeWindowLong)}, nil
	case campaign.SegmentWithReferrals:
		return storage.RecipientFilter{MinReferrals: 1}, nil
	case campaign.SegmentTopReferrers:
		return storage.RecipientFilter{
			MinReferrals:     topReferrersMin,
			OrderByReferrals: true,
			Limit:            topReferrersCap,
		}, nil
	case campaign.SegmentNoReferrals:
		return storage.RecipientFilter{NoReferrals: true}, nil
	case campaign.SegmentOld30:
		return storage.RecipientFilter{JoinedBefore: now.Add(-activeWindowLong)}, nil
	}
	return storage.RecipientFilter{}, fmt.Errorf("unknown segment %q", seg)
}
