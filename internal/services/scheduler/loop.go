package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crmbot/internal/campaign"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/storage"
	"crmbot/pkg/logx"
)

// ErrNotClaimable reports that a dispatch lost the claim: the campaign is no
// longer in scheduled state (another tick took it, or it was cancelled).
var ErrNotClaimable = errors.New("campaign is not claimable")

// tick is the idempotent due-check both cadences run.
func (s *Service) tick(ctx context.Context, cadence string) {
	if ctx.Err() != nil {
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SchedulerTicksTotal.WithLabelValues(cadence).Inc()
	}

	now := time.Now().UTC()
	due, err := s.deps.Store.DueCampaigns(ctx, now, s.maxAge())
	if err != nil {
		s.log.Error("due check failed", logx.String("cadence", cadence), logx.Err(err))
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.DueCampaigns.Set(float64(len(due)))
	}
	if len(due) > 0 {
		s.log.Debug("due campaigns found", logx.String("cadence", cadence), logx.Int("count", len(due)))
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.dispatch(ctx, &due[i]); err != nil && !errors.Is(err, ErrNotClaimable) {
			s.log.Warn("campaign dispatch failed",
				logx.String("campaign", due[i].ID),
				logx.Err(err))
		}
	}

	s.mu.Lock()
	sweep := s.cfg.CancelStale
	s.mu.Unlock()
	if cadence == "slow" && sweep {
		s.sweepStale(ctx, now)
	}
}

// Dispatch claims and delivers one campaign by id. It is the shared path for
// due campaigns, "send now" campaigns and manual sends from the admin
// surface.
func (s *Service) Dispatch(ctx context.Context, id string) (broadcast.Result, error) {
	c, err := s.deps.Store.CampaignByID(ctx, id)
	if err != nil {
		return broadcast.Result{}, err
	}
	// A manual send may target a draft. Promote it first so the same
	// scheduled->sent claim guards this path too.
	if c.Status == campaign.StatusDraft {
		c, err = s.deps.Store.UpdateCampaignStatus(ctx, id, campaign.StatusScheduled, c.SentCount, c.ErrorCount)
		if err != nil {
			return broadcast.Result{}, err
		}
	}
	if err := s.dispatch(ctx, c); err != nil {
		return broadcast.Result{}, err
	}
	final, err := s.deps.Store.CampaignByID(ctx, id)
	if err != nil {
		return broadcast.Result{}, err
	}
	return broadcast.Result{
		Sent:   final.SentCount,
		Errors: final.ErrorCount,
		Total:  final.SentCount + final.ErrorCount,
	}, nil
}

func (s *Service) dispatch(ctx context.Context, c *campaign.Campaign) error {
	now := time.Now().UTC()

	// Resolve before claiming so a segment-resolution failure can still
	// cancel the campaign out of scheduled state.
	recipients, err := s.deps.Audience.Resolve(ctx, c.Segment, now)
	if err != nil {
		s.markFailed(ctx, c.ID, fmt.Errorf("audience resolution: %w", err))
		return err
	}
	if len(recipients) == 0 {
		err := fmt.Errorf("campaign %s: %w", c.ID, broadcast.ErrEmptyAudience)
		s.markFailed(ctx, c.ID, err)
		return err
	}

	// The claim: an atomic scheduled->sent flip with provisional zero
	// counts. Losing it means another timer already took the campaign.
	claimed, err := s.deps.Store.ClaimCampaign(ctx, c.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Debug("claim lost, skipping", logx.String("campaign", c.ID))
		return ErrNotClaimable
	}

	res, err := s.deps.Engine.Deliver(ctx, c, recipients)
	if err != nil {
		// Batch-fatal mid-pass (context cancelled). The campaign stays
		// sent; record whatever the partial pass achieved on a detached
		// context, since the cancellation that aborted the pass would
		// otherwise abort the finalize too.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.deps.Store.FinalizeCampaign(fctx, c.ID, res.Sent, res.Errors); ferr != nil {
			s.log.Error("finalize after aborted pass failed", logx.String("campaign", c.ID), logx.Err(ferr))
		}
		return err
	}

	if err := s.deps.Store.FinalizeCampaign(ctx, c.ID, res.Sent, res.Errors); err != nil {
		return err
	}
	s.report(ctx, c, res)
	return nil
}

// markFailed cancels a campaign after a batch-fatal error so the due check
// does not retry it forever. The operator must re-author if delivery is
// still desired.
func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	s.log.Warn("campaign failed, cancelling", logx.String("campaign", id), logx.Err(cause))
	if _, err := s.deps.Store.CancelCampaign(ctx, id); err != nil && !errors.Is(err, storage.ErrTerminalStatus) {
		s.log.Error("cancel failed", logx.String("campaign", id), logx.Err(err))
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CampaignsCancelledTotal.Inc()
	}
}

// sweepStale cancels scheduled campaigns that fell past the staleness cutoff
// without ever being delivered.
func (s *Service) sweepStale(ctx context.Context, now time.Time) {
	stale, err := s.deps.Store.StaleCampaigns(ctx, now, s.maxAge())
	if err != nil {
		s.log.Error("stale sweep failed", logx.Err(err))
		return
	}
	for i := range stale {
		c := &stale[i]
		if _, err := s.deps.Store.CancelCampaign(ctx, c.ID); err != nil {
			if errors.Is(err, storage.ErrTerminalStatus) {
				continue
			}
			s.log.Error("stale cancel failed", logx.String("campaign", c.ID), logx.Err(err))
			continue
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CampaignsStaleTotal.Inc()
		}
		s.log.Warn("stale campaign cancelled",
			logx.String("campaign", c.ID),
			logx.Time("scheduled_at", *c.ScheduledAt))
	}
}
