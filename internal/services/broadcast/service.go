package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"crmbot/internal/campaign"
	"crmbot/internal/metrics"
	"crmbot/internal/transport"
	"crmbot/pkg/logx"
	"crmbot/pkg/tgui"
)

const defaultRatePerSec = 20

// ErrEmptyAudience is returned when a campaign resolves to zero recipients.
// An empty audience usually indicates a segment-resolution problem, so it is
// reported as an error rather than a zero-count success.
var ErrEmptyAudience = errors.New("campaign audience is empty")

func New(cfg Config, adapter transport.Adapter, m *metrics.Metrics, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg,
		adapter: adapter,
		log:     log,
		metrics: m,
		limiter: newLimiter(cfg.RatePerSec),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = newLimiter(cfg.RatePerSec)
}

// Deliver runs one sequential fan-out pass of the campaign over the resolved
// recipient list. A per-recipient failure is logged, counted and never aborts
// the pass; a cancelled context does (batch-fatal). On a full pass
// Sent+Errors == Total.
func (s *Service) Deliver(ctx context.Context, c *campaign.Campaign, recipients []int64) (Result, error) {
	if len(recipients) == 0 {
		return Result{}, fmt.Errorf("campaign %s: %w", c.ID, ErrEmptyAudience)
	}

	res := Result{Total: len(recipients)}
	markup := buttonMarkup(c.Buttons)
	start := time.Now()

	s.log.Info("delivery pass started",
		logx.String("campaign", c.ID),
		logx.String("segment", string(c.Segment)),
		logx.Int("total", res.Total))

	for _, chatID := range recipients {
		// Snapshot the limiter so Apply() cannot race the pass.
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()

		if err := lim.Wait(ctx); err != nil {
			return res, err
		}

		if err := s.sendOne(ctx, c, transport.ChatTarget{ChatID: chatID}, markup); err != nil {
			res.Errors++
			if s.metrics != nil {
				s.metrics.MessagesFailedTotal.Inc()
			}
			s.log.Warn("send failed",
				logx.String("campaign", c.ID),
				logx.Int64("chat_id", chatID),
				logx.Err(err))
			continue
		}
		res.Sent++
		if s.metrics != nil {
			s.metrics.MessagesSentTotal.Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.CampaignsDeliveredTotal.Inc()
	}
	s.log.Info("delivery pass finished",
		logx.String("campaign", c.ID),
		logx.Int("sent", res.Sent),
		logx.Int("errors", res.Errors),
		logx.Int("total", res.Total),
		logx.Duration("dur", time.Since(start)))
	return res, nil
}

func (s *Service) sendOne(ctx context.Context, c *campaign.Campaign, to transport.ChatTarget, markup any) error {
	opt := &transport.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: markup,
	}
	var err error
	switch b := c.Body.(type) {
	case campaign.Text:
		_, err = s.adapter.SendText(ctx, to, b.Text, opt)
	case campaign.Photo:
		_, err = s.adapter.SendPhoto(ctx, to, b.FileID, b.Caption, opt)
	case campaign.Video:
		_, err = s.adapter.SendVideo(ctx, to, b.FileID, b.Caption, opt)
	case campaign.Document:
		_, err = s.adapter.SendDocument(ctx, to, b.FileID, b.Caption, opt)
	default:
		err = fmt.Errorf("unsupported body kind %T", c.Body)
	}
	return err
}

// buttonMarkup builds the inline keyboard once per pass; every recipient
// gets the same rows.
func buttonMarkup(rows [][]campaign.Button) any {
	kb := tgui.NewInline()
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgui.URLBtn(b.Label, b.URL))
		}
		kb.Row(btns...)
	}
	if kb.Empty() {
		return nil
	}
	return kb.Markup()
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	// Burst of one keeps sends evenly paced instead of front-loading.
	return rate.NewLimiter(rate.Limit(rps), 1)
}
