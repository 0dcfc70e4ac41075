package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crmbot/internal/campaign"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/transport"
	"crmbot/pkg/civil"
	"crmbot/pkg/logx"
	"crmbot/pkg/tgui"
)

// report notifies the campaign creator about the finished pass. Best-effort:
// a failed report never affects the campaign outcome.
func (s *Service) report(ctx context.Context, c *campaign.Campaign, res broadcast.Result) {
	if s.deps.Adapter == nil || c.CreatedBy == 0 {
		return
	}

	var b strings.Builder
	b.WriteString(tgui.B("Broadcast finished").String())
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s: %s\n", tgui.B("Campaign"), tgui.Esc(tgui.TruncRunes(c.Title, 64))))
	b.WriteString(fmt.Sprintf("%s: %s\n", tgui.B("Finished"), tgui.Esc(civil.Format(time.Now()))))
	b.WriteString(fmt.Sprintf("✅ Sent: %d\n", res.Sent))
	b.WriteString(fmt.Sprintf("❌ Errors: %d\n", res.Errors))
	b.WriteString(fmt.Sprintf("👥 Recipients: %d", res.Total))

	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if _, err := s.deps.Adapter.SendText(ctx, transport.ChatTarget{ChatID: c.CreatedBy}, b.String(), opt); err != nil {
		s.log.Warn("operator report failed",
			logx.String("campaign", c.ID),
			logx.Int64("chat_id", c.CreatedBy),
			logx.Err(err))
	}
}
