package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"crmbot/internal/storage"
	"crmbot/internal/transport"
	"crmbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // default 10s
	// Offline builds the bot without the startup getMe call; used by tests.
	Offline bool
}

// Registry is the slice of the store the adapter maintains from traffic:
// joins refresh the recipient row, a 403 on send sets the blocked flag.
type Registry interface {
	UpsertRecipient(ctx context.Context, r storage.Recipient) error
	RecipientByID(ctx context.Context, chatID int64) (*storage.Recipient, error)
	SetRecipientBlocked(ctx context.Context, chatID int64, blocked bool) error
}

// Adapter is the telebot-backed implementation of transport.Adapter.
type Adapter struct {
	cfg        Config
	log        logx.Logger
	bot        *tele.Bot
	recipients Registry

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, recipients Registry, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, recipients: recipients}
	a.registerHandlers()
	return a, nil
}

// Bot exposes the underlying bot for command wiring by the owner.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) registerHandlers() {
	// /start registers the recipient; a "ref_<chat id>" payload records who
	// referred them.
	a.bot.Handle("/start", func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		r := recipientFromSender(m)
		if refID := parseReferralPayload(m.Payload, m.Sender.ID); refID != 0 {
			r.ReferrerID = &refID
		}
		a.touchRecipient(r)
		return nil
	})

	// Any other text refreshes the profile fields and clears a stale
	// blocked flag (the user is plainly reachable again).
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.touchRecipient(recipientFromSender(m))
		return nil
	})
}

func recipientFromSender(m *tele.Message) storage.Recipient {
	return storage.Recipient{
		ChatID:    m.Sender.ID,
		Username:  m.Sender.Username,
		FirstName: m.Sender.FirstName,
		IsBot:     m.Sender.IsBot,
		JoinedAt:  time.Now().UTC(),
	}
}

// parseReferralPayload extracts the referrer chat id from a "ref_<id>" start
// payload. Self-referrals and garbage yield zero.
func parseReferralPayload(payload string, selfID int64) int64 {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "ref_") {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(p, "ref_"), 10, 64)
	if err != nil || id <= 0 || id == selfID {
		return 0
	}
	return id
}

func (a *Adapter) touchRecipient(r storage.Recipient) {
	if a.recipients == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Read first so the routine message path stays write-free; the flag
	// only needs clearing when a past send marked the chat blocked.
	prev, err := a.recipients.RecipientByID(ctx, r.ChatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		a.log.Warn("recipient lookup failed", logx.Int64("chat", r.ChatID), logx.Err(err))
		return
	}
	if err := a.recipients.UpsertRecipient(ctx, r); err != nil {
		a.log.Warn("recipient upsert failed", logx.Int64("chat", r.ChatID), logx.Err(err))
		return
	}
	if prev == nil || !prev.Blocked {
		return
	}
	if err := a.recipients.SetRecipientBlocked(ctx, r.ChatID, false); err != nil {
		a.log.Debug("unblock failed", logx.Int64("chat", r.ChatID), logx.Err(err))
		return
	}
	a.log.Info("recipient reachable again", logx.Int64("chat", r.ChatID))
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}

	// telebot Stop blocks until the poll loop exits; keep shutdown snappy
	// even if a long-poll is still in flight.
	done := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	case <-ctx.Done():
	}
	return nil
}

const textLimit = 4000

// splitText splits a long message into sendable chunks, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

// isBlockedErr reports whether a send failed because the recipient is
// unreachable for good (blocked the bot, deactivated, chat gone).
func isBlockedErr(err error) bool {
	return errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound)
}

func (a *Adapter) noteSendErr(ctx context.Context, chatID int64, err error) {
	if err == nil || a.recipients == nil || !isBlockedErr(err) {
		return
	}
	if berr := a.recipients.SetRecipientBlocked(ctx, chatID, true); berr != nil {
		a.log.Warn("block flag update failed", logx.Int64("chat", chatID), logx.Err(berr))
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		if i > 0 {
			// Markup rides only on the first message.
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			a.noteSendErr(ctx, to.ChatID, err)
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) sendMedia(ctx context.Context, to transport.ChatTarget, media tele.Sendable, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, media, sendOptions(opt))
	if err != nil {
		a.noteSendErr(ctx, to.ChatID, err)
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to transport.ChatTarget, fileID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return a.sendMedia(ctx, to, &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}, opt)
}

func (a *Adapter) SendVideo(ctx context.Context, to transport.ChatTarget, fileID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return a.sendMedia(ctx, to, &tele.Video{File: tele.File{FileID: fileID}, Caption: caption}, opt)
}

func (a *Adapter) SendDocument(ctx context.Context, to transport.ChatTarget, fileID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return a.sendMedia(ctx, to, &tele.Document{File: tele.File{FileID: fileID}, Caption: caption}, opt)
}
