// Package transport defines the adapter-neutral send surface. The broadcast
// engine talks to recipients only through the Adapter interface, so tests can
// substitute a fake and a different chat platform stays pluggable.
package transport

import "context"

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter sends outbound messages. Media methods take the platform file
// reference plus an optional caption.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) (MessageRef, error)
}
