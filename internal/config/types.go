package config

// Config is the full bot configuration. Files may be JSON or YAML; both are
// decoded strictly, so unknown keys fail the load instead of being ignored.
//
// All durations are Go duration strings (e.g. "500ms", "15s", "24h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Admin     AdminConfig     `json:"admin,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChatIDs are the operator chats allowed to author campaigns and
	// receive delivery reports.
	AdminChatIDs []int64 `json:"admin_chat_ids"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Offline skips the getMe call on startup; used by tests.
	Offline bool `json:"offline,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is the sqlite busy_timeout (default "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the due-check loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// FastInterval and SlowInterval drive the two due-check cadences
	// (defaults "15s" and "60s").
	FastInterval string `json:"fast_interval,omitempty"`
	SlowInterval string `json:"slow_interval,omitempty"`

	// MaxAge is the staleness cutoff for scheduled campaigns (default "24h").
	MaxAge string `json:"max_age,omitempty"`
	// CancelStale auto-cancels campaigns past the cutoff on the slow cadence.
	CancelStale bool `json:"cancel_stale,omitempty"`
}

type BroadcastConfig struct {
	// RatePerSec caps outbound sends during a delivery pass (default 20).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// AdminConfig controls the optional admin HTTP surface.
//
// Prefer binding to localhost; the server carries no authentication of its
// own.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8087"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
