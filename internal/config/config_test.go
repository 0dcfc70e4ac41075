package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bot.json", `{
		"telegram": {"token": "123:abc", "admin_chat_ids": [42], "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"path": "./bot.db"},
		"scheduler": {"enabled": true, "fast_interval": "15s", "slow_interval": "1m", "cancel_stale": true},
		"broadcast": {"rate_per_sec": 20},
		"admin": {"enabled": true, "addr": "127.0.0.1:8087"}
	}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.AdminChatIDs) != 1 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if !cfg.Scheduler.Enabled || !cfg.Scheduler.CancelStale {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Broadcast.RatePerSec != 20 {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bot.yaml", `
telegram:
  token: "123:abc"
  admin_chat_ids: [42, 43]
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./bot.log
storage:
  path: ./bot.db
  busy_timeout: 5s
scheduler:
  enabled: true
broadcast:
  rate_per_sec: 25
`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Telegram.AdminChatIDs) != 2 || cfg.Telegram.AdminChatIDs[1] != 43 {
		t.Fatalf("admin_chat_ids = %v", cfg.Telegram.AdminChatIDs)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "./bot.log" {
		t.Fatalf("logging.file = %+v", cfg.Logging.File)
	}
	if cfg.Broadcast.RatePerSec != 25 {
		t.Fatalf("rate_per_sec = %d", cfg.Broadcast.RatePerSec)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bot.json", `{"telegram": {"token": "x"}, "shceduler": {"enabled": true}}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("want error for unknown top-level key")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bot.json", `{"telegram": {"token": "x"}}{"again": true}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("want error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"15s", 15 * time.Second, false},
		{" 1m ", time.Minute, false},
		{"-5s", 0, true},
		{"banana", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("scheduler.fast_interval", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDurationField(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", 24*time.Hour); err != nil || d != 24*time.Hour {
		t.Fatalf("ParseDurationOrDefault empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "30m", 24*time.Hour); err != nil || d != 30*time.Minute {
		t.Fatalf("ParseDurationOrDefault set = %v, %v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a := &Config{Broadcast: BroadcastConfig{RatePerSec: 10}}
	b := &Config{Broadcast: BroadcastConfig{RatePerSec: 30}}
	m.publish(a)
	m.publish(b) // buffer full: the stale snapshot is dropped for the newest

	got := <-ch
	if got.Broadcast.RatePerSec != 30 {
		t.Fatalf("subscriber got rate %d, want newest 30", got.Broadcast.RatePerSec)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true, FastInterval: "15s"},
		Broadcast: BroadcastConfig{RatePerSec: 20},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true, FastInterval: "30s"},
		Broadcast: BroadcastConfig{RatePerSec: 20},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "scheduler" {
		t.Fatalf("changed = %v, want [scheduler]", changed)
	}

	changed, _ = SummarizeConfigChange(oldCfg, oldCfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}
