package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crmbot/internal/campaign"
	"crmbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mkCampaign(id string, status campaign.Status, scheduledAt *time.Time) *campaign.Campaign {
	return &campaign.Campaign{
		ID:          id,
		Title:       "promo " + id,
		Body:        campaign.Text{Text: "hello"},
		Segment:     campaign.SegmentAll,
		ScheduledAt: scheduledAt,
		Status:      status,
		CreatedBy:   1,
	}
}

func TestCampaignRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 7, 1, 7, 0, 0, 0, time.UTC)
	c := &campaign.Campaign{
		ID:          "c1",
		Title:       "summer promo",
		Body:        campaign.Photo{Caption: "sale!", FileID: "ph-42"},
		Buttons:     [][]campaign.Button{{{Label: "Shop", URL: "https://shop.example"}}},
		Segment:     campaign.SegmentActive7,
		ScheduledAt: &at,
		Status:      campaign.StatusScheduled,
		CreatedBy:   99,
	}
	if err := st.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	got, err := st.CampaignByID(ctx, "c1")
	if err != nil {
		t.Fatalf("CampaignByID: %v", err)
	}
	if got.Body != (campaign.Photo{Caption: "sale!", FileID: "ph-42"}) {
		t.Fatalf("body = %#v", got.Body)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Fatalf("scheduledAt = %v, want %v", got.ScheduledAt, at)
	}
	if len(got.Buttons) != 1 || got.Buttons[0][0].URL != "https://shop.example" {
		t.Fatalf("buttons = %+v", got.Buttons)
	}

	if _, err := st.CampaignByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestDueCampaignsWindow(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC)

	ts := func(d time.Duration) *time.Time { at := now.Add(d); return &at }

	fixtures := []*campaign.Campaign{
		mkCampaign("due", campaign.StatusScheduled, ts(-time.Minute)),
		mkCampaign("future", campaign.StatusScheduled, ts(time.Hour)),
		mkCampaign("stale", campaign.StatusScheduled, ts(-25*time.Hour)),
		mkCampaign("immediate", campaign.StatusScheduled, nil),
		mkCampaign("done", campaign.StatusSent, ts(-time.Minute)),
	}
	for _, c := range fixtures {
		if err := st.CreateCampaign(ctx, c); err != nil {
			t.Fatalf("CreateCampaign(%s): %v", c.ID, err)
		}
	}

	due, err := st.DueCampaigns(ctx, now, DefaultMaxAge)
	if err != nil {
		t.Fatalf("DueCampaigns: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("due = %+v, want only \"due\"", due)
	}

	stale, err := st.StaleCampaigns(ctx, now, DefaultMaxAge)
	if err != nil {
		t.Fatalf("StaleCampaigns: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale" {
		t.Fatalf("stale = %+v, want only \"stale\"", stale)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	at := now.Add(-time.Minute)

	if err := st.CreateCampaign(ctx, mkCampaign("c", campaign.StatusScheduled, &at)); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	ok, err := st.ClaimCampaign(ctx, "c", now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	// Second tick reading the same due list loses the claim.
	ok, err = st.ClaimCampaign(ctx, "c", now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("second claim succeeded, want skip")
	}

	got, err := st.CampaignByID(ctx, "c")
	if err != nil {
		t.Fatalf("CampaignByID: %v", err)
	}
	if got.Status != campaign.StatusSent || got.SentCount != 0 || got.ErrorCount != 0 {
		t.Fatalf("after claim: %+v, want sent with provisional zero counts", got)
	}
	if got.SentAt.IsZero() {
		t.Fatal("sent_at not set by claim")
	}

	if err := st.FinalizeCampaign(ctx, "c", 7, 2); err != nil {
		t.Fatalf("FinalizeCampaign: %v", err)
	}
	got, _ = st.CampaignByID(ctx, "c")
	if got.SentCount != 7 || got.ErrorCount != 2 {
		t.Fatalf("final counts = %d/%d, want 7/2", got.SentCount, got.ErrorCount)
	}
}

func TestStatusMonotonicity(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.CreateCampaign(ctx, mkCampaign("c", campaign.StatusScheduled, nil)); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	if _, err := st.CancelCampaign(ctx, "c"); err != nil {
		t.Fatalf("CancelCampaign: %v", err)
	}

	// Terminal is immutable: neither update nor a second cancel may move it.
	if _, err := st.UpdateCampaignStatus(ctx, "c", campaign.StatusSent, 1, 0); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("update after cancel: err = %v, want ErrTerminalStatus", err)
	}
	if _, err := st.CancelCampaign(ctx, "c"); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("second cancel: err = %v, want ErrTerminalStatus", err)
	}
	got, err := st.CampaignByID(ctx, "c")
	if err != nil {
		t.Fatalf("CampaignByID: %v", err)
	}
	if got.Status != campaign.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if _, err := st.UpdateCampaignStatus(ctx, "missing", campaign.StatusSent, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: err = %v, want ErrNotFound", err)
	}
}
