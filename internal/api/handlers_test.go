package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"crmbot/internal/campaign"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/services/scheduler"
	"crmbot/internal/storage"
	"crmbot/pkg/civil"
	"crmbot/pkg/logx"
)

type fakeDispatcher struct {
	calls []string
	res   broadcast.Result
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id string) (broadcast.Result, error) {
	f.calls = append(f.calls, id)
	return f.res, f.err
}

func newTestServer(t *testing.T, d Dispatcher) (*Server, *storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	s := New(Config{Enabled: true}, Deps{Store: st, Dispatcher: d, Log: logx.Nop()})
	return s, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateScheduledCampaign(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t, nil)
	h := s.routes()

	future := time.Now().In(civil.Offset).Add(48 * time.Hour)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"title":    "spring promo",
		"kind":     "text",
		"text":     "hello",
		"segment":  "all",
		"buttons":  "Shop | https://example.com",
		"schedule": future.Format("02.01.2006 15:04"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var v struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		ScheduledAt string `json:"scheduled_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.ID == "" || v.Status != "scheduled" || v.ScheduledAt == "" {
		t.Fatalf("view = %+v", v)
	}

	stored, err := st.CampaignByID(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("CampaignByID: %v", err)
	}
	if stored.Status != campaign.StatusScheduled || stored.ScheduledAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if len(stored.Buttons) != 1 || stored.Buttons[0][0].Label != "Shop" {
		t.Fatalf("buttons = %+v", stored.Buttons)
	}
}

func TestCreateRejectsBeforePersisting(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t, nil)
	h := s.routes()

	tests := []map[string]any{
		{"title": "", "kind": "text", "text": "x", "segment": "all"},             // empty title
		{"title": "a", "kind": "photo", "text": "x", "segment": "all"},          // media without ref
		{"title": "a", "kind": "text", "text": "x", "segment": "martians"},      // unknown segment
		{"title": "a", "kind": "text", "text": "x", "segment": "all", "schedule": "01.13.2025 10:00"},
		{"title": "a", "kind": "text", "text": "x", "segment": "all", "schedule": "01.01.2020 10:00"}, // past
		{"title": "a", "kind": "text", "text": "x", "segment": "all", "buttons": "NoURL"},
	}
	for i, body := range tests {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/campaigns", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400 (body %s)", i, rec.Code, rec.Body.String())
		}
	}

	list, err := st.Campaigns(context.Background())
	if err != nil {
		t.Fatalf("Campaigns: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected payloads persisted %d campaigns", len(list))
	}
}

func TestCreateNowDispatches(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s, _ := newTestServer(t, d)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"title": "flash sale", "kind": "text", "text": "go", "segment": "all", "schedule": "now",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Dispatch runs off the request goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for len(d.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(d.calls) != 1 {
		t.Fatalf("dispatch calls = %v, want one", d.calls)
	}
}

func TestGetAndListCampaigns(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t, nil)
	h := s.routes()

	err := st.CreateCampaign(context.Background(), &campaign.Campaign{
		ID: "c1", Title: "t", Body: campaign.Text{Text: "x"},
		Segment: campaign.SegmentAll, Status: campaign.StatusDraft,
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/campaigns/c1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/campaigns/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/campaigns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (err %v)", rec.Body.String(), err)
	}
}

func TestCancelConflictsOnTerminal(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t, nil)
	h := s.routes()

	err := st.CreateCampaign(context.Background(), &campaign.Campaign{
		ID: "c1", Title: "t", Body: campaign.Text{Text: "x"},
		Segment: campaign.SegmentAll, Status: campaign.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/campaigns/c1/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first cancel status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/campaigns/c1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/campaigns/nope/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing cancel status = %d, want 404", rec.Code)
	}
}

func TestManualSend(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{res: broadcast.Result{Sent: 5, Errors: 1, Total: 6}}
	s, _ := newTestServer(t, d)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/campaigns/c1/send", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d", rec.Code)
	}
	var res map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res["sent"] != 5 || res["errors"] != 1 || res["total"] != 6 {
		t.Fatalf("result = %v", res)
	}

	d.err = scheduler.ErrNotClaimable
	rec = doJSON(t, h, http.MethodPost, "/api/v1/campaigns/c1/send", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unclaimable send status = %d, want 409", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.routes(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

