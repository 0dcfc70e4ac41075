package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crmbot/internal/campaign"
	"crmbot/internal/services/scheduler"
	"crmbot/internal/storage"
	"crmbot/pkg/civil"
	"crmbot/pkg/logx"
)

// createCampaignRequest is the authoring payload. Schedule takes the civil
// form "DD.MM.YYYY HH:MM", the literal "now" for immediate delivery, or
// empty to keep the campaign in draft.
type createCampaignRequest struct {
	Title    string `json:"title"`
	Kind     string `json:"kind"` // text, photo, video, document
	Text     string `json:"text"`
	MediaRef string `json:"media_ref,omitempty"`
	// Buttons is the authoring notation: one row per line, "Label | URL"
	// pairs separated by "|".
	Buttons   string `json:"buttons,omitempty"`
	Segment   string `json:"segment"`
	Schedule  string `json:"schedule,omitempty"`
	CreatedBy int64  `json:"created_by,omitempty"`
}

type campaignView struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Kind        string              `json:"kind"`
	Text        string              `json:"text,omitempty"`
	MediaRef    string              `json:"media_ref,omitempty"`
	Buttons     [][]campaign.Button `json:"buttons,omitempty"`
	Segment     string              `json:"segment"`
	ScheduledAt string              `json:"scheduled_at,omitempty"` // civil display form
	Status      string              `json:"status"`
	SentCount   int                 `json:"sent_count"`
	ErrorCount  int                 `json:"error_count"`
	CreatedAt   time.Time           `json:"created_at"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
}

func viewOf(c *campaign.Campaign) campaignView {
	kind, text, fileID := campaign.Flatten(c.Body)
	v := campaignView{
		ID:         c.ID,
		Title:      c.Title,
		Kind:       string(kind),
		Text:       text,
		MediaRef:   fileID,
		Buttons:    c.Buttons,
		Segment:    string(c.Segment),
		Status:     string(c.Status),
		SentCount:  c.SentCount,
		ErrorCount: c.ErrorCount,
		CreatedAt:  c.CreatedAt,
	}
	if !c.SentAt.IsZero() {
		v.SentAt = &c.SentAt
	}
	if c.ScheduledAt != nil {
		v.ScheduledAt = civil.Format(*c.ScheduledAt)
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", logx.Err(err))
	}
}

func (s *Server) writeErr(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body, err := campaign.NewBody(campaign.BodyKind(strings.TrimSpace(req.Kind)), req.Text, req.MediaRef)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	buttons, err := campaign.ParseButtonRows(req.Buttons)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	seg, err := campaign.ParseSegment(strings.TrimSpace(req.Segment))
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	c := &campaign.Campaign{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(req.Title),
		Body:      body,
		Buttons:   buttons,
		Segment:   seg,
		Status:    campaign.StatusDraft,
		CreatedBy: req.CreatedBy,
	}

	sendNow := false
	switch sched := strings.TrimSpace(req.Schedule); {
	case sched == "":
		// draft
	case strings.EqualFold(sched, "now"):
		c.Status = campaign.StatusScheduled
		sendNow = true
	default:
		at, err := civil.Parse(sched, time.Now().UTC())
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		c.ScheduledAt = &at
		c.Status = campaign.StatusScheduled
	}

	// Validation errors return before anything persists.
	if err := c.Validate(); err != nil {
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.CreateCampaign(r.Context(), c); err != nil {
		s.log.Error("campaign create failed", logx.Err(err))
		s.writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}

	if sendNow && s.deps.Dispatcher != nil {
		id := c.ID
		// Delivery can take minutes at the configured rate; don't hold the
		// request open for it.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := s.deps.Dispatcher.Dispatch(ctx, id); err != nil {
				s.log.Warn("immediate dispatch failed", logx.String("campaign", id), logx.Err(err))
			}
		}()
	}

	s.writeJSON(w, http.StatusCreated, viewOf(c))
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.Campaigns(r.Context())
	if err != nil {
		s.log.Error("campaign list failed", logx.Err(err))
		s.writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	views := make([]campaignView, 0, len(list))
	for i := range list {
		views = append(views, viewOf(&list[i]))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.CampaignByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.log.Error("campaign get failed", logx.Err(err))
		s.writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.CancelCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.writeErr(w, http.StatusNotFound, "campaign not found")
		case errors.Is(err, storage.ErrTerminalStatus):
			s.writeErr(w, http.StatusConflict, "campaign already in a terminal status")
		default:
			s.log.Error("campaign cancel failed", logx.Err(err))
			s.writeErr(w, http.StatusInternalServerError, "storage error")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) sendCampaign(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		s.writeErr(w, http.StatusServiceUnavailable, "dispatcher not available")
		return
	}
	id := chi.URLParam(r, "id")
	res, err := s.deps.Dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.writeErr(w, http.StatusNotFound, "campaign not found")
		case errors.Is(err, scheduler.ErrNotClaimable):
			s.writeErr(w, http.StatusConflict, "campaign is not in a sendable status")
		default:
			s.log.Warn("manual dispatch failed", logx.String("campaign", id), logx.Err(err))
			s.writeErr(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"sent":   res.Sent,
		"errors": res.Errors,
		"total":  res.Total,
	})
}
