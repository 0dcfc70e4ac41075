package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crmbot/internal/campaign"
	"crmbot/pkg/logx"
)

// DefaultMaxAge is the staleness cutoff for due campaigns: a scheduled
// campaign whose fire time is older than this is never delivered.
const DefaultMaxAge = 24 * time.Hour

// CreateCampaign persists a new campaign. The caller assigns the id and has
// already validated the record.
func (s *Store) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	kind, text, fileID := campaign.Flatten(c.Body)
	buttons, err := marshalButtons(c.Buttons)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns(id, title, body_kind, body_text, media_ref, buttons, segment,
		                       scheduled_at, status, sent_count, error_count, created_by, created_at, sent_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, string(kind), text, nullStr(fileID), buttons, string(c.Segment),
		nullTime(c.ScheduledAt), string(c.Status), c.SentCount, c.ErrorCount,
		c.CreatedBy, c.CreatedAt.UnixMilli(), nil,
	)
	return err
}

// CampaignByID returns ErrNotFound when the id is unknown.
func (s *Store) CampaignByID(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Campaigns lists all campaigns, newest first.
func (s *Store) Campaigns(ctx context.Context) ([]campaign.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignCols+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// DueCampaigns returns scheduled campaigns whose fire time has passed but is
// not older than maxAge (staleness cutoff, see StaleCampaigns).
func (s *Store) DueCampaigns(ctx context.Context, now time.Time, maxAge time.Duration) ([]campaign.Campaign, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns
		 WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ? AND scheduled_at >= ?
		 ORDER BY scheduled_at`,
		string(campaign.StatusScheduled), now.UnixMilli(), now.Add(-maxAge).UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// StaleCampaigns returns scheduled campaigns that fell past the staleness
// cutoff without being delivered.
func (s *Store) StaleCampaigns(ctx context.Context, now time.Time, maxAge time.Duration) ([]campaign.Campaign, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns
		 WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at < ?
		 ORDER BY scheduled_at`,
		string(campaign.StatusScheduled), now.Add(-maxAge).UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// ClaimCampaign atomically flips a scheduled campaign to sent with
// provisional zero counts. A false result means another scheduler tick
// already claimed it; the caller must skip the campaign.
func (s *Store) ClaimCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, sent_count = 0, error_count = 0, sent_at = ?
		 WHERE id = ? AND status = ?`,
		string(campaign.StatusSent), now.UnixMilli(), id, string(campaign.StatusScheduled),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeCampaign overwrites the provisional counts of a claimed campaign.
func (s *Store) FinalizeCampaign(ctx context.Context, id string, sent, errCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent_count = ?, error_count = ? WHERE id = ? AND status = ?`,
		sent, errCount, id, string(campaign.StatusSent),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finalize campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateCampaignStatus transitions a non-terminal campaign and returns the
// updated record. Terminal campaigns are immutable (ErrTerminalStatus).
func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status campaign.Status, sent, errCount int) (*campaign.Campaign, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, sent_count = ?, error_count = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), sent, errCount,
		id, string(campaign.StatusDraft), string(campaign.StatusScheduled),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish "missing" from "already terminal".
		if _, getErr := s.CampaignByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("campaign %s: %w", id, ErrTerminalStatus)
	}
	return s.CampaignByID(ctx, id)
}

// CancelCampaign moves a draft or scheduled campaign to cancelled, keeping
// whatever counts it carries.
func (s *Store) CancelCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE id = ? AND status IN (?, ?)`,
		string(campaign.StatusCancelled), id,
		string(campaign.StatusDraft), string(campaign.StatusScheduled),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, getErr := s.CampaignByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("campaign %s: %w", id, ErrTerminalStatus)
	}
	s.log.Debug("campaign cancelled", logx.String("campaign", id))
	return s.CampaignByID(ctx, id)
}

const campaignCols = `id, title, body_kind, body_text, media_ref, buttons, segment,
	scheduled_at, status, sent_count, error_count, created_by, created_at, sent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	var (
		c           campaign.Campaign
		kind        string
		text        string
		mediaRef    sql.NullString
		buttons     sql.NullString
		segment     string
		status      string
		scheduledAt sql.NullInt64
		createdAt   int64
		sentAt      sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Title, &kind, &text, &mediaRef, &buttons, &segment,
		&scheduledAt, &status, &c.SentCount, &c.ErrorCount, &c.CreatedBy, &createdAt, &sentAt)
	if err != nil {
		return nil, err
	}

	body, err := campaign.NewBody(campaign.BodyKind(kind), text, mediaRef.String)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	c.Body = body
	c.Segment = campaign.Segment(segment)
	st, err := campaign.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	c.Status = st
	if buttons.Valid && buttons.String != "" {
		if err := json.Unmarshal([]byte(buttons.String), &c.Buttons); err != nil {
			return nil, fmt.Errorf("campaign %s buttons: %w", c.ID, err)
		}
	}
	if scheduledAt.Valid {
		at := time.UnixMilli(scheduledAt.Int64).UTC()
		c.ScheduledAt = &at
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	if sentAt.Valid {
		c.SentAt = time.UnixMilli(sentAt.Int64).UTC()
	}
	return &c, nil
}

func collectCampaigns(rows *sql.Rows) ([]campaign.Campaign, error) {
	var out []campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func marshalButtons(rows [][]campaign.Button) (any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
