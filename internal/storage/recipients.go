package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Recipient is one bot subscriber. ReferrerID points at the recipient whose
// invite link brought them in.
type Recipient struct {
	ChatID     int64
	Username   string
	FirstName  string
	IsBot      bool
	Blocked    bool
	JoinedAt   time.Time
	ReferrerID *int64
}

// RecipientFilter narrows the recipient population. The zero value matches
// every deliverable recipient. Bots and globally blocked recipients are
// excluded from every query unconditionally; the block-list exclusion is a
// cross-cutting rule, not part of any filter.
type RecipientFilter struct {
	JoinedAfter  time.Time
	JoinedBefore time.Time

	MinReferrals int  // when > 0, require at least this many referrals
	NoReferrals  bool // require exactly zero referrals

	OrderByReferrals bool // most referrals first
	Limit            int
}

func (s *Store) UpsertRecipient(ctx context.Context, r Recipient) error {
	if r.JoinedAt.IsZero() {
		r.JoinedAt = time.Now().UTC()
	}
	var referrer any
	if r.ReferrerID != nil {
		referrer = *r.ReferrerID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(chat_id, username, first_name, is_bot, blocked, joined_at, referrer_id)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET username=excluded.username, first_name=excluded.first_name`,
		r.ChatID, nullStr(r.Username), nullStr(r.FirstName), boolInt(r.IsBot), boolInt(r.Blocked),
		r.JoinedAt.UnixMilli(), referrer,
	)
	return err
}

// SetRecipientBlocked flips the global block-list flag.
func (s *Store) SetRecipientBlocked(ctx context.Context, chatID int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET blocked = ? WHERE chat_id = ?`, boolInt(blocked), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecipientsWhere returns the chat ids matching the filter, via a single
// query path shared by all segments.
func (s *Store) RecipientsWhere(ctx context.Context, f RecipientFilter) ([]int64, error) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT r.chat_id FROM recipients r
		LEFT JOIN (SELECT referrer_id AS rid, COUNT(*) AS cnt
		           FROM recipients WHERE referrer_id IS NOT NULL
		           GROUP BY referrer_id) ref ON ref.rid = r.chat_id
		WHERE r.is_bot = 0 AND r.blocked = 0`)

	if !f.JoinedAfter.IsZero() {
		b.WriteString(` AND r.joined_at >= ?`)
		args = append(args, f.JoinedAfter.UnixMilli())
	}
	if !f.JoinedBefore.IsZero() {
		b.WriteString(` AND r.joined_at < ?`)
		args = append(args, f.JoinedBefore.UnixMilli())
	}
	if f.MinReferrals > 0 {
		b.WriteString(` AND COALESCE(ref.cnt, 0) >= ?`)
		args = append(args, f.MinReferrals)
	}
	if f.NoReferrals {
		b.WriteString(` AND COALESCE(ref.cnt, 0) = 0`)
	}
	if f.OrderByReferrals {
		b.WriteString(` ORDER BY COALESCE(ref.cnt, 0) DESC, r.chat_id`)
	} else {
		b.WriteString(` ORDER BY r.chat_id`)
	}
	if f.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecipientByID returns ErrNotFound for unknown chat ids.
func (s *Store) RecipientByID(ctx context.Context, chatID int64) (*Recipient, error) {
	var (
		r         Recipient
		username  sql.NullString
		firstName sql.NullString
		isBot     int
		blocked   int
		joinedAt  int64
		referrer  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, username, first_name, is_bot, blocked, joined_at, referrer_id
		 FROM recipients WHERE chat_id = ?`, chatID).
		Scan(&r.ChatID, &username, &firstName, &isBot, &blocked, &joinedAt, &referrer)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Username = username.String
	r.FirstName = firstName.String
	r.IsBot = isBot != 0
	r.Blocked = blocked != 0
	r.JoinedAt = time.UnixMilli(joinedAt).UTC()
	if referrer.Valid {
		v := referrer.Int64
		r.ReferrerID = &v
	}
	return &r, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
