// Package campaign defines the broadcast campaign domain model shared by the
// store, the scheduler and the delivery engine.
package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the campaign lifecycle state. Sent and Cancelled are terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCancelled
}

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.TrimSpace(strings.ToLower(raw))) {
	case StatusDraft:
		return StatusDraft, nil
	case StatusScheduled:
		return StatusScheduled, nil
	case StatusSent:
		return StatusSent, nil
	case StatusCancelled:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown campaign status %q", raw)
}

// Button is one inline keyboard entry. Buttons are URL-only; callback buttons
// are not part of broadcast messages.
type Button struct {
	Label string
	URL   string
}

// Campaign is a persisted broadcast job. It is owned by the store and mutated
// only through store operations.
type Campaign struct {
	ID      string
	Title   string // operator-facing label, never sent to recipients
	Body    Body
	Buttons [][]Button
	Segment Segment

	// ScheduledAt is the UTC fire instant; nil means "send immediately".
	ScheduledAt *time.Time

	Status     Status
	SentCount  int
	ErrorCount int

	CreatedBy int64 // operator chat id
	CreatedAt time.Time
	SentAt    time.Time
}

// Validate checks the authoring-time invariants before the campaign is
// persisted.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("campaign title is empty")
	}
	if c.Body == nil {
		return errors.New("campaign body is empty")
	}
	if err := c.Body.validate(); err != nil {
		return err
	}
	if _, err := ParseSegment(string(c.Segment)); err != nil {
		return err
	}
	for _, row := range c.Buttons {
		for _, b := range row {
			if strings.TrimSpace(b.Label) == "" || strings.TrimSpace(b.URL) == "" {
				return errors.New("button rows require both label and url")
			}
		}
	}
	return nil
}

// ParseButtonRows parses the authoring notation: one row per line, buttons
// separated by "|" in Label | URL pairs.
func ParseButtonRows(raw string) ([][]Button, error) {
	var rows [][]Button
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts)%2 != 0 {
			return nil, fmt.Errorf("button line %q: expected Label | URL pairs", line)
		}
		var row []Button
		for i := 0; i < len(parts); i += 2 {
			label := strings.TrimSpace(parts[i])
			url := strings.TrimSpace(parts[i+1])
			if label == "" || url == "" {
				return nil, fmt.Errorf("button line %q: empty label or url", line)
			}
			row = append(row, Button{Label: label, URL: url})
		}
		rows = append(rows, row)
	}
	return rows, nil
}
