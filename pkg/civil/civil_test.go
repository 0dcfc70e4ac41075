package civil

import (
	"errors"
	"testing"
	"time"
)

func TestParseWallClockOffset(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	got, err := Parse("15.06.2025 10:00", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	// 10:00 wall clock in UTC+3 is 07:00 UTC.
	want := time.Date(2025, 6, 15, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
}

func TestParseAcceptsDisplayForm(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a, err := Parse("15.06.2025 10:00", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	b, err := Parse("15.06.2025, 10:00", now)
	if err != nil {
		t.Fatalf("Parse display form error: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("display form parsed to %v, want %v", b, a)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	instants := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 20, 59, 0, 0, time.UTC), // crosses midnight in UTC+3
		time.Date(2026, 2, 28, 21, 30, 0, 0, time.UTC),
	}
	for _, want := range instants {
		s := Format(want)
		got, err := Parse(s, now)
		if err != nil {
			t.Fatalf("Parse(Format(%v)) = %q error: %v", want, s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip %v -> %q -> %v", want, s, got)
		}
		// And the string side for the display form.
		if Format(got) != s {
			t.Fatalf("Format(Parse(%q)) = %q", s, Format(got))
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	bad := []string{
		"",
		"tomorrow",
		"01.13.2025 10:00", // month out of range
		"32.01.2025 10:00", // day out of range
		"30.02.2025 10:00", // no such calendar date
		"01.06.2025 24:00",
		"01.06.2025 10:60",
		"1.6.2025 10:00", // padding required
		"01.06.2025",
	}
	for _, s := range bad {
		if _, err := Parse(s, now); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestParseFutureOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 15, 7, 0, 0, 0, time.UTC)

	// Exactly now (07:00 UTC == 10:00 UTC+3) is rejected: strictly after only.
	if _, err := Parse("15.06.2025 10:00", now); !errors.Is(err, ErrNotFuture) {
		t.Fatalf("Parse at now: err = %v, want ErrNotFuture", err)
	}
	if _, err := Parse("15.06.2025 09:59", now); !errors.Is(err, ErrNotFuture) {
		t.Fatalf("Parse in past: err = %v, want ErrNotFuture", err)
	}
	if _, err := Parse("15.06.2025 10:01", now); err != nil {
		t.Fatalf("Parse one minute ahead: %v", err)
	}
}
