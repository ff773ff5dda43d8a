package normalize

import (
	"errors"
	"testing"
	"time"
)

// fixedNow pins the clock so year-less dates resolve deterministically.
// 2026-01-10 12:00 UTC: January 5 has passed, January 20 has not.
var fixedNow = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New("US", time.UTC, func() time.Time { return fixedNow })
}

// ---------- Name ----------

func TestName_Canonicalizes(t *testing.T) {
	n := newTestNormalizer()

	cases := map[string]string{
		"jane doe":       "Jane Doe",
		"  jane   doe  ": "Jane Doe",
		"JANE DOE":       "Jane Doe",
		"Jane Doe":       "Jane Doe",
		"":               "",
		"   ":            "",
		"maria\tgarcia":  "Maria Garcia",
	}
	for raw, want := range cases {
		if got := n.Name(raw); got != want {
			t.Errorf("Name(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestName_Idempotent(t *testing.T) {
	n := newTestNormalizer()
	once := n.Name("  jane   DOE ")
	if twice := n.Name(once); twice != once {
		t.Fatalf("Name not idempotent: %q → %q", once, twice)
	}
}

// ---------- Phone ----------

func TestPhone_NationalToE164(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Phone("(212) 555-0123")
	if err != nil {
		t.Fatalf("Phone: %v", err)
	}
	if got != "+12125550123" {
		t.Fatalf("Phone = %q, want +12125550123", got)
	}
}

func TestPhone_AlreadyE164(t *testing.T) {
	n := newTestNormalizer()
	got, err := n.Phone("+12125550123")
	if err != nil || got != "+12125550123" {
		t.Fatalf("Phone = %q, %v", got, err)
	}
}

func TestPhone_Invalid(t *testing.T) {
	n := newTestNormalizer()
	for _, raw := range []string{"", "abc", "123", "+1 22"} {
		if _, err := n.Phone(raw); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("Phone(%q): expected ErrInvalidPhone, got %v", raw, err)
		}
	}
}

// ---------- Email ----------

func TestEmail_Canonicalizes(t *testing.T) {
	n := newTestNormalizer()
	got, err := n.Email("  JANE@Example.COM ")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if got != "jane@example.com" {
		t.Fatalf("Email = %q", got)
	}
}

func TestEmail_EmptyIsNotAnError(t *testing.T) {
	n := newTestNormalizer()
	got, err := n.Email("   ")
	if err != nil || got != "" {
		t.Fatalf("Email(blank) = %q, %v; want \"\", nil", got, err)
	}
}

func TestEmail_Invalid(t *testing.T) {
	n := newTestNormalizer()
	for _, raw := range []string{"not-an-email", "a@b", "jane@", "@example.com"} {
		if _, err := n.Email(raw); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Email(%q): expected ErrInvalidEmail, got %v", raw, err)
		}
	}
}

// ---------- StartTime ----------

func TestStartTime_RFC3339Literal(t *testing.T) {
	n := newTestNormalizer()
	got, err := n.StartTime("2026-03-01T14:30:00Z")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.March, 1, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_OrdinalDayResolvesForward(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.StartTime("January 20th")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_PassedDateRollsToNextYear(t *testing.T) {
	n := newTestNormalizer()

	// January 5 already passed relative to the pinned clock.
	got, err := n.StartTime("January 5th")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
	if got.Before(fixedNow) {
		t.Fatal("resolved year-less date landed in the past")
	}
}

func TestStartTime_TodaysBareDateStaysToday(t *testing.T) {
	n := newTestNormalizer()

	// The pinned clock sits at midday; naming today's date must not skip a
	// whole year.
	got, err := n.StartTime("January 10")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_PassedClockTimeTodayRollsForward(t *testing.T) {
	n := newTestNormalizer()

	// With an explicit time of day the comparison is exact: 09:00 already
	// passed the midday clock, so the next occurrence is a year out.
	got, err := n.StartTime("January 10 09:00")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2027, time.January, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_DayOfMonthPhrase(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.StartTime("the 20th of January")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_SpokenFormWithTime(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.StartTime("january 20th at 2pm")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.January, 20, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_TenantZoneResolvesAmbiguity(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	n := New("US", ny, func() time.Time { return fixedNow })

	got, err := n.StartTime("January 20 15:04")
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2026, time.January, 20, 15, 4, 0, 0, ny)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestStartTime_Deterministic(t *testing.T) {
	n := newTestNormalizer()
	a, err1 := n.StartTime("January 20th at 2pm")
	b, err2 := n.StartTime("January 20th at 2pm")
	if err1 != nil || err2 != nil {
		t.Fatalf("StartTime: %v / %v", err1, err2)
	}
	if !a.Equal(b) {
		t.Fatalf("same input, different results: %v vs %v", a, b)
	}
}

func TestStartTime_Invalid(t *testing.T) {
	n := newTestNormalizer()
	for _, raw := range []string{"", "   ", "not a date", "the of January"} {
		if _, err := n.StartTime(raw); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("StartTime(%q): expected ErrInvalidDate, got %v", raw, err)
		}
	}
}
