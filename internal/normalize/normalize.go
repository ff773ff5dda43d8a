// Package normalize canonicalizes caller-supplied contact and date fields
// before they reach the conflict check or persistence. All functions are
// pure over their inputs plus an injected clock and timezone, so the same
// raw value always maps to the same canonical form.
//
// Canonical forms:
//   - Name:  title case, trimmed, whitespace collapsed ("jane doe" → "Jane Doe")
//   - Phone: E.164 against a default region ("(555) 123-4567" → "+15551234567")
//   - Email: lowercased and trimmed ("JANE@X.COM" → "jane@x.com")
//   - Date:  year-less inputs resolve against "now" in the tenant's zone and
//     never land in the past (an ambiguous month/day that already passed this
//     year rolls forward to its next occurrence)
package normalize

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Validation errors. Handlers map these to field-level response codes.
var (
	// ErrInvalidPhone indicates the raw phone could not be parsed as a valid
	// number for the configured region.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidEmail indicates a malformed email address. Whether this
	// blocks a booking depends on the tenant's email policy, decided by the
	// caller.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidDate indicates a date/time string that matched none of the
	// accepted forms.
	ErrInvalidDate = errors.New("invalid date or time")
)

// Normalizer canonicalizes raw caller input. The zero value is not usable;
// construct with New so region, zone, and clock are always set.
type Normalizer struct {
	region string
	loc    *time.Location
	now    func() time.Time

	titler cases.Caser
}

// New returns a Normalizer that parses national phone numbers against
// region (ISO-3166 alpha-2), resolves ambiguous dates in loc, and reads the
// current time from now. A nil now defaults to time.Now.
func New(region string, loc *time.Location, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		region: strings.ToUpper(strings.TrimSpace(region)),
		loc:    loc,
		now:    now,
		titler: cases.Title(language.Und),
	}
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// Name returns the canonical display form of a raw name: trimmed, internal
// whitespace collapsed, title-cased. Already-canonical input is returned
// unchanged.
func (n *Normalizer) Name(raw string) string {
	s := whitespaceRE.ReplaceAllString(strings.TrimSpace(raw), " ")
	if s == "" {
		return ""
	}
	return n.titler.String(s)
}

// Phone parses raw against the default region and returns the E.164 form.
// Numbers that fail parsing or validity checks yield ErrInvalidPhone.
func (n *Normalizer) Phone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}
	num, err := phonenumbers.Parse(raw, n.region)
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Email lowercases and trims raw and validates its shape. An empty input
// returns ("", nil); callers enforce whether email is required for the
// tenant. Malformed input yields ErrInvalidEmail.
func (n *Normalizer) Email(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrInvalidEmail
	}
	// mail.ParseAddress accepts "user@localhost"; bookings need a real domain.
	at := strings.LastIndex(s, "@")
	if at < 0 || !strings.Contains(s[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return s, nil
}

// Layouts carrying a full year, tried first.
var yearLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04pm",
	"2006-01-02",
	"January 2 2006 15:04",
	"January 2 2006 3:04pm",
	"January 2 2006",
	"January 2, 2006",
}

// Layouts with no year: resolved against "now" in the tenant's zone.
var yearlessLayouts = []string{
	"January 2 15:04",
	"January 2 3:04pm",
	"January 2 3pm",
	"January 2",
	"Jan 2 15:04",
	"Jan 2 3:04pm",
	"Jan 2 3pm",
	"Jan 2",
	"2 January 15:04",
	"2 January 3:04pm",
	"2 January 3pm",
	"2 January",
	"01-02 15:04",
	"01-02",
	"01/02 15:04",
	"01/02",
}

var (
	ordinalRE = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	// "the 20th of January" and "20 of January" reorder to "January 20".
	dayOfMonthRE = regexp.MustCompile(`(?i)^(?:the\s+)?(\d{1,2})\s+of\s+([a-z]+)(.*)$`)
)

// StartTime parses a caller-supplied date/time. Inputs carrying an explicit
// year are taken literally (converted into the tenant's zone when offset-less).
// Year-less inputs resolve to their occurrence in the current year at the
// tenant's zone, rolling forward one year when that moment is already in
// the past; a date-only input compares at day granularity, so today's date
// resolves to today rather than next year. An ambiguous-year guess never
// lands on an earlier day than "now". Unparseable input yields
// ErrInvalidDate.
func (n *Normalizer) StartTime(raw string) (time.Time, error) {
	s := whitespaceRE.ReplaceAllString(strings.TrimSpace(raw), " ")
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}

	// RFC3339 carries its own offset; honor it before any massaging.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	s = ordinalRE.ReplaceAllString(s, "$1")
	if m := dayOfMonthRE.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[2] + " " + m[1] + m[3])
	}
	// Speech transcripts connect date and time with "at"; drop it.
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " at ", " ")
	// Normalize month capitalization for time.Parse ("january" → "January").
	s = n.titler.String(s)
	s = strings.ReplaceAll(s, "Am", "am")
	s = strings.ReplaceAll(s, "Pm", "pm")

	for _, layout := range yearLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}

	now := n.now().In(n.loc)
	for _, layout := range yearlessLayouts {
		t, err := time.ParseInLocation(layout, s, n.loc)
		if err != nil {
			continue
		}
		resolved := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, n.loc)
		// A bare date names the whole day: it only rolls over once the day
		// itself has passed, so "March 1" spoken on March 1 stays this year.
		cutoff := now
		if !layoutHasClock(layout) {
			cutoff = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.loc)
		}
		if resolved.Before(cutoff) {
			resolved = resolved.AddDate(1, 0, 0)
		}
		return resolved, nil
	}

	return time.Time{}, ErrInvalidDate
}

// layoutHasClock reports whether a yearless layout carries a time of day.
func layoutHasClock(layout string) bool {
	return strings.Contains(layout, "15:04") || strings.Contains(layout, "3:04") || strings.Contains(layout, "3pm")
}
