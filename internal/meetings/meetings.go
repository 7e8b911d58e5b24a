// Package meetings provisions video meeting links for confirmed consultations.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoLink is returned when the provider accepted the request but did not
// hand back a joinable link.
var ErrNoLink = errors.New("meetings: provider returned no meeting link")

// Request describes the consultation a meeting is created for.
type Request struct {
	BookingCode string
	Summary     string
	Description string
	Date        time.Time
	StartTime   string
	EndTime     string
	Attendees   []string
}

// Provider creates a meeting and returns its join link.
type Provider interface {
	CreateMeeting(ctx context.Context, req Request) (string, error)
}

// Window resolves the request's date and HH:MM times into instants in loc.
func (r Request) Window(loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := atClock(r.Date, r.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(r.Date, r.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("meetings: end %s not after start %s", r.EndTime, r.StartTime)
	}
	return start, end, nil
}

func atClock(date time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("meetings: parse time %q: %w", hhmm, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// StubProvider returns a deterministic fake link; used in development.
type StubProvider struct {
	BaseURL string
}

func (s StubProvider) CreateMeeting(_ context.Context, req Request) (string, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://meet.example.invalid"
	}
	return base + "/" + strings.ToLower(req.BookingCode), nil
}
