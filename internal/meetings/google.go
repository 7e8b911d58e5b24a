package meetings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendarProvider creates a calendar event with a Google Meet
// conference attached and returns the Meet link.
type GoogleCalendarProvider struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
}

// NewGoogleCalendarProvider builds a provider. With no options it reads the
// service account file at credentialsFile.
func NewGoogleCalendarProvider(ctx context.Context, credentialsFile, calendarID, timezone string, opts ...option.ClientOption) (*GoogleCalendarProvider, error) {
	if len(opts) == 0 {
		if strings.TrimSpace(credentialsFile) == "" {
			return nil, fmt.Errorf("meetings: google credentials file is required")
		}
		opts = []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(calendar.CalendarEventsScope),
		}
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("meetings: create calendar service: %w", err)
	}
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("meetings: load timezone %q: %w", timezone, err)
	}
	return &GoogleCalendarProvider{svc: svc, calendarID: calendarID, loc: loc}, nil
}

func (p *GoogleCalendarProvider) CreateMeeting(ctx context.Context, req Request) (string, error) {
	start, end, err := req.Window(p.loc)
	if err != nil {
		return "", err
	}

	attendees := make([]*calendar.EventAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		if email = strings.TrimSpace(email); email != "" {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: p.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: p.loc.String()},
		Attendees:   attendees,
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             req.BookingCode,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	created, err := p.svc.Events.Insert(p.calendarID, event).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("meetings: insert calendar event: %w", err)
	}
	if link := meetLink(created); link != "" {
		return link, nil
	}
	return "", ErrNoLink
}

func meetLink(ev *calendar.Event) string {
	if ev == nil {
		return ""
	}
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep != nil && ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return ""
}
