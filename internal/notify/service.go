package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

// BookingConfirmation carries what the customer needs to attend a session.
type BookingConfirmation struct {
	BookingCode   string
	CustomerName  string
	CustomerEmail string
	Mobile        string
	Date          time.Time
	StartTime     string
	EndTime       string
	Amount        string
	TransactionID string
	MeetingLink   string
}

// UpcomingSession is one row of the admin digest of sessions starting soon.
type UpcomingSession struct {
	BookingCode   string
	CustomerName  string
	CustomerEmail string
	Mobile        string
	Date          time.Time
	StartTime     string
	EndTime       string
	MeetingLink   string
}

// Service sends booking emails to customers and the administrator.
type Service struct {
	email      EmailSender
	adminEmail string
	logger     *logging.Logger
}

func NewService(email EmailSender, adminEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		adminEmail: strings.TrimSpace(adminEmail),
		logger:     logger.WithComponent("notify"),
	}
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Your consultation is confirmed</h2>
<p>Hi {{.CustomerName}}, thank you for your payment. Your booking details are below.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Booking code:</strong></td><td style="padding: 8px;">{{.BookingCode}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Date:</strong></td><td style="padding: 8px;">{{.Date}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Time:</strong></td><td style="padding: 8px;">{{.StartTime}} - {{.EndTime}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Amount paid:</strong></td><td style="padding: 8px;">{{.Amount}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Phone:</strong></td><td style="padding: 8px;">{{.Mobile}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Transaction ID:</strong></td><td style="padding: 8px;">{{.TransactionID}}</td></tr>
  <tr><td style="padding: 8px;"><strong>Meeting link:</strong></td><td style="padding: 8px;">{{if .MeetingLink}}<a href="{{.MeetingLink}}">{{.MeetingLink}}</a>{{else}}N/A{{end}}</td></tr>
</table>
</div>`))

var digestTmpl = template.Must(template.New("digest").Parse(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Consultations starting within the hour</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><th style="padding: 8px;">Time</th><th style="padding: 8px;">Customer</th><th style="padding: 8px;">Phone</th><th style="padding: 8px;">Code</th><th style="padding: 8px;">Link</th></tr>
  {{range .}}<tr><td style="padding: 8px;">{{.Date}} {{.StartTime}}-{{.EndTime}}</td><td style="padding: 8px;">{{.CustomerName}} &lt;{{.CustomerEmail}}&gt;</td><td style="padding: 8px;">{{.Mobile}}</td><td style="padding: 8px;">{{.BookingCode}}</td><td style="padding: 8px;">{{if .MeetingLink}}<a href="{{.MeetingLink}}">join</a>{{else}}N/A{{end}}</td></tr>
  {{end}}
</table>
</div>`))

type confirmationView struct {
	BookingConfirmation
	Date string
}

type sessionView struct {
	UpcomingSession
	Date string
}

// NotifyBookingConfirmed emails the customer, copying the administrator.
func (s *Service) NotifyBookingConfirmed(ctx context.Context, c BookingConfirmation) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping confirmation")
		return nil
	}
	if strings.TrimSpace(c.CustomerEmail) == "" {
		return errors.New("notify: customer email is required")
	}

	var html bytes.Buffer
	if err := confirmationTmpl.Execute(&html, confirmationView{BookingConfirmation: c, Date: c.Date.Format("Monday, January 2, 2006")}); err != nil {
		return fmt.Errorf("notify: render confirmation: %w", err)
	}

	link := c.MeetingLink
	if link == "" {
		link = "N/A"
	}
	body := fmt.Sprintf(`Hi %s,

Your consultation is confirmed.

Booking code: %s
Date: %s
Time: %s - %s
Amount paid: %s
Phone: %s
Transaction ID: %s
Meeting link: %s
`, c.CustomerName, c.BookingCode, c.Date.Format(time.DateOnly), c.StartTime, c.EndTime, c.Amount, c.Mobile, c.TransactionID, link)

	msg := EmailMessage{
		To:      c.CustomerEmail,
		ToName:  c.CustomerName,
		Subject: fmt.Sprintf("Consultation confirmed - %s", c.BookingCode),
		Body:    body,
		HTML:    html.String(),
	}
	if s.adminEmail != "" {
		msg.CC = []string{s.adminEmail}
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send confirmation", "error", err, "booking_code", c.BookingCode)
		return fmt.Errorf("notify: send confirmation: %w", err)
	}
	s.logger.Info("notify: confirmation sent", "booking_code", c.BookingCode)
	return nil
}

// NotifyUpcoming sends the administrator a digest of sessions starting soon.
// An empty list sends nothing.
func (s *Service) NotifyUpcoming(ctx context.Context, sessions []UpcomingSession) error {
	if len(sessions) == 0 {
		return nil
	}
	if s.email == nil || s.adminEmail == "" {
		s.logger.Debug("notify: admin email not configured, skipping digest", "sessions", len(sessions))
		return nil
	}

	views := make([]sessionView, 0, len(sessions))
	var text strings.Builder
	for _, sess := range sessions {
		views = append(views, sessionView{UpcomingSession: sess, Date: sess.Date.Format(time.DateOnly)})
		fmt.Fprintf(&text, "%s %s-%s  %s <%s>  %s  %s\n",
			sess.Date.Format(time.DateOnly), sess.StartTime, sess.EndTime,
			sess.CustomerName, sess.CustomerEmail, sess.Mobile, sess.BookingCode)
	}

	var html bytes.Buffer
	if err := digestTmpl.Execute(&html, views); err != nil {
		return fmt.Errorf("notify: render digest: %w", err)
	}

	msg := EmailMessage{
		To:      s.adminEmail,
		Subject: fmt.Sprintf("%d consultation(s) starting within the hour", len(sessions)),
		Body:    text.String(),
		HTML:    html.String(),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send digest", "error", err)
		return fmt.Errorf("notify: send digest: %w", err)
	}
	return nil
}
