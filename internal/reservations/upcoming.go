package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/consult-slots/internal/notify"
)

// UpcomingSlot is a booked slot and its confirmed booking.
type UpcomingSlot struct {
	Slot    Slot      `json:"slot"`
	Booking Booking   `json:"booking"`
	StartAt time.Time `json:"start_at"`
}

const selectUpcomingSQL = `
	SELECT s.id, s.configuration_id, s.ref_date, s.start_time, s.end_time, s.status, s.hold_until,
		s.price_minor, s.currency, s.consultation, s.created_at, s.updated_at,
		b.id, b.slot_id, b.configuration_id, b.booking_code,
		b.customer_timezone, b.customer_name, b.customer_email, b.customer_mobile, b.customer_country,
		b.customer_gender, b.customer_dob, b.customer_place_of_birth, b.customer_time_of_birth, b.user_notes,
		b.amount_minor, b.currency, b.payment_provider, b.payment_status, b.payment_reference,
		b.booking_status, b.meeting_link, b.cancellation_reason, b.created_at, b.updated_at
	FROM slots s
	JOIN bookings b ON b.slot_id = s.id AND b.booking_status = 'CONFIRMED'
	WHERE s.status = 'BOOKED' AND s.ref_date BETWEEN $1 AND $2
	ORDER BY s.ref_date, s.start_time`

// StartAt is the instant the slot begins in loc.
func (s Slot) StartAt(loc *time.Location) (time.Time, error) {
	hm, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("reservations: slot %s start %q: %w", s.ID, s.StartTime, err)
	}
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, loc), nil
}

// UpcomingBookedSlots returns booked slots starting within window from now.
func (s *Service) UpcomingBookedSlots(ctx context.Context, window time.Duration) ([]UpcomingSlot, error) {
	const op = "upcoming_booked_slots"
	if window <= 0 {
		return nil, validationError(op, "window must be positive")
	}
	now := s.clock.Now().In(s.location)
	until := now.Add(window)
	from := dateOnly(now)
	to := dateOnly(until)

	rows, err := s.db.Query(ctx, selectUpcomingSQL, from, to)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer rows.Close()

	out := []UpcomingSlot{}
	for rows.Next() {
		var u UpcomingSlot
		sl, b := &u.Slot, &u.Booking
		c := &b.Customer
		if err := rows.Scan(&sl.ID, &sl.ConfigurationID, &sl.Date, &sl.StartTime, &sl.EndTime, &sl.Status, &sl.HoldUntil,
			&sl.Price.Minor, &sl.Price.Currency, &sl.Consultation, &sl.CreatedAt, &sl.UpdatedAt,
			&b.ID, &b.SlotID, &b.ConfigurationID, &b.Code,
			&c.Timezone, &c.Name, &c.Email, &c.Mobile, &c.Country,
			&c.Gender, &c.DateOfBirth, &c.PlaceOfBirth, &c.TimeOfBirth, &c.Notes,
			&b.Amount.Minor, &b.Amount.Currency, &b.PaymentProvider, &b.PaymentStatus, &b.PaymentReference,
			&b.Status, &b.MeetingLink, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, txFailure(op, err)
		}
		startAt, err := sl.StartAt(s.location)
		if err != nil {
			s.logger.Warn("skipping slot with unparseable start", "slot_id", sl.ID, "error", err)
			continue
		}
		if startAt.Before(now) || !startAt.Before(until) {
			continue
		}
		u.StartAt = startAt
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, txFailure(op, err)
	}
	return out, nil
}

// NotifyUpcoming emails the administrator a digest of sessions starting
// within window. It returns how many sessions were reported.
func (s *Service) NotifyUpcoming(ctx context.Context, window time.Duration) (int, error) {
	upcoming, err := s.UpcomingBookedSlots(ctx, window)
	if err != nil {
		return 0, err
	}
	if len(upcoming) == 0 || s.notifier == nil {
		return len(upcoming), nil
	}
	sessions := make([]notify.UpcomingSession, len(upcoming))
	for i, u := range upcoming {
		var link string
		if u.Booking.MeetingLink != nil {
			link = *u.Booking.MeetingLink
		}
		sessions[i] = notify.UpcomingSession{
			BookingCode:   u.Booking.Code,
			CustomerName:  u.Booking.Customer.Name,
			CustomerEmail: u.Booking.Customer.Email,
			Mobile:        u.Booking.Customer.Mobile,
			Date:          u.Slot.Date,
			StartTime:     u.Slot.StartTime,
			EndTime:       u.Slot.EndTime,
			MeetingLink:   link,
		}
	}
	if err := s.notifier.NotifyUpcoming(ctx, sessions); err != nil {
		s.metrics.ObserveDegraded(DegradedNotification)
		return len(upcoming), &Error{Kind: KindExternal, Op: "notify_upcoming", Message: "upcoming digest not sent", Err: err}
	}
	s.logger.Info("upcoming sessions digest sent", "count", len(upcoming))
	return len(upcoming), nil
}
