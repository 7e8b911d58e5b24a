package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/consult-slots/internal/events"
	"github.com/wolfman30/consult-slots/internal/meetings"
	"github.com/wolfman30/consult-slots/internal/notify"
)

// Collaborators reported in Confirmation.Degraded.
const (
	DegradedMeetingLink    = "meeting_link"
	DegradedMeetingPersist = "meeting_link_persist"
	DegradedNotification   = "notification"
)

// Confirmation is the outcome of a successful (or repeated) confirmation.
type Confirmation struct {
	Booking          Booking  `json:"booking"`
	Slot             Slot     `json:"slot"`
	Payment          *Payment `json:"payment"`
	MeetingLink      *string  `json:"meeting_link"`
	AlreadyConfirmed bool     `json:"already_confirmed"`
	Degraded         []string `json:"degraded,omitempty"`
}

const insertPaymentSQL = `
	INSERT INTO payments (id, booking_id, gateway_order_id, gateway_payment_id, gateway_signature,
		amount_minor, currency, status, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func (p PaymentProof) amountMismatch(want Money) string {
	if p.AmountMinor != nil && *p.AmountMinor != want.Minor {
		return fmt.Sprintf("captured amount %d does not match booking amount %d", *p.AmountMinor, want.Minor)
	}
	if c := strings.TrimSpace(p.Currency); c != "" && !strings.EqualFold(c, want.Currency) {
		return fmt.Sprintf("captured currency %s does not match booking currency %s", strings.ToUpper(c), want.Currency)
	}
	return ""
}

// ConfirmBooking turns a held slot into a booked one once payment is proven.
// The slot, booking, payment and outbox writes commit together; the meeting
// link and the email happen afterwards and never fail the call.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID uuid.UUID, proof PaymentProof) (_ *Confirmation, err error) {
	const op = "confirm_booking"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.confirm_booking")
	defer span.End()
	defer func() { s.observe(op, start, err) }()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()))

	if bookingID == uuid.Nil {
		return nil, validationError(op, "booking_id is required")
	}
	if proof.OrderID == "" || proof.PaymentID == "" {
		return nil, validationError(op, "order_id and payment_id are required")
	}
	if s.verifier == nil {
		return nil, validationError(op, "payment verification unavailable")
	}
	if verr := s.verifier.VerifyProof(proof.OrderID, proof.PaymentID, proof.Signature); verr != nil {
		s.logger.Warn("payment proof rejected", "booking_id", bookingID, "order_id", proof.OrderID, "error", verr)
		return nil, validationError(op, "payment verification failed")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	booking, err := scanBooking(tx.QueryRow(ctx, selectBookingForUpdateSQL, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "booking not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}

	if msg := proof.amountMismatch(booking.Amount); msg != "" {
		s.logger.Warn("captured amount rejected", "booking_id", bookingID, "payment_id", proof.PaymentID, "reason", msg)
		return nil, validationError(op, msg)
	}

	switch booking.Status {
	case BookingConfirmed:
		return s.existingConfirmation(ctx, tx, booking)
	case BookingPending:
	default:
		return nil, conflict(op, "booking is "+string(booking.Status))
	}

	slot, err := scanSlot(tx.QueryRow(ctx, selectSlotForUpdateSQL, booking.SlotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	if err := slot.book(); err != nil {
		return nil, conflict(op, "slot is no longer held for this booking")
	}

	now := s.now()
	if _, err := tx.Exec(ctx, `UPDATE slots SET status = 'BOOKED', hold_until = NULL, updated_at = $2 WHERE id = $1`, slot.ID, now); err != nil {
		return nil, txFailure(op, err)
	}
	slot.UpdatedAt = now

	if _, err := tx.Exec(ctx, `
		UPDATE bookings SET payment_status = 'SUCCESS', booking_status = 'CONFIRMED', payment_reference = $2, updated_at = $3
		WHERE id = $1`, booking.ID, proof.PaymentID, now); err != nil {
		return nil, txFailure(op, err)
	}
	ref := proof.PaymentID
	booking.PaymentStatus = PaymentSuccess
	booking.Status = BookingConfirmed
	booking.PaymentReference = &ref
	booking.UpdatedAt = now

	payload := proof.Raw
	if len(payload) == 0 {
		if payload, err = json.Marshal(proof); err != nil {
			return nil, txFailure(op, err)
		}
	}
	paymentID, sig := proof.PaymentID, proof.Signature
	payment := Payment{
		ID:               uuid.New(),
		BookingID:        booking.ID,
		GatewayOrderID:   proof.OrderID,
		GatewayPaymentID: &paymentID,
		Amount:           booking.Amount,
		Status:           PaymentRecordPaid,
		Payload:          payload,
		CreatedAt:        now,
	}
	if sig != "" {
		payment.GatewaySignature = &sig
	}
	if _, err := tx.Exec(ctx, insertPaymentSQL,
		payment.ID, payment.BookingID, payment.GatewayOrderID, payment.GatewayPaymentID, payment.GatewaySignature,
		payment.Amount.Minor, payment.Amount.Currency, string(payment.Status), []byte(payload), now); err != nil {
		if isUniqueViolation(err) {
			return nil, conflict(op, "payment already recorded")
		}
		return nil, txFailure(op, err)
	}

	evt := events.BookingConfirmedV1{
		EventID:          uuid.NewString(),
		BookingID:        booking.ID.String(),
		BookingCode:      booking.Code,
		SlotID:           slot.ID.String(),
		AppointmentID:    slot.ConfigurationID.String(),
		PaymentID:        payment.ID.String(),
		GatewayOrderID:   proof.OrderID,
		GatewayPaymentID: proof.PaymentID,
		AmountMinor:      booking.Amount.Minor,
		Currency:         booking.Amount.Currency,
		CustomerEmail:    booking.Customer.Email,
		SlotDate:         slot.Date.Format(time.DateOnly),
		StartTime:        slot.StartTime,
		ConfirmedAt:      now,
	}
	if _, err := events.Append(ctx, tx, "booking", events.TypeBookingConfirmedV1, evt); err != nil {
		return nil, txFailure(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	s.logger.Info("booking confirmed", "booking_id", booking.ID, "booking_code", booking.Code, "slot_id", slot.ID)
	s.publish(slot)

	result := &Confirmation{Booking: booking, Slot: slot, Payment: &payment}
	s.afterConfirm(ctx, result)
	return result, nil
}

func (s *Service) existingConfirmation(ctx context.Context, tx pgx.Tx, booking Booking) (*Confirmation, error) {
	const op = "confirm_booking"
	slot, err := getSlot(ctx, tx, booking.SlotID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, txFailure(op, err)
	}
	payment, err := getPayment(ctx, tx, booking.ID)
	if err != nil {
		return nil, txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	s.logger.Info("booking already confirmed", "booking_id", booking.ID)
	return &Confirmation{
		Booking:          booking,
		Slot:             slot,
		Payment:          payment,
		MeetingLink:      booking.MeetingLink,
		AlreadyConfirmed: true,
	}, nil
}

// afterConfirm runs the best-effort collaborators with a bounded timeout.
// The caller's cancellation does not abort them once the booking committed.
func (s *Service) afterConfirm(ctx context.Context, c *Confirmation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.externalTimeout)
	defer cancel()

	degrade := func(name string, err error) {
		c.Degraded = append(c.Degraded, name)
		s.metrics.ObserveDegraded(name)
		s.logger.Warn("post-confirmation step degraded", "step", name, "booking_id", c.Booking.ID, "error", err)
	}

	if s.meetings != nil {
		attendees := []string{c.Booking.Customer.Email}
		if s.adminEmail != "" {
			attendees = append(attendees, s.adminEmail)
		}
		link, err := s.meetings.CreateMeeting(ctx, meetings.Request{
			BookingCode: c.Booking.Code,
			Summary:     "Consultation with " + c.Booking.Customer.Name,
			Description: "Booking " + c.Booking.Code,
			Date:        c.Slot.Date,
			StartTime:   c.Slot.StartTime,
			EndTime:     c.Slot.EndTime,
			Attendees:   attendees,
		})
		switch {
		case err != nil:
			degrade(DegradedMeetingLink, err)
		case link == "":
			degrade(DegradedMeetingLink, meetings.ErrNoLink)
		default:
			c.MeetingLink = &link
			c.Booking.MeetingLink = &link
			if _, err := s.db.Exec(ctx, `UPDATE bookings SET meeting_link = $2, updated_at = $3 WHERE id = $1`,
				c.Booking.ID, link, s.now()); err != nil {
				degrade(DegradedMeetingPersist, err)
			}
		}
	}

	if s.notifier != nil {
		var link string
		if c.MeetingLink != nil {
			link = *c.MeetingLink
		}
		err := s.notifier.NotifyBookingConfirmed(ctx, notify.BookingConfirmation{
			BookingCode:   c.Booking.Code,
			CustomerName:  c.Booking.Customer.Name,
			CustomerEmail: c.Booking.Customer.Email,
			Mobile:        c.Booking.Customer.Mobile,
			Date:          c.Slot.Date,
			StartTime:     c.Slot.StartTime,
			EndTime:       c.Slot.EndTime,
			Amount:        c.Booking.Amount.String(),
			TransactionID: c.Payment.TransactionID(),
			MeetingLink:   link,
		})
		if err != nil {
			degrade(DegradedNotification, err)
		}
	}
}

// TransactionID is the gateway payment id, or the order id when none was recorded.
func (p *Payment) TransactionID() string {
	if p == nil {
		return ""
	}
	if p.GatewayPaymentID != nil && *p.GatewayPaymentID != "" {
		return *p.GatewayPaymentID
	}
	return p.GatewayOrderID
}
