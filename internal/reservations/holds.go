package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const maxBookingCodeAttempts = 5

// HoldRequest is a customer's request to reserve one slot.
type HoldRequest struct {
	SlotID        uuid.UUID `json:"slot_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Customer      Customer  `json:"customer"`
}

// HoldResult is the held slot and its pending booking.
type HoldResult struct {
	Slot      Slot    `json:"slot"`
	Booking   Booking `json:"booking"`
	Reclaimed bool    `json:"reclaimed_lapsed_hold"`
}

const insertBookingSQL = `
	INSERT INTO bookings (id, slot_id, configuration_id, booking_code,
		customer_timezone, customer_name, customer_email, customer_mobile, customer_country,
		customer_gender, customer_dob, customer_place_of_birth, customer_time_of_birth, user_notes,
		amount_minor, currency, payment_provider, payment_status, booking_status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
	ON CONFLICT (booking_code) DO NOTHING
`

// AcquireHold moves an AVAILABLE slot to HOLD for HoldTTL and records a
// PENDING booking for the customer, atomically.
func (s *Service) AcquireHold(ctx context.Context, req HoldRequest) (_ *HoldResult, err error) {
	const op = "acquire_hold"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.acquire_hold")
	defer span.End()
	defer func() { s.observe(op, start, err) }()
	span.SetAttributes(attribute.String("slot.id", req.SlotID.String()))

	if req.SlotID == uuid.Nil || req.AppointmentID == uuid.Nil {
		return nil, validationError(op, "slot_id and appointment_id are required")
	}
	if verr := s.validate.Struct(req.Customer); verr != nil {
		return nil, validationError(op, validationMessage(verr))
	}

	if s.limiter != nil {
		res, lerr := s.limiter.CheckHold(ctx, req.Customer.Email)
		if lerr == nil && res != nil && !res.Allowed {
			return nil, conflict(op, "too many hold attempts, try again later")
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	// Publication and ACTIVE status gate listing and editing only. The share
	// lock orders this hold against a concurrent edit or delete.
	var cfgID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM appointment_configurations WHERE id = $1 FOR SHARE`, req.AppointmentID).Scan(&cfgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "appointment not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}

	slot, err := scanSlot(tx.QueryRow(ctx, selectConfiguredSlotForUpdateSQL, req.SlotID, req.AppointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}

	now := s.now()
	reclaimed := false
	if slot.HoldLapsed(now) {
		if _, err := s.reclaimTx(ctx, tx, []uuid.UUID{slot.ID}, now); err != nil {
			return nil, txFailure(op, err)
		}
		if err := slot.release(); err != nil {
			return nil, err
		}
		reclaimed = true
	}

	if err := slot.hold(now.Add(s.holdTTL)); err != nil {
		return nil, conflict(op, "slot is not available")
	}
	if _, err := tx.Exec(ctx, `UPDATE slots SET status = 'HOLD', hold_until = $2, updated_at = $3 WHERE id = $1`,
		slot.ID, *slot.HoldUntil, now); err != nil {
		return nil, txFailure(op, err)
	}
	slot.UpdatedAt = now

	booking := Booking{
		ID:              uuid.New(),
		SlotID:          slot.ID,
		ConfigurationID: slot.ConfigurationID,
		Customer:        req.Customer,
		Amount:          slot.Price,
		PaymentProvider: s.paymentProvider,
		PaymentStatus:   PaymentPending,
		Status:          BookingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insertBooking(ctx, tx, &booking); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}

	s.logger.Info("slot held", "slot_id", slot.ID, "booking_id", booking.ID, "booking_code", booking.Code, "hold_until", slot.HoldUntil)
	s.publish(slot)
	return &HoldResult{Slot: slot, Booking: booking, Reclaimed: reclaimed}, nil
}

// insertBooking inserts with a fresh booking code, retrying on code collisions.
func (s *Service) insertBooking(ctx context.Context, tx pgx.Tx, b *Booking) error {
	const op = "acquire_hold"
	c := b.Customer
	for attempt := 0; attempt < maxBookingCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return txFailure(op, err)
		}
		tag, err := tx.Exec(ctx, insertBookingSQL,
			b.ID, b.SlotID, b.ConfigurationID, code,
			c.Timezone, c.Name, c.Email, c.Mobile, c.Country,
			c.Gender, c.DateOfBirth, c.PlaceOfBirth, c.TimeOfBirth, c.Notes,
			b.Amount.Minor, b.Amount.Currency, b.PaymentProvider, string(b.PaymentStatus), string(b.Status), b.CreatedAt)
		if isUniqueViolation(err) {
			return conflict(op, "slot already has an active booking")
		}
		if err != nil {
			return txFailure(op, err)
		}
		if tag.RowsAffected() == 1 {
			b.Code = code
			return nil
		}
		s.logger.Warn("booking code collision, regenerating", "attempt", attempt+1)
	}
	return &Error{Kind: KindTransaction, Op: op, Message: "could not allocate a booking code"}
}
