package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CompletionResult reports the slot after marking its consultation done.
type CompletionResult struct {
	Slot             Slot `json:"slot"`
	AlreadyCompleted bool `json:"already_completed"`
}

// MarkConsultationCompleted records that a booked session took place.
// Repeating the call is a no-op that reports success.
func (s *Service) MarkConsultationCompleted(ctx context.Context, slotID uuid.UUID) (_ *CompletionResult, err error) {
	const op = "mark_consultation_completed"
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	slot, err := scanSlot(tx.QueryRow(ctx, selectSlotForUpdateSQL, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	if slot.Consultation == ConsultationCompleted {
		if err := tx.Commit(ctx); err != nil {
			return nil, txFailure(op, err)
		}
		return &CompletionResult{Slot: slot, AlreadyCompleted: true}, nil
	}
	if slot.Status != SlotBooked {
		return nil, conflict(op, fmt.Sprintf("only booked slots can be completed, slot is %s", slot.Status))
	}

	now := s.now()
	if _, err := tx.Exec(ctx, `UPDATE slots SET consultation = 'COMPLETED', updated_at = $2 WHERE id = $1`, slotID, now); err != nil {
		return nil, txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	slot.Consultation = ConsultationCompleted
	slot.UpdatedAt = now
	s.logger.Info("consultation completed", "slot_id", slotID)
	return &CompletionResult{Slot: slot}, nil
}

// CancelSlot withdraws an AVAILABLE or HOLD slot. A pending booking on the
// slot is cancelled with the same reason.
func (s *Service) CancelSlot(ctx context.Context, slotID uuid.UUID, reason string) (_ *Slot, err error) {
	const op = "cancel_slot"
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError(op, "reason is required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	slot, err := scanSlot(tx.QueryRow(ctx, selectSlotForUpdateSQL, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	if err := slot.cancel(); err != nil {
		return nil, conflict(op, fmt.Sprintf("slot is %s and cannot be cancelled", slot.Status))
	}

	now := s.now()
	if _, err := tx.Exec(ctx, `UPDATE slots SET status = 'CANCELLED', hold_until = NULL, updated_at = $2 WHERE id = $1`, slotID, now); err != nil {
		return nil, txFailure(op, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE bookings SET booking_status = 'CANCELLED', cancellation_reason = $2, updated_at = $3
		WHERE slot_id = $1 AND booking_status = 'PENDING'`, slotID, reason, now); err != nil {
		return nil, txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	slot.UpdatedAt = now
	s.logger.Info("slot cancelled", "slot_id", slotID, "reason", reason)
	s.publish(slot)
	return &slot, nil
}
