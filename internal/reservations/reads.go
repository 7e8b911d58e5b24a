package reservations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListSlots returns the slots of one configuration. A status filter matches
// the effective status, so a lapsed hold that has not been swept yet is
// listed as AVAILABLE.
func (s *Service) ListSlots(ctx context.Context, appointmentID uuid.UUID, status *SlotStatus) ([]SlotView, error) {
	const op = "list_slots"
	if appointmentID == uuid.Nil {
		return nil, validationError(op, "appointment_id is required")
	}
	if status != nil && !status.Valid() {
		return nil, validationError(op, "unknown slot status "+string(*status))
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointment_configurations WHERE id = $1)`, appointmentID).Scan(&exists); err != nil {
		return nil, txFailure(op, err)
	}
	if !exists {
		return nil, notFound(op, "appointment not found")
	}

	slots, err := querySlots(ctx, s.db, SlotFilter{ConfigurationIDs: []uuid.UUID{appointmentID}})
	if err != nil {
		return nil, txFailure(op, err)
	}
	now := s.now()
	views := make([]SlotView, 0, len(slots))
	for _, sl := range slots {
		v := sl.View(now)
		if status != nil && v.EffectiveStatus != *status {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// GetSlot returns one slot as customers see it.
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*SlotView, error) {
	const op = "get_slot"
	sl, err := getSlot(ctx, s.db, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	v := sl.View(s.now())
	return &v, nil
}

// GetSlotAdminView returns a slot with its current booking and that booking's payment.
func (s *Service) GetSlotAdminView(ctx context.Context, id uuid.UUID) (*SlotAdminView, error) {
	const op = "get_slot_admin_view"
	sl, err := getSlot(ctx, s.db, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "slot not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	view := &SlotAdminView{Slot: sl.View(s.now())}

	b, err := scanBooking(s.db.QueryRow(ctx, selectCurrentBookingSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return view, nil
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	view.Booking = &b

	p, err := getPayment(ctx, s.db, b.ID)
	if err != nil {
		return nil, txFailure(op, err)
	}
	view.Payment = p
	return view, nil
}
