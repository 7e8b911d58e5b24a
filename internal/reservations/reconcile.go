package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/consult-slots/internal/events"
)

// reclaimTx reverts lapsed holds to AVAILABLE and cancels their pending
// bookings inside tx. Callers must already hold the slot row locks.
func (s *Service) reclaimTx(ctx context.Context, tx pgx.Tx, slotIDs []uuid.UUID, now time.Time) (int, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}
	ids := idStrings(slotIDs)
	tag, err := tx.Exec(ctx, `
		UPDATE slots SET status = 'AVAILABLE', hold_until = NULL, updated_at = $2
		WHERE id = ANY($1::uuid[]) AND status = 'HOLD'`, ids, now)
	if err != nil {
		return 0, fmt.Errorf("release holds: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE bookings SET booking_status = 'CANCELLED', cancellation_reason = $3, updated_at = $2
		WHERE slot_id = ANY($1::uuid[]) AND booking_status = 'PENDING'
		RETURNING id`, ids, now, CancelReasonHoldExpired)
	if err != nil {
		return 0, fmt.Errorf("cancel pending bookings: %w", err)
	}
	var bookingIDs []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan cancelled booking: %w", err)
		}
		bookingIDs = append(bookingIDs, id.String())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("cancel pending bookings: %w", err)
	}

	evt := events.HoldsExpiredV1{
		EventID:    uuid.NewString(),
		SlotIDs:    ids,
		BookingIDs: bookingIDs,
		SweptAt:    now,
	}
	if _, err := events.Append(ctx, tx, "slot", events.TypeHoldsExpiredV1, evt); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReconcileExpiredHolds returns every HOLD whose deadline has passed to
// AVAILABLE. Rows locked by an in-flight hold or confirm are skipped and
// picked up by the next sweep.
func (s *Service) ReconcileExpiredHolds(ctx context.Context) (_ int, err error) {
	const op = "reconcile_expired_holds"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.reconcile_expired_holds")
	defer span.End()
	defer func() { s.observe(op, start, err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	rows, err := tx.Query(ctx, `
		SELECT id, configuration_id FROM slots
		WHERE status = 'HOLD' AND hold_until < $1
		ORDER BY hold_until
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, txFailure(op, err)
	}
	var expired []Slot
	for rows.Next() {
		var sl Slot
		if err := rows.Scan(&sl.ID, &sl.ConfigurationID); err != nil {
			rows.Close()
			return 0, txFailure(op, err)
		}
		expired = append(expired, sl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, txFailure(op, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(expired))
	for i, sl := range expired {
		ids[i] = sl.ID
	}
	n, err := s.reclaimTx(ctx, tx, ids, now)
	if err != nil {
		return 0, txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, txFailure(op, err)
	}

	s.metrics.AddHoldsReclaimed(n)
	s.logger.Info("expired holds reclaimed", "count", n)
	for _, sl := range expired {
		sl.Status = SlotAvailable
		s.publish(sl)
	}
	return n, nil
}

// ExpireConfigurations marks ACTIVE configurations dated before today INACTIVE.
func (s *Service) ExpireConfigurations(ctx context.Context) (_ int, err error) {
	const op = "expire_configurations"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.expire_configurations")
	defer span.End()
	defer func() { s.observe(op, start, err) }()

	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_configurations SET status = 'INACTIVE', updated_at = $2
		WHERE status = 'ACTIVE' AND appointment_date < $1`, s.today(), s.now())
	if err != nil {
		return 0, txFailure(op, err)
	}
	n := int(tag.RowsAffected())
	s.metrics.AddConfigurationsExpired(n)
	if n > 0 {
		s.logger.Info("configurations expired", "count", n)
	}
	return n, nil
}
