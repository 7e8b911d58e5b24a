package reservations

import (
	"fmt"
	"time"
)

var slotTransitions = map[SlotStatus][]SlotStatus{
	SlotAvailable: {SlotHold, SlotCancelled},
	SlotHold:      {SlotBooked, SlotAvailable, SlotCancelled},
}

// CanTransition reports whether the ledger allows moving a slot from one
// state to another. BOOKED and CANCELLED are terminal.
func CanTransition(from, to SlotStatus) bool {
	for _, next := range slotTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate checks the hold invariant: hold_until is set iff the slot is held.
func (s Slot) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("reservations: unknown slot status %q", s.Status)
	}
	if (s.Status == SlotHold) != (s.HoldUntil != nil) {
		return fmt.Errorf("reservations: slot %s is %s with hold_until=%v", s.ID, s.Status, s.HoldUntil)
	}
	if s.Consultation == ConsultationCompleted && s.Status != SlotBooked {
		return fmt.Errorf("reservations: slot %s completed while %s", s.ID, s.Status)
	}
	return nil
}

// HoldLapsed reports whether the slot is still HOLD after its deadline.
func (s Slot) HoldLapsed(now time.Time) bool {
	return s.Status == SlotHold && s.HoldUntil != nil && s.HoldUntil.Before(now)
}

// View applies the read-path rule: a lapsed, not yet reclaimed hold is
// presented as AVAILABLE while the durable status is left untouched.
func (s Slot) View(now time.Time) SlotView {
	v := SlotView{Slot: s, EffectiveStatus: s.Status}
	if s.HoldLapsed(now) {
		v.EffectiveStatus = SlotAvailable
		v.HoldLapsed = true
	}
	return v
}

func (s *Slot) hold(until time.Time) error {
	if !CanTransition(s.Status, SlotHold) {
		return conflict("hold", fmt.Sprintf("slot is %s", s.Status))
	}
	u := until.UTC()
	s.Status = SlotHold
	s.HoldUntil = &u
	return nil
}

func (s *Slot) book() error {
	if !CanTransition(s.Status, SlotBooked) {
		return conflict("confirm", fmt.Sprintf("slot is %s", s.Status))
	}
	s.Status = SlotBooked
	s.HoldUntil = nil
	return nil
}

func (s *Slot) release() error {
	if !CanTransition(s.Status, SlotAvailable) {
		return conflict("release", fmt.Sprintf("slot is %s", s.Status))
	}
	s.Status = SlotAvailable
	s.HoldUntil = nil
	return nil
}

func (s *Slot) cancel() error {
	if !CanTransition(s.Status, SlotCancelled) {
		return conflict("cancel", fmt.Sprintf("slot is %s", s.Status))
	}
	s.Status = SlotCancelled
	s.HoldUntil = nil
	return nil
}
