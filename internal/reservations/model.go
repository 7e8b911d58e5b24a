package reservations

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SlotStatus is the reservation state of a single slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotHold      SlotStatus = "HOLD"
	SlotBooked    SlotStatus = "BOOKED"
	SlotCancelled SlotStatus = "CANCELLED"
)

// Valid reports whether s is one of the known slot states.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotHold, SlotBooked, SlotCancelled:
		return true
	}
	return false
}

// ConsultationStatus tracks whether a booked session actually took place.
type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "PENDING"
	ConsultationCompleted ConsultationStatus = "COMPLETED"
)

// ConfigurationStatus gates visibility and editability of a date's slots.
type ConfigurationStatus string

const (
	ConfigurationActive   ConfigurationStatus = "ACTIVE"
	ConfigurationInactive ConfigurationStatus = "INACTIVE"
)

func (s ConfigurationStatus) Valid() bool {
	return s == ConfigurationActive || s == ConfigurationInactive
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type BookingStatus string

const (
	BookingPending     BookingStatus = "PENDING"
	BookingConfirmed   BookingStatus = "CONFIRMED"
	BookingCancelled   BookingStatus = "CANCELLED"
	BookingRescheduled BookingStatus = "RESCHEDULED"
)

// PaymentRecordStatus mirrors the gateway's view of a captured payment.
type PaymentRecordStatus string

const (
	PaymentRecordCreated  PaymentRecordStatus = "created"
	PaymentRecordPaid     PaymentRecordStatus = "paid"
	PaymentRecordFailed   PaymentRecordStatus = "failed"
	PaymentRecordRefunded PaymentRecordStatus = "refunded"
)

// CancelReasonHoldExpired is recorded on bookings whose hold lapsed unpaid.
const CancelReasonHoldExpired = "hold_expired"

// Configuration is the batch of slots published for one calendar date.
type Configuration struct {
	ID              uuid.UUID           `json:"appointment_id"`
	Date            time.Time           `json:"-"`
	DurationMinutes int                 `json:"duration"`
	TotalSlots      int                 `json:"total_appointments"`
	Price           Money               `json:"price"`
	Published       bool                `json:"is_published"`
	Status          ConfigurationStatus `json:"status"`
	Notes           *string             `json:"notes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Slots           []Slot              `json:"slots"`
}

// MarshalJSON renders the date as YYYY-MM-DD.
func (c Configuration) MarshalJSON() ([]byte, error) {
	type alias Configuration
	return json.Marshal(struct {
		alias
		Date string `json:"appointment_date"`
	}{alias: alias(c), Date: c.Date.Format(time.DateOnly)})
}

// SlotWindow is an operator-supplied start/end time of day ("HH:MM").
type SlotWindow struct {
	Start string `json:"start_time" validate:"required,datetime=15:04"`
	End   string `json:"end_time" validate:"required,datetime=15:04"`
}

// Slot is one reservable consultation window on one date.
type Slot struct {
	ID              uuid.UUID          `json:"slot_id"`
	ConfigurationID uuid.UUID          `json:"appointment_id"`
	Date            time.Time          `json:"-"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	Status          SlotStatus         `json:"status"`
	HoldUntil       *time.Time         `json:"hold_until"`
	Price           Money              `json:"price"`
	Consultation    ConsultationStatus `json:"consultation"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// MarshalJSON renders the date as YYYY-MM-DD.
func (s Slot) MarshalJSON() ([]byte, error) {
	type alias Slot
	return json.Marshal(struct {
		alias
		Date string `json:"ref_date"`
	}{alias: alias(s), Date: s.Date.Format(time.DateOnly)})
}

// SlotView is a slot as served on the read path, with the lapsed-hold
// interpretation applied.
type SlotView struct {
	Slot
	EffectiveStatus SlotStatus `json:"effective_status"`
	HoldLapsed      bool       `json:"hold_lapsed"`
}

// MarshalJSON keeps the embedded slot's date formatting.
func (v SlotView) MarshalJSON() ([]byte, error) {
	type alias Slot
	return json.Marshal(struct {
		alias
		Date            string     `json:"ref_date"`
		EffectiveStatus SlotStatus `json:"effective_status"`
		HoldLapsed      bool       `json:"hold_lapsed"`
	}{alias: alias(v.Slot), Date: v.Date.Format(time.DateOnly), EffectiveStatus: v.EffectiveStatus, HoldLapsed: v.HoldLapsed})
}

// Customer is the form a prospective customer submits with a hold request.
type Customer struct {
	Timezone     string  `json:"selected_timezone" validate:"required,timezone"`
	Name         string  `json:"name" validate:"required,max=100"`
	Email        string  `json:"email" validate:"required,email,max=150"`
	Mobile       string  `json:"mobile" validate:"required,max=15"`
	Country      string  `json:"country" validate:"required,max=100"`
	Gender       string  `json:"gender" validate:"required,oneof=MALE FEMALE OTHER"`
	DateOfBirth  string  `json:"dob" validate:"required,datetime=2006-01-02"`
	PlaceOfBirth string  `json:"place_of_birth" validate:"required,max=150"`
	TimeOfBirth  string  `json:"time_of_birth" validate:"required,datetime=15:04"`
	Notes        *string `json:"user_notes,omitempty"`
}

// Booking is the customer record linked to a held or booked slot.
type Booking struct {
	ID                 uuid.UUID     `json:"booking_id"`
	SlotID             uuid.UUID     `json:"slot_id"`
	ConfigurationID    uuid.UUID     `json:"appointment_id"`
	Code               string        `json:"booking_code"`
	Customer           Customer      `json:"customer"`
	Amount             Money         `json:"amount"`
	PaymentProvider    string        `json:"payment_provider"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentReference   *string       `json:"payment_reference,omitempty"`
	Status             BookingStatus `json:"booking_status"`
	MeetingLink        *string       `json:"meeting_link"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Payment is the append-only record of a captured gateway payment.
type Payment struct {
	ID               uuid.UUID           `json:"payment_id"`
	BookingID        uuid.UUID           `json:"booking_id"`
	GatewayOrderID   string              `json:"gateway_order_id"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	GatewaySignature *string             `json:"-"`
	Amount           Money               `json:"amount"`
	Status           PaymentRecordStatus `json:"status"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
	ReceiptURL       *string             `json:"receipt_url,omitempty"`
	Payload          json.RawMessage     `json:"payload,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// PaymentProof is what the gateway hands the customer after checkout.
type PaymentProof struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature"`
	// AmountMinor and Currency are what the gateway reports as captured.
	// When present they must equal the booking amount.
	AmountMinor *int64          `json:"amount_minor,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// SlotAdminView bundles a slot with its current booking and payment.
type SlotAdminView struct {
	Slot    SlotView `json:"slot"`
	Booking *Booking `json:"booking"`
	Payment *Payment `json:"payment"`
}
