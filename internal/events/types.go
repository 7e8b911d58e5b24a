package events

import "time"

const (
	TypeBookingConfirmedV1 = "booking_confirmed.v1"
	TypeHoldsExpiredV1     = "holds_expired.v1"
)

type BookingConfirmedV1 struct {
	EventID          string    `json:"event_id"`
	BookingID        string    `json:"booking_id"`
	BookingCode      string    `json:"booking_code"`
	SlotID           string    `json:"slot_id"`
	AppointmentID    string    `json:"appointment_id"`
	PaymentID        string    `json:"payment_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	CustomerEmail    string    `json:"customer_email"`
	SlotDate         string    `json:"slot_date"`
	StartTime        string    `json:"start_time"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

type HoldsExpiredV1 struct {
	EventID    string    `json:"event_id"`
	SlotIDs    []string  `json:"slot_ids"`
	BookingIDs []string  `json:"booking_ids"`
	SweptAt    time.Time `json:"swept_at"`
}
