package archive

import (
	"encoding/json"
	"time"
)

// ReceiptRecord is the document archived to S3 for every confirmed booking.
type ReceiptRecord struct {
	Version          string          `json:"version"` // "1.0"
	BookingID        string          `json:"booking_id"`
	BookingCode      string          `json:"booking_code"`
	SlotID           string          `json:"slot_id"`
	AppointmentID    string          `json:"appointment_id"`
	PaymentID        string          `json:"payment_id"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	AmountMinor      int64           `json:"amount_minor"`
	Currency         string          `json:"currency"`
	EmailHash        string          `json:"email_hash"` // sha256 of lower-cased email
	SlotDate         string          `json:"slot_date"`
	StartTime        string          `json:"start_time"`
	ConfirmedAt      time.Time       `json:"confirmed_at"`
	ArchivedAt       time.Time       `json:"archived_at"`
	Payload          json.RawMessage `json:"payload,omitempty"` // gateway payload with PII scrubbed
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	BookingCode string `json:"booking_code"`
	PaymentID   string `json:"payment_id"`
	S3Key       string `json:"s3_key"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	SlotDate    string `json:"slot_date"`
	ArchivedAt  string `json:"archived_at"`
}
