package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const configurationColumns = `id, appointment_date, duration_minutes, total_slots, price_minor, currency, is_published, status, notes, created_at, updated_at`

const slotColumns = `id, configuration_id, ref_date, start_time, end_time, status, hold_until, price_minor, currency, consultation, created_at, updated_at`

const bookingColumns = `id, slot_id, configuration_id, booking_code,
	customer_timezone, customer_name, customer_email, customer_mobile, customer_country,
	customer_gender, customer_dob, customer_place_of_birth, customer_time_of_birth, user_notes,
	amount_minor, currency, payment_provider, payment_status, payment_reference,
	booking_status, meeting_link, cancellation_reason, created_at, updated_at`

const paymentColumns = `id, booking_id, gateway_order_id, gateway_payment_id, gateway_signature, amount_minor, currency, status, failure_reason, receipt_url, payload, created_at`

var slotCopyColumns = []string{"id", "configuration_id", "ref_date", "start_time", "end_time", "status", "price_minor", "currency", "consultation", "created_at", "updated_at"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row rowScanner) (Configuration, error) {
	var c Configuration
	err := row.Scan(&c.ID, &c.Date, &c.DurationMinutes, &c.TotalSlots, &c.Price.Minor, &c.Price.Currency,
		&c.Published, &c.Status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanSlot(row rowScanner) (Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ConfigurationID, &s.Date, &s.StartTime, &s.EndTime, &s.Status, &s.HoldUntil,
		&s.Price.Minor, &s.Price.Currency, &s.Consultation, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanBooking(row rowScanner) (Booking, error) {
	var b Booking
	c := &b.Customer
	err := row.Scan(&b.ID, &b.SlotID, &b.ConfigurationID, &b.Code,
		&c.Timezone, &c.Name, &c.Email, &c.Mobile, &c.Country,
		&c.Gender, &c.DateOfBirth, &c.PlaceOfBirth, &c.TimeOfBirth, &c.Notes,
		&b.Amount.Minor, &b.Amount.Currency, &b.PaymentProvider, &b.PaymentStatus, &b.PaymentReference,
		&b.Status, &b.MeetingLink, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var payload []byte
	err := row.Scan(&p.ID, &p.BookingID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.GatewaySignature,
		&p.Amount.Minor, &p.Amount.Currency, &p.Status, &p.FailureReason, &p.ReceiptURL, &payload, &p.CreatedAt)
	if len(payload) > 0 {
		p.Payload = json.RawMessage(append([]byte(nil), payload...))
	}
	return p, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryConfigurations(ctx context.Context, q querier, f ConfigurationFilter) ([]Configuration, error) {
	sql, args := buildConfigurationQuery(f)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Configuration
	for rows.Next() {
		c, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func querySlots(ctx context.Context, q querier, f SlotFilter) ([]Slot, error) {
	sql, args := buildSlotQuery(f)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// attachSlots loads the slots of every configuration in one query.
func attachSlots(ctx context.Context, q querier, configs []Configuration) error {
	if len(configs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(configs))
	index := make(map[uuid.UUID]int, len(configs))
	for i, c := range configs {
		ids[i] = c.ID
		index[c.ID] = i
		configs[i].Slots = []Slot{}
	}
	slots, err := querySlots(ctx, q, SlotFilter{ConfigurationIDs: ids})
	if err != nil {
		return err
	}
	for _, s := range slots {
		if i, ok := index[s.ConfigurationID]; ok {
			configs[i].Slots = append(configs[i].Slots, s)
		}
	}
	return nil
}

const selectSlotForUpdateSQL = `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`

const selectConfiguredSlotForUpdateSQL = `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 AND configuration_id = $2 FOR UPDATE`

const selectBookingForUpdateSQL = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

const selectPaymentByBookingSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1`

// selectCurrentBookingSQL prefers the live booking and falls back to the latest cancelled one.
const selectCurrentBookingSQL = `SELECT ` + bookingColumns + ` FROM bookings
	WHERE slot_id = $1
	ORDER BY (booking_status <> 'CANCELLED') DESC, created_at DESC
	LIMIT 1`

func getSlot(ctx context.Context, q querier, id uuid.UUID) (Slot, error) {
	return scanSlot(q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
}

func getPayment(ctx context.Context, q querier, bookingID uuid.UUID) (*Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx, selectPaymentByBookingSQL, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func slotCopyRows(slots []Slot) [][]any {
	rows := make([][]any, len(slots))
	for i, s := range slots {
		rows[i] = []any{s.ID, s.ConfigurationID, s.Date, s.StartTime, s.EndTime, string(s.Status),
			s.Price.Minor, s.Price.Currency, string(s.Consultation), s.CreatedAt, s.UpdatedAt}
	}
	return rows
}

func newSlots(configID uuid.UUID, date time.Time, windows []SlotWindow, price Money, now time.Time) []Slot {
	slots := make([]Slot, len(windows))
	for i, w := range windows {
		slots[i] = Slot{
			ID:              uuid.New(),
			ConfigurationID: configID,
			Date:            date,
			StartTime:       w.Start,
			EndTime:         w.End,
			Status:          SlotAvailable,
			Price:           price,
			Consultation:    ConsultationPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	return slots
}
