package reservations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-slots/internal/clock"
	"github.com/wolfman30/consult-slots/internal/livefeed"
	"github.com/wolfman30/consult-slots/internal/meetings"
	"github.com/wolfman30/consult-slots/internal/notify"
	"github.com/wolfman30/consult-slots/internal/payments"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

const testSecret = "gateway-secret"

var testNow = time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)

func columns(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

type testEnv struct {
	svc   *Service
	mock  pgxmock.PgxPoolIface
	clock *clock.Fake
	feed  *recordingPublisher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	fake := clock.NewFake(testNow)
	feed := &recordingPublisher{}
	codes := 0
	base := []Option{
		WithClock(fake),
		WithLogger(logging.New("error")),
		WithProofVerifier(payments.NewProofVerifier(testSecret, false)),
		WithPublisher(feed),
	}
	svc := NewService(mock, append(base, opts...)...)
	svc.newCode = func() (string, error) {
		codes++
		return fmt.Sprintf("SRU-%06d", codes), nil
	}
	return &testEnv{svc: svc, mock: mock, clock: fake, feed: feed}
}

func (e *testEnv) verify(t *testing.T) {
	t.Helper()
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func validCustomer() Customer {
	return Customer{
		Timezone:     "Asia/Kolkata",
		Name:         "Asha Rao",
		Email:        "asha@example.com",
		Mobile:       "9876543210",
		Country:      "India",
		Gender:       "FEMALE",
		DateOfBirth:  "1990-04-12",
		PlaceOfBirth: "Pune",
		TimeOfBirth:  "06:30",
	}
}

func testSlot(status SlotStatus, holdUntil *time.Time) Slot {
	return Slot{
		ID:              uuid.New(),
		ConfigurationID: uuid.New(),
		Date:            time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		StartTime:       "10:00",
		EndTime:         "10:30",
		Status:          status,
		HoldUntil:       holdUntil,
		Price:           Money{Minor: 50000, Currency: "INR"},
		Consultation:    ConsultationPending,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func slotRows(slots ...Slot) *pgxmock.Rows {
	rows := pgxmock.NewRows(columns(slotColumns))
	for _, s := range slots {
		var hold any
		if s.HoldUntil != nil {
			hold = s.HoldUntil
		}
		rows.AddRow(s.ID, s.ConfigurationID, s.Date, s.StartTime, s.EndTime, string(s.Status), hold,
			s.Price.Minor, s.Price.Currency, string(s.Consultation), s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func testBooking(slot Slot, status BookingStatus) Booking {
	return Booking{
		ID:              uuid.New(),
		SlotID:          slot.ID,
		ConfigurationID: slot.ConfigurationID,
		Code:            "SRU-A1B2C3",
		Customer:        validCustomer(),
		Amount:          slot.Price,
		PaymentProvider: "gateway",
		PaymentStatus:   PaymentPending,
		Status:          status,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func bookingRows(bookings ...Booking) *pgxmock.Rows {
	rows := pgxmock.NewRows(columns(bookingColumns))
	for _, b := range bookings {
		c := b.Customer
		var ref, link, reason any
		if b.PaymentReference != nil {
			ref = b.PaymentReference
		}
		if b.MeetingLink != nil {
			link = b.MeetingLink
		}
		if b.CancellationReason != nil {
			reason = b.CancellationReason
		}
		rows.AddRow(b.ID, b.SlotID, b.ConfigurationID, b.Code,
			c.Timezone, c.Name, c.Email, c.Mobile, c.Country,
			c.Gender, c.DateOfBirth, c.PlaceOfBirth, c.TimeOfBirth, nil,
			b.Amount.Minor, b.Amount.Currency, b.PaymentProvider, string(b.PaymentStatus), ref,
			string(b.Status), link, reason, b.CreatedAt, b.UpdatedAt)
	}
	return rows
}

func paymentRows(p Payment) *pgxmock.Rows {
	var gpid any
	if p.GatewayPaymentID != nil {
		gpid = p.GatewayPaymentID
	}
	return pgxmock.NewRows(columns(paymentColumns)).AddRow(p.ID, p.BookingID, p.GatewayOrderID, gpid, nil,
		p.Amount.Minor, p.Amount.Currency, string(p.Status), nil, nil, []byte(p.Payload), p.CreatedAt)
}

func configurationRows(configs ...Configuration) *pgxmock.Rows {
	rows := pgxmock.NewRows(columns(configurationColumns))
	for _, c := range configs {
		rows.AddRow(c.ID, c.Date, c.DurationMinutes, c.TotalSlots, c.Price.Minor, c.Price.Currency,
			c.Published, string(c.Status), nil, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

func testConfiguration(published bool, status ConfigurationStatus) Configuration {
	return Configuration{
		ID:              uuid.New(),
		Date:            time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		TotalSlots:      2,
		Price:           Money{Minor: 50000, Currency: "INR"},
		Published:       published,
		Status:          status,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []livefeed.SlotEvent
}

func (p *recordingPublisher) Publish(evt livefeed.SlotEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

type fakeMeetings struct {
	link     string
	err      error
	requests []meetings.Request
}

func (f *fakeMeetings) CreateMeeting(_ context.Context, req meetings.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.link, f.err
}

type fakeNotifier struct {
	confirmations []notify.BookingConfirmation
	upcoming      [][]notify.UpcomingSession
	err           error
}

func (f *fakeNotifier) NotifyBookingConfirmed(_ context.Context, c notify.BookingConfirmation) error {
	f.confirmations = append(f.confirmations, c)
	return f.err
}

func (f *fakeNotifier) NotifyUpcoming(_ context.Context, sessions []notify.UpcomingSession) error {
	f.upcoming = append(f.upcoming, sessions)
	return f.err
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f fakeLimiter) CheckHold(context.Context, string) (*payments.VelocityResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.VelocityResult{Allowed: f.allowed}, nil
}
