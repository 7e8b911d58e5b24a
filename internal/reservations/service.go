// Package reservations owns the consultation slot lifecycle: publishing
// appointment dates, holding slots for customers, confirming paid bookings
// and reclaiming holds that were never paid.
package reservations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/consult-slots/internal/clock"
	"github.com/wolfman30/consult-slots/internal/livefeed"
	"github.com/wolfman30/consult-slots/internal/meetings"
	"github.com/wolfman30/consult-slots/internal/notify"
	"github.com/wolfman30/consult-slots/internal/observability/metrics"
	"github.com/wolfman30/consult-slots/internal/payments"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

var tracer = otel.Tracer("consult.internal.reservations")

// DB is the subset of pgx used by the service. *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MeetingProvider creates the video meeting for a confirmed booking.
type MeetingProvider interface {
	CreateMeeting(ctx context.Context, req meetings.Request) (string, error)
}

// Notifier delivers booking emails.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, c notify.BookingConfirmation) error
	NotifyUpcoming(ctx context.Context, sessions []notify.UpcomingSession) error
}

// ProofVerifier validates the payment gateway's signature.
type ProofVerifier interface {
	VerifyProof(orderID, paymentID, signature string) error
}

// HoldLimiter throttles hold attempts per customer.
type HoldLimiter interface {
	CheckHold(ctx context.Context, email string) (*payments.VelocityResult, error)
}

// SlotPublisher receives slot state changes after commit.
type SlotPublisher interface {
	Publish(evt livefeed.SlotEvent)
}

// Service implements every reservation operation on top of Postgres.
type Service struct {
	db        DB
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.ReservationMetrics
	meetings  MeetingProvider
	notifier  Notifier
	verifier  ProofVerifier
	limiter   HoldLimiter
	publisher SlotPublisher
	validate  *validator.Validate

	holdTTL         time.Duration
	externalTimeout time.Duration
	location        *time.Location
	codePrefix      string
	currency        string
	adminEmail      string
	paymentProvider string
	newCode         func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithMeetingProvider(p MeetingProvider) Option {
	return func(s *Service) { s.meetings = p }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithProofVerifier(v ProofVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithHoldLimiter(l HoldLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithPublisher(p SlotPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithHoldTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

func WithExternalCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.externalTimeout = d
		}
	}
}

// WithLocation sets the operator's timezone, used for "today" and for
// turning slot dates and times into instants.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithBookingCodePrefix(prefix string) Option {
	return func(s *Service) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.codePrefix = strings.ToUpper(p)
		}
	}
}

func WithCurrency(code string) Option {
	return func(s *Service) {
		if strings.TrimSpace(code) != "" {
			s.currency = normalizeCurrency(code)
		}
	}
}

// WithAdminEmail adds the administrator as a meeting attendee.
func WithAdminEmail(email string) Option {
	return func(s *Service) { s.adminEmail = strings.TrimSpace(email) }
}

func WithPaymentProvider(name string) Option {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.paymentProvider = strings.TrimSpace(name)
		}
	}
}

// NewService builds the reservation service. db is required.
func NewService(db DB, opts ...Option) *Service {
	if db == nil {
		panic("reservations: pgx pool required")
	}
	s := &Service{
		db:              db,
		clock:           clock.Real{},
		logger:          logging.Default(),
		validate:        newValidator(),
		holdTTL:         15 * time.Minute,
		externalTimeout: 10 * time.Second,
		location:        time.UTC,
		codePrefix:      "SRU",
		currency:        "INR",
		paymentProvider: "gateway",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("reservations")
	if s.newCode == nil {
		s.newCode = func() (string, error) { return randomBookingCode(s.codePrefix) }
	}
	return s
}

// HoldTTL reports how long a new hold lasts.
func (s *Service) HoldTTL() time.Duration { return s.holdTTL }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// today is the current calendar date in the operator's timezone, as a UTC midnight.
func (s *Service) today() time.Time {
	y, m, d := s.clock.Now().In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CurrentMonth is the year and month of the service clock in the operator's timezone.
func (s *Service) CurrentMonth() (int, time.Month) {
	t := s.today()
	return t.Year(), t.Month()
}

func (s *Service) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func (s *Service) publish(slot Slot) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(livefeed.SlotEvent{
		AppointmentID: slot.ConfigurationID.String(),
		SlotID:        slot.ID.String(),
		Status:        string(slot.Status),
		HoldUntil:     slot.HoldUntil,
		At:            s.now(),
	})
}

func randomBookingCode(prefix string) (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(b[:])), nil
}
