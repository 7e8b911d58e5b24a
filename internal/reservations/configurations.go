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

// CreateConfigurationInput publishes a batch of slots for one date.
type CreateConfigurationInput struct {
	Date            string       `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	TotalSlots      int          `json:"total_appointments" validate:"gte=1"`
	Price           Money        `json:"-"`
	DurationMinutes int          `json:"duration" validate:"oneof=30 60"`
	Slots           []SlotWindow `json:"slots" validate:"required,dive"`
	Notes           *string      `json:"notes,omitempty"`
}

// EditConfigurationInput replaces the slots, totals, price and notes of a date.
type EditConfigurationInput struct {
	TotalSlots int          `json:"total_appointments" validate:"gte=1"`
	Price      Money        `json:"-"`
	Slots      []SlotWindow `json:"slots" validate:"required,dive"`
	Notes      *string      `json:"notes,omitempty"`
}

func (s *Service) checkWindows(op string, total int, windows []SlotWindow, price Money) error {
	if len(windows) != total {
		return validationError(op, fmt.Sprintf("expected %d slots, got %d", total, len(windows)))
	}
	if price.Minor < 0 {
		return validationError(op, "price must not be negative")
	}
	seen := make(map[string]bool, len(windows))
	for _, w := range windows {
		start, err1 := time.Parse("15:04", w.Start)
		end, err2 := time.Parse("15:04", w.End)
		if err1 != nil || err2 != nil {
			return validationError(op, "slot times must be HH:MM")
		}
		if !start.Before(end) {
			return validationError(op, fmt.Sprintf("slot %s-%s must start before it ends", w.Start, w.End))
		}
		if seen[w.Start] {
			return validationError(op, fmt.Sprintf("duplicate slot start %s", w.Start))
		}
		seen[w.Start] = true
	}
	return nil
}

func (s *Service) priceOf(m Money) Money {
	if strings.TrimSpace(m.Currency) == "" {
		m.Currency = s.currency
	}
	m.Currency = normalizeCurrency(m.Currency)
	return m
}

// CreateConfiguration stores a configuration for a future (or today's) date
// together with its AVAILABLE slots.
func (s *Service) CreateConfiguration(ctx context.Context, in CreateConfigurationInput) (_ *Configuration, err error) {
	const op = "create_configuration"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.create_configuration")
	defer span.End()
	defer func() { s.observe(op, start, err) }()

	if verr := s.validate.Struct(in); verr != nil {
		return nil, validationError(op, validationMessage(verr))
	}
	date, perr := time.Parse(time.DateOnly, in.Date)
	if perr != nil {
		return nil, validationError(op, "appointment_date must be YYYY-MM-DD")
	}
	if date.Before(s.today()) {
		return nil, validationError(op, "appointment_date must not be in the past")
	}
	price := s.priceOf(in.Price)
	if err := s.checkWindows(op, in.TotalSlots, in.Slots, price); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointment_configurations WHERE appointment_date = $1)`, date).Scan(&exists); err != nil {
		return nil, txFailure(op, err)
	}
	if exists {
		return nil, conflict(op, "an appointment already exists for "+in.Date)
	}

	now := s.now()
	cfg := Configuration{
		ID:              uuid.New(),
		Date:            date,
		DurationMinutes: in.DurationMinutes,
		TotalSlots:      in.TotalSlots,
		Price:           price,
		Status:          ConfigurationActive,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO appointment_configurations (id, appointment_date, duration_minutes, total_slots, price_minor, currency, is_published, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, 'ACTIVE', $7, $8, $8)`,
		cfg.ID, date, cfg.DurationMinutes, cfg.TotalSlots, price.Minor, price.Currency, cfg.Notes, now); err != nil {
		if isUniqueViolation(err) {
			return nil, conflict(op, "an appointment already exists for "+in.Date)
		}
		return nil, txFailure(op, err)
	}

	cfg.Slots = newSlots(cfg.ID, date, in.Slots, price, now)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"slots"}, slotCopyColumns, pgx.CopyFromRows(slotCopyRows(cfg.Slots))); err != nil {
		return nil, txFailure(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	s.logger.Info("appointment configuration created", "appointment_id", cfg.ID, "date", in.Date, "slots", len(cfg.Slots))
	return &cfg, nil
}

// EditConfiguration rebuilds all slots of a configuration. It refuses while
// any slot is held or booked, since rebuilding would orphan those reservations.
func (s *Service) EditConfiguration(ctx context.Context, id uuid.UUID, in EditConfigurationInput) (_ *Configuration, err error) {
	const op = "edit_configuration"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reservations.edit_configuration")
	defer span.End()
	defer func() { s.observe(op, start, err) }()

	if verr := s.validate.Struct(in); verr != nil {
		return nil, validationError(op, validationMessage(verr))
	}
	price := s.priceOf(in.Price)
	if err := s.checkWindows(op, in.TotalSlots, in.Slots, price); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	cfg, err := scanConfiguration(tx.QueryRow(ctx, `SELECT `+configurationColumns+` FROM appointment_configurations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, "appointment not found")
	}
	if err != nil {
		return nil, txFailure(op, err)
	}
	if cfg.Status == ConfigurationInactive {
		return nil, conflict(op, "appointment is no longer active")
	}

	var live int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM slots WHERE configuration_id = $1 AND status IN ('HOLD', 'BOOKED')`, id).Scan(&live); err != nil {
		return nil, txFailure(op, err)
	}
	if live > 0 {
		return nil, conflict(op, fmt.Sprintf("%d slot(s) are held or booked", live))
	}

	now := s.now()
	if _, err := tx.Exec(ctx, `
		UPDATE appointment_configurations SET total_slots = $2, price_minor = $3, currency = $4, notes = $5, updated_at = $6
		WHERE id = $1`, id, in.TotalSlots, price.Minor, price.Currency, in.Notes, now); err != nil {
		return nil, txFailure(op, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE configuration_id = $1`, id); err != nil {
		return nil, txFailure(op, err)
	}
	cfg.TotalSlots = in.TotalSlots
	cfg.Price = price
	cfg.Notes = in.Notes
	cfg.UpdatedAt = now
	cfg.Slots = newSlots(cfg.ID, cfg.Date, in.Slots, price, now)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"slots"}, slotCopyColumns, pgx.CopyFromRows(slotCopyRows(cfg.Slots))); err != nil {
		return nil, txFailure(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	s.logger.Info("appointment configuration edited", "appointment_id", id, "slots", len(cfg.Slots))
	return &cfg, nil
}

// lockConfiguration loads a configuration row FOR UPDATE.
func lockConfiguration(ctx context.Context, tx pgx.Tx, op string, id uuid.UUID) (Configuration, error) {
	cfg, err := scanConfiguration(tx.QueryRow(ctx, `SELECT `+configurationColumns+` FROM appointment_configurations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return cfg, notFound(op, "appointment not found")
	}
	if err != nil {
		return cfg, txFailure(op, err)
	}
	return cfg, nil
}

// PublishConfiguration makes a configuration visible to customers. Publishing
// is one-way.
func (s *Service) PublishConfiguration(ctx context.Context, id uuid.UUID) (_ *Configuration, err error) {
	const op = "publish_configuration"
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	cfg, err := lockConfiguration(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	if cfg.Published {
		return nil, conflict(op, "appointment is already published")
	}
	now := s.now()
	if _, err := tx.Exec(ctx, `UPDATE appointment_configurations SET is_published = true, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return nil, txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, txFailure(op, err)
	}
	cfg.Published = true
	cfg.UpdatedAt = now
	s.logger.Info("appointment configuration published", "appointment_id", id)
	return &cfg, nil
}

// DeleteConfiguration removes an unpublished, active configuration and its slots.
func (s *Service) DeleteConfiguration(ctx context.Context, id uuid.UUID) (err error) {
	const op = "delete_configuration"
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return txFailure(op, err)
	}
	defer tx.Rollback(ctx)

	cfg, err := lockConfiguration(ctx, tx, op, id)
	if err != nil {
		return err
	}
	if cfg.Published {
		return conflict(op, "published appointments cannot be deleted")
	}
	if cfg.Status == ConfigurationInactive {
		return conflict(op, "inactive appointments cannot be deleted")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM appointment_configurations WHERE id = $1`, id); err != nil {
		return txFailure(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return txFailure(op, err)
	}
	s.logger.Info("appointment configuration deleted", "appointment_id", id)
	return nil
}

// GetConfiguration returns one configuration with its slots.
func (s *Service) GetConfiguration(ctx context.Context, id uuid.UUID) (*Configuration, error) {
	const op = "get_configuration"
	configs, err := s.ListConfigurations(ctx, ConfigurationFilter{IDs: []uuid.UUID{id}})
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, notFound(op, "appointment not found")
	}
	return &configs[0], nil
}

// ListConfigurations returns matching configurations ordered by date, each
// with its slots ordered by start time.
func (s *Service) ListConfigurations(ctx context.Context, f ConfigurationFilter) ([]Configuration, error) {
	const op = "list_configurations"
	configs, err := queryConfigurations(ctx, s.db, f)
	if err != nil {
		return nil, txFailure(op, err)
	}
	if err := attachSlots(ctx, s.db, configs); err != nil {
		return nil, txFailure(op, err)
	}
	if configs == nil {
		configs = []Configuration{}
	}
	return configs, nil
}

// ListPublishedByMonth returns the published, active dates of one month.
func (s *Service) ListPublishedByMonth(ctx context.Context, year int, month time.Month) ([]Configuration, error) {
	const op = "list_published_by_month"
	if month < time.January || month > time.December {
		return nil, validationError(op, "month must be between 1 and 12")
	}
	if year < 2000 || year > 9999 {
		return nil, validationError(op, "year is out of range")
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	published := true
	active := ConfigurationActive
	return s.ListConfigurations(ctx, ConfigurationFilter{Published: &published, Status: &active, From: &from, To: &to})
}
