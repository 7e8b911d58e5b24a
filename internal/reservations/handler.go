package reservations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

const maxRequestBody = 1 << 20

// API is the part of Service the HTTP layer uses.
type API interface {
	CreateConfiguration(ctx context.Context, in CreateConfigurationInput) (*Configuration, error)
	EditConfiguration(ctx context.Context, id uuid.UUID, in EditConfigurationInput) (*Configuration, error)
	PublishConfiguration(ctx context.Context, id uuid.UUID) (*Configuration, error)
	DeleteConfiguration(ctx context.Context, id uuid.UUID) error
	GetConfiguration(ctx context.Context, id uuid.UUID) (*Configuration, error)
	ListConfigurations(ctx context.Context, f ConfigurationFilter) ([]Configuration, error)
	ListPublishedByMonth(ctx context.Context, year int, month time.Month) ([]Configuration, error)
	CurrentMonth() (int, time.Month)
	ListSlots(ctx context.Context, appointmentID uuid.UUID, status *SlotStatus) ([]SlotView, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*SlotView, error)
	GetSlotAdminView(ctx context.Context, id uuid.UUID) (*SlotAdminView, error)
	AcquireHold(ctx context.Context, req HoldRequest) (*HoldResult, error)
	ConfirmBooking(ctx context.Context, bookingID uuid.UUID, proof PaymentProof) (*Confirmation, error)
	MarkConsultationCompleted(ctx context.Context, slotID uuid.UUID) (*CompletionResult, error)
	CancelSlot(ctx context.Context, slotID uuid.UUID, reason string) (*Slot, error)
	ReconcileExpiredHolds(ctx context.Context) (int, error)
	ExpireConfigurations(ctx context.Context) (int, error)
}

// Handler serves the reservation endpoints.
type Handler struct {
	svc    API
	logger *logging.Logger
}

// NewHandler creates a reservations handler.
func NewHandler(svc API, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// configurationRequest is the admin payload for creating or editing a date.
// price is given in major units, as a JSON number or string.
type configurationRequest struct {
	Date            string       `json:"appointment_date"`
	TotalSlots      int          `json:"total_appointments"`
	Price           json.Number  `json:"price"`
	Currency        string       `json:"currency"`
	DurationMinutes int          `json:"duration"`
	Slots           []SlotWindow `json:"slots"`
	Notes           *string      `json:"notes"`
}

func (r configurationRequest) money() (Money, error) {
	if r.Price == "" {
		return Money{}, validationError("parse_request", "price is required")
	}
	m, err := MoneyFromMajor(r.Price.String(), r.Currency)
	if err != nil {
		return Money{}, validationError("parse_request", err.Error())
	}
	return m, nil
}

type confirmRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

var errEmptyBody = validationError("parse_request", "request body is required")

func decodeJSON(r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, validationError("parse_request", "could not read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return nil, validationError("parse_request", "invalid JSON body")
	}
	return body, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return uuid.Nil, validationError("parse_request", name+" must be a UUID")
	}
	return id, nil
}

// CreateConfiguration handles POST /admin/appointments.
func (h *Handler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req configurationRequest
	if _, err := decodeJSON(r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	price, err := req.money()
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	cfg, err := h.svc.CreateConfiguration(r.Context(), CreateConfigurationInput{
		Date:            req.Date,
		TotalSlots:      req.TotalSlots,
		Price:           price,
		DurationMinutes: req.DurationMinutes,
		Slots:           req.Slots,
		Notes:           req.Notes,
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusCreated, "appointment created", cfg)
}

// EditConfiguration handles PUT /admin/appointments/{appointmentID}.
func (h *Handler) EditConfiguration(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var req configurationRequest
	if _, err := decodeJSON(r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	price, err := req.money()
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	cfg, err := h.svc.EditConfiguration(r.Context(), id, EditConfigurationInput{
		TotalSlots: req.TotalSlots,
		Price:      price,
		Slots:      req.Slots,
		Notes:      req.Notes,
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "appointment updated", cfg)
}

// PublishConfiguration handles POST /admin/appointments/{appointmentID}/publish.
func (h *Handler) PublishConfiguration(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	cfg, err := h.svc.PublishConfiguration(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "appointment published", cfg)
}

// DeleteConfiguration handles DELETE /admin/appointments/{appointmentID}.
func (h *Handler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := h.svc.DeleteConfiguration(r.Context(), id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "appointment deleted", map[string]string{"appointment_id": id.String()})
}

// GetConfiguration handles GET /admin/appointments/{appointmentID}.
func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	cfg, err := h.svc.GetConfiguration(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "appointment fetched", cfg)
}

// ListConfigurations handles GET /admin/appointments?status=&published=&date=.
func (h *Handler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ConfigurationFilter
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st := ConfigurationStatus(strings.ToUpper(v))
		if !st.Valid() {
			WriteFailure(w, KindValidation, "status must be ACTIVE or INACTIVE")
			return
		}
		f.Status = &st
	}
	if v := strings.TrimSpace(q.Get("published")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteFailure(w, KindValidation, "published must be true or false")
			return
		}
		f.Published = &b
	}
	if v := strings.TrimSpace(q.Get("date")); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			WriteFailure(w, KindValidation, "date must be YYYY-MM-DD")
			return
		}
		f.Date = &d
	}
	configs, err := h.svc.ListConfigurations(r.Context(), f)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "appointments fetched", configs)
}

// ListPublished handles GET /appointments/published?year=&month=. Missing
// values default to the current month in the operator's timezone.
func (h *Handler) ListPublished(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var year, month int
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteFailure(w, KindValidation, "year must be a number")
			return
		}
		year = n
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteFailure(w, KindValidation, "month must be a number")
			return
		}
		month = n
	}
	if q.Get("year") == "" || q.Get("month") == "" {
		y, m := h.svc.CurrentMonth()
		if q.Get("year") == "" {
			year = y
		}
		if q.Get("month") == "" {
			month = int(m)
		}
	}
	configs, err := h.svc.ListPublishedByMonth(r.Context(), year, time.Month(month))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "published appointments fetched", configs)
}

// ListSlots handles GET /appointments/{appointmentID}/slots?status=.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "appointmentID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var status *SlotStatus
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		st := SlotStatus(strings.ToUpper(v))
		status = &st
	}
	slots, err := h.svc.ListSlots(r.Context(), id, status)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "slots fetched", slots)
}

// GetSlot handles GET /slots/{slotID}.
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "slotID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	slot, err := h.svc.GetSlot(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "slot fetched", slot)
}

// GetSlotAdmin handles GET /admin/slots/{slotID}.
func (h *Handler) GetSlotAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "slotID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	view, err := h.svc.GetSlotAdminView(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "slot fetched", view)
}

// AcquireHold handles POST /holds.
func (h *Handler) AcquireHold(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if _, err := decodeJSON(r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	res, err := h.svc.AcquireHold(r.Context(), req)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusCreated, "slot held", res)
}

// ConfirmBooking handles POST /bookings/{bookingID}/confirm.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "bookingID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var req confirmRequest
	raw, err := decodeJSON(r, &req)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	res, err := h.svc.ConfirmBooking(r.Context(), id, PaymentProof{
		OrderID:   strings.TrimSpace(req.OrderID),
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
		Raw:       json.RawMessage(raw),
	})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	msg := "booking confirmed"
	if res.AlreadyConfirmed {
		msg = "booking already confirmed"
	}
	WriteOK(w, http.StatusOK, msg, res)
}

// CompleteConsultation handles PATCH /admin/slots/{slotID}/consultation-complete.
func (h *Handler) CompleteConsultation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "slotID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	res, err := h.svc.MarkConsultationCompleted(r.Context(), id)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	msg := "consultation marked completed"
	if res.AlreadyCompleted {
		msg = "consultation already completed"
	}
	WriteOK(w, http.StatusOK, msg, res)
}

// CancelSlot handles POST /admin/slots/{slotID}/cancel.
func (h *Handler) CancelSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "slotID")
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var req cancelRequest
	if _, err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		WriteError(w, h.logger, err)
		return
	}
	slot, err := h.svc.CancelSlot(r.Context(), id, req.Reason)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "slot cancelled", slot)
}

// SweepHolds handles POST /admin/sweeps/holds.
func (h *Handler) SweepHolds(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ReconcileExpiredHolds(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "expired holds reclaimed", map[string]int{"reclaimed": n})
}

// SweepConfigurations handles POST /admin/sweeps/configurations.
func (h *Handler) SweepConfigurations(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ExpireConfigurations(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteOK(w, http.StatusOK, "past appointments deactivated", map[string]int{"expired": n})
}
