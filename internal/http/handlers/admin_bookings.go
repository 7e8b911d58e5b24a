package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// AdminBookingsHandler serves the operator booking report.
type AdminBookingsHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewAdminBookingsHandler creates a new admin bookings handler.
func NewAdminBookingsHandler(db *sql.DB, logger *logging.Logger) *AdminBookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminBookingsHandler{
		db:     db,
		logger: logger.WithComponent("admin_bookings"),
	}
}

// BookingListItem is one row of the booking report.
type BookingListItem struct {
	ID               string  `json:"id"`
	BookingCode      string  `json:"booking_code"`
	SlotID           string  `json:"slot_id"`
	AppointmentID    string  `json:"appointment_id"`
	CustomerName     string  `json:"customer_name"`
	CustomerEmail    string  `json:"customer_email"`
	CustomerMobile   string  `json:"customer_mobile"`
	AmountMinor      int64   `json:"amount_minor"`
	Currency         string  `json:"currency"`
	PaymentStatus    string  `json:"payment_status"`
	BookingStatus    string  `json:"booking_status"`
	MeetingLink      *string `json:"meeting_link,omitempty"`
	SlotDate         *string `json:"slot_date,omitempty"`
	StartTime        *string `json:"start_time,omitempty"`
	EndTime          *string `json:"end_time,omitempty"`
	GatewayPaymentID *string `json:"gateway_payment_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// BookingsListResponse is a paginated page of bookings.
type BookingsListResponse struct {
	Bookings   []BookingListItem `json:"bookings"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

// BookingStatsResponse aggregates bookings by status.
type BookingStatsResponse struct {
	TotalBookings        int            `json:"total_bookings"`
	ByStatus             map[string]int `json:"by_status"`
	ConfirmedCount       int            `json:"confirmed_count"`
	ConfirmedAmountMinor int64          `json:"confirmed_amount_minor"`
}

var bookingStatuses = map[string]struct{}{
	string(reservations.BookingPending):     {},
	string(reservations.BookingConfirmed):   {},
	string(reservations.BookingCancelled):   {},
	string(reservations.BookingRescheduled): {},
}

// parseStatuses reads a comma separated booking status filter.
func parseStatuses(raw string) ([]string, bool) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if _, ok := bookingStatuses[part]; !ok {
			return nil, false
		}
		out = append(out, part)
	}
	return out, true
}

// ListBookings returns a paginated list of bookings, newest first.
// GET /admin/bookings?status=CONFIRMED,PENDING&page=1&limit=20
func (h *AdminBookingsHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	statuses, ok := parseStatuses(q.Get("status"))
	if !ok {
		reservations.WriteFailure(w, reservations.KindValidation, "unknown booking status")
		return
	}
	offset := (page - 1) * limit

	where := ""
	var args []any
	if len(statuses) > 0 {
		where = " WHERE b.booking_status = ANY($1)"
		args = append(args, pq.Array(statuses))
	}

	var total int
	if err := h.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM bookings b"+where, args...).Scan(&total); err != nil {
		h.logger.Error("failed to count bookings", "error", err)
		reservations.WriteFailure(w, reservations.KindInternal, "internal error")
		return
	}

	n := len(args)
	query := `
		SELECT b.id, b.booking_code, b.slot_id, b.configuration_id,
		       b.customer_name, b.customer_email, b.customer_mobile,
		       b.amount_minor, b.currency, b.payment_status, b.booking_status,
		       b.meeting_link, b.created_at,
		       s.ref_date, s.start_time, s.end_time, p.gateway_payment_id
		FROM bookings b
		LEFT JOIN slots s ON s.id = b.slot_id
		LEFT JOIN payments p ON p.booking_id = b.id` + where + `
		ORDER BY b.created_at DESC
		LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("failed to query bookings", "error", err)
		reservations.WriteFailure(w, reservations.KindInternal, "internal error")
		return
	}
	defer rows.Close()

	bookings := []BookingListItem{}
	for rows.Next() {
		var b BookingListItem
		var meetingLink, startTime, endTime, gatewayPaymentID sql.NullString
		var slotDate sql.NullTime
		var createdAt time.Time

		if err := rows.Scan(
			&b.ID, &b.BookingCode, &b.SlotID, &b.AppointmentID,
			&b.CustomerName, &b.CustomerEmail, &b.CustomerMobile,
			&b.AmountMinor, &b.Currency, &b.PaymentStatus, &b.BookingStatus,
			&meetingLink, &createdAt,
			&slotDate, &startTime, &endTime, &gatewayPaymentID,
		); err != nil {
			h.logger.Error("failed to scan booking", "error", err)
			continue
		}

		b.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		b.MeetingLink = nullString(meetingLink)
		b.StartTime = nullString(startTime)
		b.EndTime = nullString(endTime)
		b.GatewayPaymentID = nullString(gatewayPaymentID)
		if slotDate.Valid {
			d := slotDate.Time.Format("2006-01-02")
			b.SlotDate = &d
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("booking rows failed", "error", err)
		reservations.WriteFailure(w, reservations.KindInternal, "internal error")
		return
	}

	reservations.WriteOK(w, http.StatusOK, "bookings", BookingsListResponse{
		Bookings:   bookings,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	})
}

// GetBookingStats returns booking counts by status and confirmed revenue.
// GET /admin/bookings/stats
func (h *AdminBookingsHandler) GetBookingStats(w http.ResponseWriter, r *http.Request) {
	stats := BookingStatsResponse{ByStatus: make(map[string]int)}

	rows, err := h.db.QueryContext(r.Context(),
		`SELECT booking_status, COUNT(*), COALESCE(SUM(amount_minor), 0) FROM bookings GROUP BY booking_status`)
	if err != nil {
		h.logger.Error("failed to aggregate bookings", "error", err)
		reservations.WriteFailure(w, reservations.KindInternal, "internal error")
		return
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		var amount int64
		if err := rows.Scan(&status, &count, &amount); err != nil {
			continue
		}
		stats.ByStatus[status] = count
		stats.TotalBookings += count
		if status == string(reservations.BookingConfirmed) {
			stats.ConfirmedCount = count
			stats.ConfirmedAmountMinor = amount
		}
	}

	reservations.WriteOK(w, http.StatusOK, "booking stats", stats)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
