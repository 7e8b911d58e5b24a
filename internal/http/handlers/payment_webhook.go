package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/consult-slots/internal/payments"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

const (
	paymentProvider     = "gateway"
	eventPaymentCapture = "payment.captured"
	maxWebhookBody      = 1 << 20
)

// BookingConfirmer is the reservations operation the webhook drives.
type BookingConfirmer interface {
	ConfirmBooking(ctx context.Context, bookingID uuid.UUID, proof reservations.PaymentProof) (*reservations.Confirmation, error)
}

// ProcessedEvents de-duplicates gateway deliveries.
type ProcessedEvents interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// PaymentWebhookHandler accepts signed gateway callbacks and confirms the
// booking named in the payment notes.
type PaymentWebhookHandler struct {
	webhookSecret string
	keySecret     string
	bookings      BookingConfirmer
	processed     ProcessedEvents
	logger        *logging.Logger
}

func NewPaymentWebhookHandler(webhookSecret, keySecret string, bookings BookingConfirmer, processed ProcessedEvents, logger *logging.Logger) *PaymentWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentWebhookHandler{
		webhookSecret: strings.TrimSpace(webhookSecret),
		keySecret:     strings.TrimSpace(keySecret),
		bookings:      bookings,
		processed:     processed,
		logger:        logger.WithComponent("payment_webhook"),
	}
}

type gatewayEvent struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity gatewayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type gatewayPayment struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   *int64            `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

func (h *PaymentWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		h.logger.Error("payment webhook secret not configured")
		reservations.WriteFailure(w, reservations.KindInternal, "webhook not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		reservations.WriteFailure(w, reservations.KindValidation, "invalid request body")
		return
	}
	if !payments.VerifyHMAC(h.webhookSecret, body, r.Header.Get("X-Signature")) {
		h.logger.Warn("invalid payment webhook signature", "remote_ip", r.RemoteAddr)
		writeUnauthorized(w, "invalid signature")
		return
	}

	var evt gatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		reservations.WriteFailure(w, reservations.KindValidation, "invalid json payload")
		return
	}
	eventID := strings.TrimSpace(evt.ID)
	if eventID == "" {
		eventID = strings.TrimSpace(r.Header.Get("X-Event-ID"))
	}
	if eventID == "" {
		reservations.WriteFailure(w, reservations.KindValidation, "event id is required")
		return
	}

	ctx := r.Context()
	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(ctx, paymentProvider, eventID)
		if err != nil {
			h.logger.Error("processed lookup failed", "event_id", eventID, "error", err)
			reservations.WriteFailure(w, reservations.KindInternal, "internal error")
			return
		}
		if seen {
			reservations.WriteOK(w, http.StatusOK, "duplicate event", map[string]string{"event_id": eventID})
			return
		}
	}

	if evt.Event != eventPaymentCapture {
		h.markProcessed(ctx, eventID)
		reservations.WriteOK(w, http.StatusOK, "event ignored", map[string]string{"event": evt.Event})
		return
	}

	entity := evt.Payload.Payment.Entity
	bookingID, err := uuid.Parse(strings.TrimSpace(entity.Notes["booking_id"]))
	if err != nil {
		h.markProcessed(ctx, eventID)
		reservations.WriteFailure(w, reservations.KindValidation, "payment notes carry no booking_id")
		return
	}
	if entity.Amount == nil {
		h.markProcessed(ctx, eventID)
		reservations.WriteFailure(w, reservations.KindValidation, "payment carries no amount")
		return
	}

	// countersigned with the key secret; the body signature already authenticated the gateway
	proof := reservations.PaymentProof{
		OrderID:     entity.OrderID,
		PaymentID:   entity.ID,
		Signature:   payments.SignProof(h.keySecret, entity.OrderID, entity.ID),
		AmountMinor: entity.Amount,
		Currency:    entity.Currency,
		Raw:         body,
	}
	res, err := h.bookings.ConfirmBooking(ctx, bookingID, proof)
	if err != nil {
		switch reservations.KindOf(err) {
		case reservations.KindValidation, reservations.KindNotFound, reservations.KindConflict:
			// retries cannot succeed
			h.markProcessed(ctx, eventID)
		}
		h.logger.Warn("webhook confirmation failed", "event_id", eventID, "booking_id", bookingID, "error", err)
		reservations.WriteError(w, h.logger, err)
		return
	}

	h.markProcessed(ctx, eventID)
	h.logger.Info("payment captured", "event_id", eventID, "booking_id", bookingID, "booking_code", res.Booking.Code)
	reservations.WriteOK(w, http.StatusOK, "booking confirmed", res)
}

func (h *PaymentWebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if h.processed == nil {
		return
	}
	if _, err := h.processed.MarkProcessed(ctx, paymentProvider, eventID); err != nil {
		h.logger.Warn("failed to mark webhook processed", "event_id", eventID, "error", err)
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(reservations.Envelope{
		Success: false,
		Message: message,
		Error:   &reservations.ErrorBody{Code: "UNAUTHORIZED", Details: message},
	})
}
