package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-slots/internal/payments"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

const (
	testWebhookSecret = "whsec"
	testKeySecret     = "keysec"
)

type fakeConfirmer struct {
	calls  []reservations.PaymentProof
	ids    []uuid.UUID
	result *reservations.Confirmation
	err    error
}

func (f *fakeConfirmer) ConfirmBooking(_ context.Context, bookingID uuid.UUID, proof reservations.PaymentProof) (*reservations.Confirmation, error) {
	f.ids = append(f.ids, bookingID)
	f.calls = append(f.calls, proof)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type memoryProcessed struct {
	seen      map[string]bool
	lookupErr error
}

func newMemoryProcessed() *memoryProcessed { return &memoryProcessed{seen: map[string]bool{}} }

func (m *memoryProcessed) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	return m.seen[provider+":"+eventID], nil
}

func (m *memoryProcessed) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func capturedBody(t *testing.T, eventID string, bookingID uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    eventID,
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_1",
					"order_id": "order_1",
					"amount":   50000,
					"currency": "INR",
					"status":   "captured",
					"notes":    map[string]string{"booking_id": bookingID.String()},
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func postWebhook(h *PaymentWebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Signature", signature)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestPaymentWebhook_ConfirmsBooking(t *testing.T) {
	bookingID := uuid.New()
	confirmer := &fakeConfirmer{result: &reservations.Confirmation{Booking: reservations.Booking{ID: bookingID, Code: "SRU-000001"}}}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := capturedBody(t, "evt_1", bookingID)
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, bookingID, confirmer.ids[0])
	proof := confirmer.calls[0]
	assert.Equal(t, "order_1", proof.OrderID)
	assert.Equal(t, "pay_1", proof.PaymentID)
	assert.NoError(t, payments.NewProofVerifier(testKeySecret, false).VerifyProof(proof.OrderID, proof.PaymentID, proof.Signature))
	require.NotNil(t, proof.AmountMinor)
	assert.Equal(t, int64(50000), *proof.AmountMinor)
	assert.Equal(t, "INR", proof.Currency)
	assert.JSONEq(t, string(body), string(proof.Raw))
	assert.True(t, processed.seen["gateway:evt_1"])

	// redelivery is acknowledged without a second confirmation
	rec = postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate event")
	assert.Len(t, confirmer.calls, 1)
}

func TestPaymentWebhook_RejectsBadSignature(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, newMemoryProcessed(), logging.New("error"))

	body := capturedBody(t, "evt_1", uuid.New())
	rec := postWebhook(h, body, payments.SignHMAC("other", body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, confirmer.calls)
}

func TestPaymentWebhook_NotConfigured(t *testing.T) {
	h := NewPaymentWebhookHandler("", testKeySecret, &fakeConfirmer{}, nil, logging.New("error"))
	rec := postWebhook(h, []byte(`{}`), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPaymentWebhook_IgnoresOtherEvents(t *testing.T) {
	confirmer := &fakeConfirmer{}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := []byte(`{"id":"evt_9","event":"payment.failed","payload":{}}`)
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event ignored")
	assert.Empty(t, confirmer.calls)
	assert.True(t, processed.seen["gateway:evt_9"])
}

func TestPaymentWebhook_MissingBookingID(t *testing.T) {
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, &fakeConfirmer{}, newMemoryProcessed(), logging.New("error"))

	body := []byte(`{"id":"evt_2","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`)
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook_MissingAmount(t *testing.T) {
	confirmer := &fakeConfirmer{}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := []byte(`{"id":"evt_6","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","notes":{"booking_id":"` + uuid.NewString() + `"}}}}}`)
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, confirmer.calls)
	assert.True(t, processed.seen["gateway:evt_6"])
}

func TestPaymentWebhook_AmountMismatchIsNotRetried(t *testing.T) {
	confirmer := &fakeConfirmer{err: &reservations.Error{Kind: reservations.KindValidation, Op: "confirm_booking", Message: "captured amount 100 does not match booking amount 50000"}}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := capturedBody(t, "evt_7", uuid.New())
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not match booking amount")
	assert.True(t, processed.seen["gateway:evt_7"])
}

func TestPaymentWebhook_ConflictIsNotRetried(t *testing.T) {
	confirmer := &fakeConfirmer{err: &reservations.Error{Kind: reservations.KindConflict, Op: "confirm_booking", Message: "booking is CANCELLED"}}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := capturedBody(t, "evt_3", uuid.New())
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, processed.seen["gateway:evt_3"])
}

func TestPaymentWebhook_TransactionFailureIsRetried(t *testing.T) {
	confirmer := &fakeConfirmer{err: &reservations.Error{Kind: reservations.KindTransaction, Op: "confirm_booking", Err: errors.New("deadlock")}}
	processed := newMemoryProcessed()
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := capturedBody(t, "evt_4", uuid.New())
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, processed.seen["gateway:evt_4"])
	assert.NotContains(t, rec.Body.String(), "deadlock")
}

func TestPaymentWebhook_ProcessedLookupFailure(t *testing.T) {
	processed := newMemoryProcessed()
	processed.lookupErr = errors.New("db down")
	confirmer := &fakeConfirmer{}
	h := NewPaymentWebhookHandler(testWebhookSecret, testKeySecret, confirmer, processed, logging.New("error"))

	body := capturedBody(t, "evt_5", uuid.New())
	rec := postWebhook(h, body, payments.SignHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, confirmer.calls)
}
