package reservations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-slots/internal/payments"
)

func validProof() PaymentProof {
	return PaymentProof{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: payments.SignProof(testSecret, "order_1", "pay_1"),
	}
}

func expectConfirmWrites(mock pgxmock.PgxPoolIface, b Booking, slot Slot) {
	mock.ExpectQuery("FROM bookings WHERE id = \\$1 FOR UPDATE").WithArgs(b.ID).WillReturnRows(bookingRows(b))
	mock.ExpectQuery("FROM slots WHERE id = \\$1 FOR UPDATE").WithArgs(slot.ID).WillReturnRows(slotRows(slot))
	mock.ExpectExec("UPDATE slots SET status = 'BOOKED'").WithArgs(slot.ID, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bookings SET payment_status = 'SUCCESS'").WithArgs(b.ID, "pay_1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(pgxmock.AnyArg(), b.ID, "order_1", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(50000), "INR", "paid", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestConfirmBookingBooksHeldSlot(t *testing.T) {
	meet := &fakeMeetings{link: "https://meet.google.com/abc-defg-hij"}
	notifier := &fakeNotifier{}
	env := newTestEnv(t, WithMeetingProvider(meet), WithNotifier(notifier), WithAdminEmail("admin@example.com"))

	until := testNow.Add(10 * time.Minute)
	slot := testSlot(SlotHold, &until)
	booking := testBooking(slot, BookingPending)

	env.mock.ExpectBegin()
	expectConfirmWrites(env.mock, booking, slot)
	env.mock.ExpectCommit()
	env.mock.ExpectExec("UPDATE bookings SET meeting_link").WithArgs(booking.ID, meet.link, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := env.svc.ConfirmBooking(context.Background(), booking.ID, validProof())
	require.NoError(t, err)
	env.verify(t)

	assert.Equal(t, SlotBooked, res.Slot.Status)
	assert.Nil(t, res.Slot.HoldUntil)
	assert.Equal(t, ConsultationPending, res.Slot.Consultation)
	assert.Equal(t, BookingConfirmed, res.Booking.Status)
	assert.Equal(t, PaymentSuccess, res.Booking.PaymentStatus)
	require.NotNil(t, res.Payment)
	assert.Equal(t, int64(50000), res.Payment.Amount.Minor)
	assert.Equal(t, PaymentRecordPaid, res.Payment.Status)
	require.NotNil(t, res.MeetingLink)
	assert.Equal(t, meet.link, *res.MeetingLink)
	assert.Empty(t, res.Degraded)

	require.Len(t, meet.requests, 1)
	assert.Equal(t, []string{"asha@example.com", "admin@example.com"}, meet.requests[0].Attendees)
	require.Len(t, notifier.confirmations, 1)
	assert.Equal(t, "pay_1", notifier.confirmations[0].TransactionID)
	assert.Equal(t, "500.00 INR", notifier.confirmations[0].Amount)
	assert.Equal(t, meet.link, notifier.confirmations[0].MeetingLink)
	assert.Equal(t, []string{"BOOKED"}, env.feed.statuses())
}

func TestConfirmBookingTwiceRecordsOnePayment(t *testing.T) {
	env := newTestEnv(t)
	until := testNow.Add(10 * time.Minute)
	slot := testSlot(SlotHold, &until)
	booking := testBooking(slot, BookingPending)

	env.mock.ExpectBegin()
	expectConfirmWrites(env.mock, booking, slot)
	env.mock.ExpectCommit()

	first, err := env.svc.ConfirmBooking(context.Background(), booking.ID, validProof())
	require.NoError(t, err)

	confirmed := booking
	confirmed.Status = BookingConfirmed
	confirmed.PaymentStatus = PaymentSuccess
	booked := slot
	booked.Status = SlotBooked
	booked.HoldUntil = nil
	env.mock.ExpectBegin()
	env.mock.ExpectQuery("FROM bookings WHERE id = \\$1 FOR UPDATE").WithArgs(booking.ID).WillReturnRows(bookingRows(confirmed))
	env.mock.ExpectQuery("FROM slots WHERE id = \\$1").WithArgs(slot.ID).WillReturnRows(slotRows(booked))
	env.mock.ExpectQuery("FROM payments WHERE booking_id = \\$1").WithArgs(booking.ID).WillReturnRows(paymentRows(*first.Payment))
	env.mock.ExpectCommit()

	second, err := env.svc.ConfirmBooking(context.Background(), booking.ID, validProof())
	require.NoError(t, err)
	env.verify(t)

	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, SlotBooked, second.Slot.Status)
}

func TestConfirmBookingDegradesWhenCollaboratorsFail(t *testing.T) {
	meet := &fakeMeetings{err: errors.New("calendar quota exceeded")}
	notifier := &fakeNotifier{err: errors.New("smtp unavailable")}
	env := newTestEnv(t, WithMeetingProvider(meet), WithNotifier(notifier))

	until := testNow.Add(10 * time.Minute)
	slot := testSlot(SlotHold, &until)
	booking := testBooking(slot, BookingPending)

	env.mock.ExpectBegin()
	expectConfirmWrites(env.mock, booking, slot)
	env.mock.ExpectCommit()

	res, err := env.svc.ConfirmBooking(context.Background(), booking.ID, validProof())
	require.NoError(t, err)
	env.verify(t)

	assert.Equal(t, BookingConfirmed, res.Booking.Status)
	assert.Nil(t, res.MeetingLink)
	assert.Equal(t, []string{DegradedMeetingLink, DegradedNotification}, res.Degraded)
	require.Len(t, notifier.confirmations, 1)
	assert.Empty(t, notifier.confirmations[0].MeetingLink)
}

func TestConfirmBookingRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		env := newTestEnv(t)
		proof := validProof()
		proof.Signature = "deadbeef"
		_, err := env.svc.ConfirmBooking(ctx, uuid.New(), proof)
		assert.True(t, errors.Is(err, ErrValidation))
		env.verify(t)
	})

	t.Run("missing payment id", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.ConfirmBooking(ctx, uuid.New(), PaymentProof{OrderID: "order_1"})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("no verifier", func(t *testing.T) {
		env := newTestEnv(t, WithProofVerifier(nil))
		_, err := env.svc.ConfirmBooking(ctx, uuid.New(), validProof())
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("unknown booking", func(t *testing.T) {
		env := newTestEnv(t)
		id := uuid.New()
		env.mock.ExpectBegin()
		env.mock.ExpectQuery("FROM bookings WHERE id").WithArgs(id).WillReturnRows(bookingRows())
		env.mock.ExpectRollback()
		_, err := env.svc.ConfirmBooking(ctx, id, validProof())
		assert.True(t, errors.Is(err, ErrNotFound))
		env.verify(t)
	})

	t.Run("slot no longer held", func(t *testing.T) {
		env := newTestEnv(t)
		slot := testSlot(SlotAvailable, nil)
		booking := testBooking(slot, BookingPending)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery("FROM bookings WHERE id").WithArgs(booking.ID).WillReturnRows(bookingRows(booking))
		env.mock.ExpectQuery("FROM slots WHERE id").WithArgs(slot.ID).WillReturnRows(slotRows(slot))
		env.mock.ExpectRollback()
		_, err := env.svc.ConfirmBooking(ctx, booking.ID, validProof())
		assert.True(t, errors.Is(err, ErrConflict))
		env.verify(t)
	})

	t.Run("payment row already exists", func(t *testing.T) {
		env := newTestEnv(t)
		until := testNow.Add(time.Minute)
		slot := testSlot(SlotHold, &until)
		booking := testBooking(slot, BookingPending)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery("FROM bookings WHERE id").WithArgs(booking.ID).WillReturnRows(bookingRows(booking))
		env.mock.ExpectQuery("FROM slots WHERE id").WithArgs(slot.ID).WillReturnRows(slotRows(slot))
		env.mock.ExpectExec("UPDATE slots SET status = 'BOOKED'").WithArgs(anyArgs(2)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		env.mock.ExpectExec("UPDATE bookings SET payment_status").WithArgs(anyArgs(3)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		env.mock.ExpectExec("INSERT INTO payments").WithArgs(anyArgs(10)...).WillReturnError(uniqueViolation())
		env.mock.ExpectRollback()
		_, err := env.svc.ConfirmBooking(ctx, booking.ID, validProof())
		assert.True(t, errors.Is(err, ErrConflict))
		env.verify(t)
	})
}

func TestConfirmBookingChecksCapturedAmount(t *testing.T) {
	ctx := context.Background()
	until := testNow.Add(10 * time.Minute)
	slot := testSlot(SlotHold, &until)
	booking := testBooking(slot, BookingPending)

	t.Run("matching amount confirms", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectBegin()
		expectConfirmWrites(env.mock, booking, slot)
		env.mock.ExpectCommit()

		proof := validProof()
		amount := int64(50000)
		proof.AmountMinor, proof.Currency = &amount, "inr"
		res, err := env.svc.ConfirmBooking(ctx, booking.ID, proof)
		require.NoError(t, err)
		assert.Equal(t, BookingConfirmed, res.Booking.Status)
		env.verify(t)
	})

	for name, mutate := range map[string]func(*PaymentProof){
		"short amount": func(p *PaymentProof) {
			short := int64(100)
			p.AmountMinor = &short
		},
		"other currency": func(p *PaymentProof) { p.Currency = "USD" },
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mock.ExpectBegin()
			env.mock.ExpectQuery("FROM bookings WHERE id").WithArgs(booking.ID).WillReturnRows(bookingRows(booking))
			env.mock.ExpectRollback()

			proof := validProof()
			mutate(&proof)
			_, err := env.svc.ConfirmBooking(ctx, booking.ID, proof)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
			assert.Empty(t, env.feed.statuses())
			env.verify(t)
		})
	}
}
