package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "booking", TypeBookingConfirmedV1, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Insert(context.Background(), "booking", TypeBookingConfirmedV1, map[string]string{"foo": "bar"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "type", "payload", "created_at"}).AddRow(id, "booking", TypeBookingConfirmedV1, []byte("{\"foo\":\"bar\"}"), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendUsesTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "slot", TypeHoldsExpiredV1, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	id, err := Append(ctx, tx, "slot", TypeHoldsExpiredV1, HoldsExpiredV1{SlotIDs: []string{"a"}})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRejectsUnmarshalablePayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Append(context.Background(), mock, "slot", "bad", make(chan int))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingHandler struct {
	seen []uuid.UUID
	fail map[uuid.UUID]bool
}

func (h *recordingHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.seen = append(h.seen, entry.ID)
	if h.fail[entry.ID] {
		return errors.New("sink down")
	}
	return nil
}

func TestDelivererDrainSkipsFailedEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	okID, badID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "type", "payload", "created_at"}).
		AddRow(okID, "booking", TypeBookingConfirmedV1, []byte(`{}`), now).
		AddRow(badID, "booking", TypeBookingConfirmedV1, []byte(`{}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(5)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(okID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	handler := &recordingHandler{fail: map[uuid.UUID]bool{badID: true}}
	d := NewDeliverer(NewOutboxStore(mock), handler, logging.New("error")).WithBatchSize(5)

	assert.Equal(t, 1, d.Drain(context.Background()))
	assert.Equal(t, []uuid.UUID{okID, badID}, handler.seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFanOutJoinsErrors(t *testing.T) {
	id := uuid.New()
	good := &recordingHandler{}
	bad := &recordingHandler{fail: map[uuid.UUID]bool{id: true}}

	err := FanOut{good, nil, bad}.Handle(context.Background(), OutboxEntry{ID: id})
	require.Error(t, err)
	assert.Len(t, good.seen, 1)
	assert.Len(t, bad.seen, 1)
}

func TestTypeFilter(t *testing.T) {
	next := &recordingHandler{}
	f := TypeFilter{Types: []string{TypeBookingConfirmedV1}, Next: next}

	require.NoError(t, f.Handle(context.Background(), OutboxEntry{ID: uuid.New(), Type: TypeHoldsExpiredV1}))
	require.NoError(t, f.Handle(context.Background(), OutboxEntry{ID: uuid.New(), Type: TypeBookingConfirmedV1}))
	assert.Len(t, next.seen, 1)
}
