package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/consult-slots/internal/clock"
	"github.com/wolfman30/consult-slots/internal/events"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// S3API is the subset of the S3 client used by ReceiptStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DB is the pgx subset used to read the gateway payload and record the receipt location.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	selectPaymentPayloadSQL = `SELECT payload FROM payments WHERE id = $1`
	updateReceiptURLSQL     = `UPDATE payments SET receipt_url = $2 WHERE id = $1`
)

// ReceiptStore archives confirmed payments to S3. It is an outbox delivery
// handler for booking_confirmed.v1 events; other event types are ignored.
type ReceiptStore struct {
	bucket   string
	s3Client S3API
	db       DB
	clock    clock.Clock
	logger   *logging.Logger
	tracer   trace.Tracer
}

var _ events.DeliveryHandler = (*ReceiptStore)(nil)

// NewReceiptStore creates a ReceiptStore. If bucket is empty, all operations are no-ops.
func NewReceiptStore(s3Client S3API, bucket string, db DB, clk clock.Clock, logger *logging.Logger) *ReceiptStore {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ReceiptStore{
		bucket:   bucket,
		s3Client: s3Client,
		db:       db,
		clock:    clk,
		logger:   logger.WithComponent("archive"),
		tracer:   otel.Tracer("consult.internal.archive"),
	}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *ReceiptStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Handle archives the payment behind a booking_confirmed.v1 event.
func (s *ReceiptStore) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if !s.Enabled() || entry.Type != events.TypeBookingConfirmedV1 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "archive.receipt",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("outbox.id", entry.ID.String())),
	)
	defer span.End()
	if err := s.archiveConfirmed(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *ReceiptStore) archiveConfirmed(ctx context.Context, entry events.OutboxEntry) error {
	var evt events.BookingConfirmedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("archive: decode %s: %w", entry.Type, err)
	}
	if evt.BookingCode == "" || evt.PaymentID == "" {
		return fmt.Errorf("archive: event %s missing booking code or payment id", entry.ID)
	}

	record := &ReceiptRecord{
		Version:          "1.0",
		BookingID:        evt.BookingID,
		BookingCode:      evt.BookingCode,
		SlotID:           evt.SlotID,
		AppointmentID:    evt.AppointmentID,
		PaymentID:        evt.PaymentID,
		GatewayOrderID:   evt.GatewayOrderID,
		GatewayPaymentID: evt.GatewayPaymentID,
		AmountMinor:      evt.AmountMinor,
		Currency:         evt.Currency,
		SlotDate:         evt.SlotDate,
		StartTime:        evt.StartTime,
		ConfirmedAt:      evt.ConfirmedAt,
		ArchivedAt:       s.clock.Now(),
	}
	if evt.CustomerEmail != "" {
		record.EmailHash = HashEmail(evt.CustomerEmail)
	}

	if s.db != nil {
		var payload []byte
		err := s.db.QueryRow(ctx, selectPaymentPayloadSQL, evt.PaymentID).Scan(&payload)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			s.logger.Warn("payment row missing for receipt", "payment_id", evt.PaymentID)
		case err != nil:
			return fmt.Errorf("archive: load payment %s: %w", evt.PaymentID, err)
		default:
			record.Payload = ScrubPayload(payload)
		}
	}

	key, err := s.ArchiveReceipt(ctx, record)
	if err != nil {
		return err
	}

	if s.db != nil {
		url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
		if _, err := s.db.Exec(ctx, updateReceiptURLSQL, evt.PaymentID, url); err != nil {
			return fmt.Errorf("archive: record receipt url: %w", err)
		}
	}
	return nil
}

// ArchiveReceipt writes a ReceiptRecord as JSON to S3 and appends to the
// manifest. It returns the object key.
func (s *ReceiptStore) ArchiveReceipt(ctx context.Context, record *ReceiptRecord) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = s.clock.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("archive: marshal receipt: %w", err)
	}

	day := record.ConfirmedAt
	if day.IsZero() {
		day = record.ArchivedAt
	}
	day = day.UTC()
	key := fmt.Sprintf("payments/v1/by-date/%d/%02d/%02d/%s.json",
		day.Year(), day.Month(), day.Day(), record.BookingCode)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archived payment receipt",
		"booking_code", record.BookingCode,
		"payment_id", record.PaymentID,
		"s3_key", key,
	)

	entry := ManifestEntry{
		BookingCode: record.BookingCode,
		PaymentID:   record.PaymentID,
		S3Key:       key,
		AmountMinor: record.AmountMinor,
		Currency:    record.Currency,
		SlotDate:    record.SlotDate,
		ArchivedAt:  record.ArchivedAt.UTC().Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// the receipt itself is already stored
		s.logger.Warn("failed to append manifest", "error", err, "booking_code", record.BookingCode)
	}
	return key, nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *ReceiptStore) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.clock.Now().UTC()
	manifestKey := fmt.Sprintf("payments/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFoundErr(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFoundErr(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}
