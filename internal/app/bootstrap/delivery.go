package bootstrap

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/consult-slots/internal/archive"
	"github.com/wolfman30/consult-slots/internal/clock"
	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/internal/events"
	"github.com/wolfman30/consult-slots/internal/observability/metrics"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// ServiceDeps are the collaborators handed to the reservation service.
type ServiceDeps struct {
	Logger    *logging.Logger
	Clock     clock.Clock
	Location  *time.Location
	Metrics   *metrics.ReservationMetrics
	Meetings  reservations.MeetingProvider
	Notifier  reservations.Notifier
	Limiter   reservations.HoldLimiter
	Publisher reservations.SlotPublisher
}

// BuildOutboxHandler fans outbox entries out to SQS and the S3 receipt
// archive when those are configured. With neither, entries are dropped
// after being marked delivered.
func BuildOutboxHandler(cfg *appconfig.Config, awsCfg *aws.Config, db archive.DB, clk clock.Clock, logger *logging.Logger) (events.DeliveryHandler, []string) {
	if logger == nil {
		logger = logging.Default()
	}
	var sinks events.FanOut
	var names []string
	if awsCfg != nil && cfg.EventsQueueURL != "" {
		sinks = append(sinks, events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.EventsQueueURL))
		names = append(names, "sqs")
	}
	if awsCfg != nil && cfg.ReceiptsBucket != "" {
		store := archive.NewReceiptStore(s3.NewFromConfig(*awsCfg), cfg.ReceiptsBucket, db, clk, logger)
		sinks = append(sinks, events.TypeFilter{Types: []string{events.TypeBookingConfirmedV1}, Next: store})
		names = append(names, "s3-receipts")
	}
	if len(sinks) == 0 {
		logger.Info("no outbox sinks configured; events are logged only")
		return events.LogSink{}, []string{"log"}
	}
	return sinks, names
}
