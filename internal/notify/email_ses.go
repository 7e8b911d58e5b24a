package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/consult-slots/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers booking emails through SES v2. The admin copy carried in
// EmailMessage.CC goes out on the same send as the customer's message.
type SESSender struct {
	client sesAPI
	from   mail.Address
	cfg    SESConfig
	logger *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
	// ReplyTo routes customer replies, usually to the administrator.
	ReplyTo string
	// ConfigurationSet enables SES event publishing (bounces, complaints).
	ConfigurationSet string
}

// NewSESSender returns nil without a client.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Consultations"
	}
	return &SESSender{
		client: client,
		from:   mail.Address{Name: cfg.FromName, Address: cfg.FromEmail},
		cfg:    cfg,
		logger: logger.WithComponent("ses"),
	}
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

func (s *SESSender) buildInput(msg EmailMessage) (*sesv2.SendEmailInput, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, fmt.Errorf("notify: SES recipient required")
	}
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	if body.Text == nil && body.Html == nil {
		return nil, fmt.Errorf("notify: email to %s has no body", to)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination: &types.Destination{
			ToAddresses: []string{(&mail.Address{Name: msg.ToName, Address: to}).String()},
			CcAddresses: ccAddresses(msg),
		},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	if r := strings.TrimSpace(s.cfg.ReplyTo); r != "" {
		input.ReplyToAddresses = []string{r}
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}
	return input, nil
}

// Send delivers msg, copying any CC recipients other than the customer.
func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	input, err := s.buildInput(msg)
	if err != nil {
		return err
	}
	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	s.logger.Info("booking email sent", "to", msg.To, "cc", len(input.Destination.CcAddresses),
		"subject", msg.Subject, "message_id", aws.ToString(output.MessageId))
	return nil
}

var _ EmailSender = (*SESSender)(nil)
