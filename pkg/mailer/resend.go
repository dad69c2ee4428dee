package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	logger *zap.Logger
}

// NewResendSender builds a sender with the given API key and default from address.
func NewResendSender(apiKey, from string, logger *zap.Logger) *ResendSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
		logger: logger,
	}
}

// Send delivers a single email and returns the provider message id.
func (s *ResendSender) Send(ctx context.Context, msg Message) (Result, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if msg.ReplyTo != "" {
		params.ReplyTo = msg.ReplyTo
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		s.logger.Warn("resend delivery failed",
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("resend send: %w", err)
	}

	s.logger.Debug("resend delivered",
		zap.String("message_id", sent.Id),
		zap.Strings("to", msg.To),
	)
	return Result{MessageID: sent.Id, SentAt: time.Now().UTC()}, nil
}
