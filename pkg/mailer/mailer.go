package mailer

import (
	"context"
	"time"
)

// Message describes a single outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

// Result captures the provider outcome for a delivered message.
type Result struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers outbound email. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
