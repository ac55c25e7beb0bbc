package sender

import (
	"context"
	"time"
)

// Message is one rendered email. Tags are forwarded to providers that support
// analytics tagging and ignored by the rest.
type Message struct {
	To      string
	Subject string
	HTML    string
	Tags    map[string]string
}

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg Message) (SendResult, error)
}
