// Package mail hands transactional messages to a delivery backend. Rendering
// and SMTP delivery happen elsewhere; this package only names the template
// and supplies its data.
package mail

import (
	"context"

	"github.com/google/uuid"
)

// Template names understood by the delivery worker.
const (
	TemplateVerifyEmail     = "verify-email"
	TemplateLoginOTP        = "login-otp"
	TemplatePasswordReset   = "password-reset"
	TemplatePasswordChanged = "password-changed"
)

// Message is one outgoing email.
type Message struct {
	ID       string
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

// NewMessage returns a message with a fresh ID.
func NewMessage(to, subject, template string, data map[string]string) Message {
	return Message{
		ID:       uuid.NewString(),
		To:       to,
		Subject:  subject,
		Template: template,
		Data:     data,
	}
}

// Sender delivers a message or queues it for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
