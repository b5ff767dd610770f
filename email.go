package authcore

import (
	"context"
	"log/slog"
)

// EmailMessage carries what a sender needs to build a message.
type EmailMessage struct {
	User  *User
	URL   string
	Token string
	// NewEmail is set on change-email confirmations.
	NewEmail string
}

// EmailSender delivers the messages of the email flows. Delivery failures
// are logged and returned but never undo the change that triggered them.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, msg EmailMessage) error
	SendResetPassword(ctx context.Context, msg EmailMessage) error
	SendChangeEmailVerification(ctx context.Context, msg EmailMessage) error
	SendDeleteAccountVerification(ctx context.Context, msg EmailMessage) error
}

// ConsoleEmailSender is a development sender that logs every message.
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) log(ctx context.Context, subject string, msg EmailMessage) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	to := ""
	if msg.User != nil {
		to = msg.User.Email
	}
	logger.InfoContext(ctx, "email", "to", to, "subject", subject, "url", msg.URL, "newEmail", msg.NewEmail)
	return nil
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, msg EmailMessage) error {
	return c.log(ctx, "Verify your email address", msg)
}

func (c *ConsoleEmailSender) SendResetPassword(ctx context.Context, msg EmailMessage) error {
	return c.log(ctx, "Reset your password", msg)
}

func (c *ConsoleEmailSender) SendChangeEmailVerification(ctx context.Context, msg EmailMessage) error {
	return c.log(ctx, "Approve your email change", msg)
}

func (c *ConsoleEmailSender) SendDeleteAccountVerification(ctx context.Context, msg EmailMessage) error {
	return c.log(ctx, "Confirm account deletion", msg)
}
