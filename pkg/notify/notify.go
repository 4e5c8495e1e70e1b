package notify

import (
	"context"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
)

// EmailMessage is the transport-neutral email shape handed to senders.
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
}

// EmailSender delivers a single email. Implementations must be safe
// for concurrent use.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// Dispatcher renders lifecycle email and hands it to a sender. It
// implements invitations.Notifier.
type Dispatcher struct {
	sender  EmailSender
	baseURL string
	logger  *observability.Logger
}

// NewDispatcher creates a dispatcher. baseURL is the public URL the
// accept and verification links point at.
func NewDispatcher(sender EmailSender, baseURL string, logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{sender: sender, baseURL: baseURL, logger: logger}
}

// SendInvitation delivers the onboarding invitation email.
func (d *Dispatcher) SendInvitation(ctx context.Context, email, token string, tenant tenants.TenantRef) error {
	tenantName := tenant.Name
	if tenantName == "" {
		tenantName = "your organization"
	}
	msg := EmailMessage{
		To:      email,
		Subject: fmt.Sprintf("You have been invited to join %s", tenantName),
		TextBody: fmt.Sprintf(
			"You have been invited to join %s.\n\nAccept your invitation:\n%s/invitations/accept?token=%s\n\nThis link expires; if it stops working, ask your administrator to resend the invitation.\n",
			tenantName, d.baseURL, token,
		),
	}
	return d.sender.SendEmail(ctx, msg)
}

// SendEmailVerification delivers the address verification email issued
// after an invitation is accepted.
func (d *Dispatcher) SendEmailVerification(ctx context.Context, email, token string) error {
	msg := EmailMessage{
		To:      email,
		Subject: "Verify your email address",
		TextBody: fmt.Sprintf(
			"Welcome! Verify your email address to activate your account:\n%s/verify?token=%s\n",
			d.baseURL, token,
		),
	}
	return d.sender.SendEmail(ctx, msg)
}

// SendRoleExpiryWarning notifies a user that a role grant is about to
// lapse.
func (d *Dispatcher) SendRoleExpiryWarning(ctx context.Context, email string, assignment *rbac.RoleAssignment, roleName string) error {
	if assignment.ExpiresAt == nil {
		return nil
	}
	msg := EmailMessage{
		To:      email,
		Subject: fmt.Sprintf("Your %s access expires soon", roleName),
		TextBody: fmt.Sprintf(
			"Your %s role expires on %s. Contact your administrator if you still need it.\n",
			roleName, assignment.ExpiresAt.Format("2006-01-02 15:04 MST"),
		),
	}
	return d.sender.SendEmail(ctx, msg)
}

// LogSender is the EmailSender used when no delivery backend is
// configured; it writes the message to the log and succeeds.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *observability.Logger) *LogSender {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &LogSender{logger: logger}
}

// SendEmail logs the message instead of delivering it.
func (s *LogSender) SendEmail(_ context.Context, msg EmailMessage) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email dispatched to log sender")
	return nil
}
