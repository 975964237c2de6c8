// Package notify delivers issued credentials to purchasers.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/seimei-ai/seimei/pkg/credits"
	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const grantSubject = "Your PIN code is ready"

// Config holds the SMTP settings for outbound mail.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Validate checks the required mail settings.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("notify: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return fmt.Errorf("notify: from address is required")
	}
	return nil
}

// Mailer implements credits.Notifier over SMTP.
type Mailer struct {
	client *mail.Client
	from   string
}

// NewMailer builds a Mailer from validated configuration.
func NewMailer(cfg Config) (*Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		options = append(options, mail.WithPort(cfg.Port))
	}
	if strings.TrimSpace(cfg.Username) != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return &Mailer{client: client, from: cfg.From}, nil
}

// NotifyGrant sends the credential and grant details to the purchaser.
func (mailer *Mailer) NotifyGrant(ctx context.Context, contact credits.Contact, pin credits.PINCode, creditsGranted int64, plan string) error {
	message := mail.NewMsg()
	if err := message.From(mailer.from); err != nil {
		return fmt.Errorf("notify: from: %w", err)
	}
	if err := message.To(contact.String()); err != nil {
		return fmt.Errorf("notify: to: %w", err)
	}
	message.Subject(grantSubject)
	message.SetBodyString(mail.TypeTextPlain, grantBody(pin, creditsGranted, plan))
	if err := mailer.client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

func grantBody(pin credits.PINCode, creditsGranted int64, plan string) string {
	return fmt.Sprintf(
		"Thank you for your purchase.\n\nPIN code: %s\nPlan: %s\nCredits: %d\n\nKeep this code private; it authorizes use of your balance.\n",
		pin.String(), plan, creditsGranted,
	)
}

// LogNotifier is the fallback when no SMTP transport is configured.
// Delivery "succeeds" by recording the grant for the operator.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps a zap logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyGrant records the grant instead of delivering it.
func (notifier *LogNotifier) NotifyGrant(_ context.Context, contact credits.Contact, pin credits.PINCode, creditsGranted int64, plan string) error {
	notifier.logger.Info("grant notification (no smtp transport configured)",
		zap.String("contact", contact.String()),
		zap.String("pin_code", pin.String()),
		zap.Int64("credits", creditsGranted),
		zap.String("plan", plan),
	)
	return nil
}
