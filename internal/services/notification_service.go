package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/smtp"
	"text/template"

	"marketbill/internal/models"
)

// Notification events emitted by the billing engine.
const (
	EventTrialExpiredNoCard     = "trial_expired_no_card"
	EventPaymentSucceeded       = "payment_succeeded"
	EventPaymentRetryFirst      = "payment_retry_first"
	EventPaymentRetrySecond     = "payment_retry_second"
	EventPaymentFailedFinal     = "payment_failed_final"
	EventAccountSuspended       = "account_suspended"
	EventSubscriptionDowngraded = "subscription_downgraded"
)

// NotificationService sends transition emails to vendors. Failures are
// always non-fatal to the billing transition; callers wrap and log.
type NotificationService interface {
	NotifyVendor(ctx context.Context, vendor *models.Vendor, event string, vars map[string]any) error
}

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type emailTemplate struct {
	subject string
	body    string
}

var emailTemplates = map[string]emailTemplate{
	EventTrialExpiredNoCard: {
		subject: "Your trial has ended - add a payment method",
		body: "Hi {{.VendorName}},\n\nYour trial ended on {{.TrialEndsAt}} and no payment method is on file. " +
			"Your account has been suspended and payouts are paused. Add a card to reactivate your subscription.\n",
	},
	EventPaymentSucceeded: {
		subject: "Payment received",
		body: "Hi {{.VendorName}},\n\nWe received your payment of {{.Amount}} {{.Currency}}. " +
			"Your subscription is active through {{.PeriodEnd}}.\n",
	},
	EventPaymentRetryFirst: {
		subject: "Payment failed - we'll retry shortly",
		body: "Hi {{.VendorName}},\n\nYour payment of {{.Amount}} {{.Currency}} could not be processed. " +
			"We will retry on {{.NextRetryAt}}. Please check your card details.\n",
	},
	EventPaymentRetrySecond: {
		subject: "Second payment attempt failed",
		body: "Hi {{.VendorName}},\n\nYour payment failed a second time. We will make a final attempt on {{.NextRetryAt}}. " +
			"Please update your payment method to avoid suspension.\n",
	},
	EventPaymentFailedFinal: {
		subject: "Final payment attempt failed",
		body: "Hi {{.VendorName}},\n\nYour payment failed after three attempts. " +
			"Your subscription has been suspended.\n",
	},
	EventAccountSuspended: {
		subject: "Your account has been suspended",
		body: "Hi {{.VendorName}},\n\nYour account is suspended and payouts are paused. " +
			"Update your payment method to restore access.\n",
	},
	EventSubscriptionDowngraded: {
		subject: "Your subscription plan has changed",
		body: "Hi {{.VendorName}},\n\nYour scheduled downgrade to the {{.NewTier}} plan is now in effect.\n",
	},
}

type notificationService struct {
	cfg    SMTPConfig
	sendFn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewNotificationService creates an SMTP-backed notification service.
func NewNotificationService(cfg SMTPConfig) NotificationService {
	if cfg.Sender == "" {
		cfg.Sender = "billing@marketbill.local"
	}
	return &notificationService{cfg: cfg, sendFn: smtp.SendMail}
}

// NotifyVendor resolves a recipient and sends the event's email. Vendors
// without any contact address are logged and skipped.
func (s *notificationService) NotifyVendor(ctx context.Context, vendor *models.Vendor, event string, vars map[string]any) error {
	recipient := resolveRecipient(vendor)
	if recipient == "" {
		log.Printf("No contact email for vendor %s, skipping %s notification", vendor.ID, event)
		return nil
	}

	tmpl, ok := emailTemplates[event]
	if !ok {
		return fmt.Errorf("unknown notification event: %s", event)
	}

	if vars == nil {
		vars = map[string]any{}
	}
	if _, ok := vars["VendorName"]; !ok {
		vars["VendorName"] = vendor.Name
	}

	body, err := renderTemplate(event, tmpl.body, vars)
	if err != nil {
		return fmt.Errorf("failed to render %s template: %v", event, err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.cfg.Sender, recipient, tmpl.subject, body))

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if err := s.sendFn(addr, auth, s.cfg.Sender, []string{recipient}, msg); err != nil {
		return fmt.Errorf("failed to send %s email to %s: %v", event, recipient, err)
	}

	log.Printf("Sent %s notification to %s for vendor %s", event, recipient, vendor.ID)
	return nil
}

// resolveRecipient prefers the internal contact address over the public one.
func resolveRecipient(vendor *models.Vendor) string {
	if vendor.InternalEmail != nil && *vendor.InternalEmail != "" {
		return *vendor.InternalEmail
	}
	if vendor.ContactEmail != nil && *vendor.ContactEmail != "" {
		return *vendor.ContactEmail
	}
	return ""
}

func renderTemplate(name, text string, vars map[string]any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
