package services

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"marketbill/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type sentEmail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func newCapturingNotifier(sendErr error) (*notificationService, *[]sentEmail) {
	var sent []sentEmail
	svc := &notificationService{
		cfg: SMTPConfig{Host: "localhost", Port: "25", Sender: "billing@marketbill.local"},
		sendFn: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, sentEmail{addr: addr, from: from, to: to, msg: msg})
			return sendErr
		},
	}
	return svc, &sent
}

func notifiedVendor() *models.Vendor {
	internal := "ops@vendor.test"
	contact := "owner@vendor.test"
	return &models.Vendor{
		ID:            uuid.New(),
		Name:          "Acme Goods",
		InternalEmail: &internal,
		ContactEmail:  &contact,
	}
}

func TestNotifyVendorRendersTemplate(t *testing.T) {
	svc, sent := newCapturingNotifier(nil)
	vendor := notifiedVendor()

	err := svc.NotifyVendor(context.Background(), vendor, EventPaymentSucceeded, map[string]any{
		"Amount":    "99.00",
		"Currency":  "usd",
		"PeriodEnd": "2024-04-01",
	})
	assert.NoError(t, err)
	assert.Len(t, *sent, 1)

	msg := string((*sent)[0].msg)
	assert.Contains(t, msg, "Subject: Payment received")
	assert.Contains(t, msg, "Hi Acme Goods,")
	assert.Contains(t, msg, "99.00 usd")
	assert.Contains(t, msg, "2024-04-01")
}

func TestNotifyVendorPrefersInternalEmail(t *testing.T) {
	svc, sent := newCapturingNotifier(nil)
	vendor := notifiedVendor()

	err := svc.NotifyVendor(context.Background(), vendor, EventAccountSuspended, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ops@vendor.test"}, (*sent)[0].to)
}

func TestNotifyVendorFallsBackToContactEmail(t *testing.T) {
	svc, sent := newCapturingNotifier(nil)
	vendor := notifiedVendor()
	vendor.InternalEmail = nil

	err := svc.NotifyVendor(context.Background(), vendor, EventAccountSuspended, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"owner@vendor.test"}, (*sent)[0].to)
}

func TestNotifyVendorSkipsWhenNoAddress(t *testing.T) {
	svc, sent := newCapturingNotifier(nil)
	vendor := notifiedVendor()
	vendor.InternalEmail = nil
	vendor.ContactEmail = nil

	err := svc.NotifyVendor(context.Background(), vendor, EventAccountSuspended, nil)
	assert.NoError(t, err)
	assert.Empty(t, *sent)
}

func TestNotifyVendorUnknownEvent(t *testing.T) {
	svc, sent := newCapturingNotifier(nil)

	err := svc.NotifyVendor(context.Background(), notifiedVendor(), "no_such_event", nil)
	assert.Error(t, err)
	assert.Empty(t, *sent)
}

func TestNotifyVendorWrapsSendFailure(t *testing.T) {
	svc, _ := newCapturingNotifier(errors.New("connection refused"))

	err := svc.NotifyVendor(context.Background(), notifiedVendor(), EventAccountSuspended, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "account_suspended")
}
