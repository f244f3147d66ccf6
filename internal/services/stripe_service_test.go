package services

import (
	"errors"
	"testing"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
)

func TestClassifyChargeError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus ChargeStatus
		wantReason string
	}{
		{
			name: "card error with decline code",
			err: &stripe.Error{
				Type:        stripe.ErrorTypeCard,
				Msg:         "Your card was declined.",
				DeclineCode: stripe.DeclineCodeInsufficientFunds,
			},
			wantStatus: ChargeDeclined,
			wantReason: "insufficient_funds",
		},
		{
			name: "card error without decline code",
			err: &stripe.Error{
				Type: stripe.ErrorTypeCard,
				Msg:  "Your card has expired.",
			},
			wantStatus: ChargeDeclined,
			wantReason: "Your card has expired.",
		},
		{
			name: "invalid request is a decline",
			err: &stripe.Error{
				Type: stripe.ErrorTypeInvalidRequest,
				Msg:  "No such payment method.",
			},
			wantStatus: ChargeDeclined,
			wantReason: "No such payment method.",
		},
		{
			name: "api error is a network failure",
			err: &stripe.Error{
				Type: stripe.ErrorTypeAPI,
				Msg:  "An error occurred with our API.",
			},
			wantStatus: ChargeNetworkError,
			wantReason: "An error occurred with our API.",
		},
		{
			name:       "plain transport error",
			err:        errors.New("connection reset by peer"),
			wantStatus: ChargeNetworkError,
			wantReason: "connection reset by peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyChargeError(tt.err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantReason, result.Reason)
		})
	}
}

func TestClassifyChargeErrorCapturesPaymentIntent(t *testing.T) {
	err := &stripe.Error{
		Type:          stripe.ErrorTypeCard,
		Msg:           "Your card was declined.",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_failed"},
	}

	result := classifyChargeError(err)
	assert.Equal(t, ChargeDeclined, result.Status)
	assert.Equal(t, "pi_failed", result.PaymentIntentID)
}
