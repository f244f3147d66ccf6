package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// ChargeStatus is the gateway outcome, decided once at this boundary and
// never re-interpreted downstream.
type ChargeStatus string

const (
	ChargeSucceeded    ChargeStatus = "succeeded"
	ChargeDeclined     ChargeStatus = "declined"
	ChargeNetworkError ChargeStatus = "network_error"
)

// Payout schedule intervals for connected accounts.
const (
	PayoutIntervalManual = "manual"
	PayoutIntervalDaily  = "daily"
)

// ChargeRequest describes one off-session charge attempt.
type ChargeRequest struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

// ChargeResult is the tagged gateway outcome. Declined and NetworkError
// carry the gateway reason when available.
type ChargeResult struct {
	Status          ChargeStatus
	PaymentIntentID string
	Reason          string
}

// PaymentService wraps the payment gateway. Charge never returns an error:
// a gateway failure is a normal outcome branch, not an exception.
type PaymentService interface {
	Charge(ctx context.Context, req ChargeRequest) ChargeResult
	UpdatePayoutSchedule(ctx context.Context, accountID, interval string) error
}

type stripeService struct{}

// NewStripeService creates a Stripe-backed PaymentService with the given
// API key.
func NewStripeService(apiKey string) PaymentService {
	stripe.Key = apiKey
	return &stripeService{}
}

// Charge creates and confirms an off-session PaymentIntent. The idempotency
// key guarantees a repeated request does not create a duplicate charge.
func (s *stripeService) Charge(ctx context.Context, req ChargeRequest) ChargeResult {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return classifyChargeError(err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return ChargeResult{
			Status:          ChargeDeclined,
			PaymentIntentID: intent.ID,
			Reason:          fmt.Sprintf("payment intent status %s", intent.Status),
		}
	}

	return ChargeResult{Status: ChargeSucceeded, PaymentIntentID: intent.ID}
}

// classifyChargeError maps a gateway error onto the tagged outcome. Card
// and invalid-request errors are declines; everything else is treated as a
// transport-level failure.
func classifyChargeError(err error) ChargeResult {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		reason := stripeErr.Msg
		if stripeErr.DeclineCode != "" {
			reason = string(stripeErr.DeclineCode)
		}

		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			result := ChargeResult{Status: ChargeDeclined, Reason: reason}
			if stripeErr.PaymentIntent != nil {
				result.PaymentIntentID = stripeErr.PaymentIntent.ID
			}
			return result
		default:
			return ChargeResult{Status: ChargeNetworkError, Reason: reason}
		}
	}
	return ChargeResult{Status: ChargeNetworkError, Reason: err.Error()}
}

// UpdatePayoutSchedule switches a connected account between manual and
// daily payouts. Callers treat failures as best-effort.
func (s *stripeService) UpdatePayoutSchedule(ctx context.Context, accountID, interval string) error {
	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: &stripe.AccountSettingsPayoutsScheduleParams{
					Interval: stripe.String(interval),
				},
			},
		},
	}
	params.Context = ctx

	if _, err := account.Update(accountID, params); err != nil {
		return fmt.Errorf("failed to update payout schedule for %s: %v", accountID, err)
	}
	log.Printf("Payout schedule for account %s set to %s", accountID, interval)
	return nil
}
