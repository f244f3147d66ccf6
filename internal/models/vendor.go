package models

import (
	"time"

	"github.com/google/uuid"
)

// Billing model values
const (
	BillingModelTrial    = "trial"
	BillingModelStandard = "standard"
)

// Billing status values. Transitions are monotonic trial -> active -> suspended,
// except the downgrade path which keeps the vendor active.
const (
	BillingStatusTrial     = "trial"
	BillingStatusActive    = "active"
	BillingStatusSuspended = "suspended"
)

// Card status values
const (
	CardStatusSaved    = "saved"
	CardStatusNotSaved = "not_saved"
)

// Billing interval values
const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// Vendor is the billing view of a marketplace vendor. Charge-related fields
// are mutated only by the reconciliation engine; tier/downgrade fields are
// also written by the customer-facing upgrade/downgrade mutations.
type Vendor struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	Name                  string          `json:"name" db:"name"`
	InternalEmail         *string         `json:"internal_email" db:"internal_email"`
	ContactEmail          *string         `json:"contact_email" db:"contact_email"`
	BillingModel          string          `json:"billing_model" db:"billing_model"`
	BillingStatus         string          `json:"billing_status" db:"billing_status"`
	SubscriptionTier      string          `json:"subscription_tier" db:"subscription_tier"`
	BillingInterval       string          `json:"billing_interval" db:"billing_interval"`
	TrialEndsAt           *time.Time      `json:"trial_ends_at" db:"trial_ends_at"`
	SubscriptionExpiresAt *time.Time      `json:"subscription_expires_at" db:"subscription_expires_at"`
	LastBilledAt          *time.Time      `json:"last_billed_at" db:"last_billed_at"`
	StripeCustomerID      *string         `json:"stripe_customer_id" db:"stripe_customer_id"`
	StripePaymentMethodID *string         `json:"stripe_payment_method_id" db:"stripe_payment_method_id"`
	StripeAccountID       *string         `json:"stripe_account_id" db:"stripe_account_id"`
	CardStatus            string          `json:"card_status" db:"card_status"`
	FailedPaymentAttempts int             `json:"failed_payment_attempts" db:"failed_payment_attempts"`
	NextRetryAt           *time.Time      `json:"next_retry_at" db:"next_retry_at"`
	LastPaymentAttemptAt  *time.Time      `json:"last_payment_attempt_at" db:"last_payment_attempt_at"`
	Waived                bool            `json:"waived" db:"waived"`
	WaivedUntil           *time.Time      `json:"waived_until" db:"waived_until"`
	DiscountPercent       float64         `json:"discount_percent" db:"discount_percent"`
	PendingDowngradeTo    *string         `json:"pending_downgrade_to" db:"pending_downgrade_to"`
	DowngradeEffectiveAt  *time.Time      `json:"downgrade_effective_at" db:"downgrade_effective_at"`
	PayoutsBlocked        bool            `json:"payouts_blocked" db:"payouts_blocked"`
	PaymentStatus         *string         `json:"payment_status" db:"payment_status"`
	MonthlyCostCents      int64           `json:"monthly_cost_cents" db:"monthly_cost_cents"`
	BillingHistory        []BillingRecord `json:"billing_history" db:"billing_history"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// HasPaymentMethod reports whether the vendor can be charged at all.
func (v *Vendor) HasPaymentMethod() bool {
	return v.CardStatus == CardStatusSaved &&
		v.StripePaymentMethodID != nil && *v.StripePaymentMethodID != "" &&
		v.StripeCustomerID != nil && *v.StripeCustomerID != ""
}

// WaiverActive reports whether billing is currently waived for the vendor.
func (v *Vendor) WaiverActive(now time.Time) bool {
	return v.Waived && v.WaivedUntil != nil && v.WaivedUntil.After(now)
}

// BillingRecord is one entry in a vendor's append-only billing audit trail.
// Records are immutable once appended.
type BillingRecord struct {
	ID                    uuid.UUID `json:"id"`
	Date                  time.Time `json:"date"`
	AmountCents           int64     `json:"amount_cents"`
	Currency              string    `json:"currency"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
	BillingStatus         string    `json:"billing_status"` // "success" or "failed"
	StripePaymentIntentID *string   `json:"stripe_payment_intent_id,omitempty"`
	Error                 *string   `json:"error,omitempty"`
}

// Billing record status values
const (
	BillingRecordSuccess = "success"
	BillingRecordFailed  = "failed"
)
