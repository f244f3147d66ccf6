package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketbill/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the subset of pgxpool.Pool the repositories use. pgxmock
// satisfies it in tests.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Patch operation kinds for PatchFields.
const (
	OpSet    = "set"
	OpRemove = "remove"
	OpAdd    = "add"
)

// FieldPatch is one field-scoped write against a vendor record. Set writes
// a value, remove nulls the column, add appends to the billing history.
type FieldPatch struct {
	Op    string
	Path  string
	Value any
}

// VendorRepository selects reconciliation candidates and applies
// field-scoped patches to vendor records.
type VendorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	ListTrialExpiredWithCard(ctx context.Context, now time.Time) ([]*models.Vendor, error)
	ListTrialExpiredWithoutCard(ctx context.Context, now time.Time) ([]*models.Vendor, error)
	ListDueRenewals(ctx context.Context, now time.Time) ([]*models.Vendor, error)
	ListRetryDue(ctx context.Context, now time.Time) ([]*models.Vendor, error)
	ListPendingDowngrades(ctx context.Context, now time.Time) ([]*models.Vendor, error)
	PatchFields(ctx context.Context, id uuid.UUID, patches []FieldPatch, actor string) error
}

type vendorRepo struct {
	db Database
}

func NewVendorRepo(db Database) VendorRepository {
	return &vendorRepo{db: db}
}

// renewalLookahead absorbs scheduling jitter: the job runs twice daily, so
// renewals due within the next three days are picked up early.
const renewalLookahead = 3 * 24 * time.Hour

const vendorColumns = `id, name, internal_email, contact_email, billing_model, billing_status,
		subscription_tier, billing_interval, trial_ends_at, subscription_expires_at, last_billed_at,
		stripe_customer_id, stripe_payment_method_id, stripe_account_id, card_status,
		failed_payment_attempts, next_retry_at, last_payment_attempt_at, waived, waived_until,
		discount_percent, pending_downgrade_to, downgrade_effective_at, payouts_blocked,
		payment_status, monthly_cost_cents, billing_history, created_at, updated_at`

// patchableColumns is the whitelist of columns PatchFields may touch.
var patchableColumns = map[string]bool{
	"billing_status":          true,
	"subscription_tier":       true,
	"billing_interval":        true,
	"trial_ends_at":           true,
	"subscription_expires_at": true,
	"last_billed_at":          true,
	"card_status":             true,
	"failed_payment_attempts": true,
	"next_retry_at":           true,
	"last_payment_attempt_at": true,
	"waived":                  true,
	"waived_until":            true,
	"discount_percent":        true,
	"pending_downgrade_to":    true,
	"downgrade_effective_at":  true,
	"payouts_blocked":         true,
	"payment_status":          true,
	"monthly_cost_cents":      true,
	"billing_history":         true,
}

func (r *vendorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	query := fmt.Sprintf(`SELECT %s FROM vendors WHERE id = $1`, vendorColumns)
	return scanVendor(r.db.QueryRow(ctx, query, id))
}

func (r *vendorRepo) ListTrialExpiredWithCard(ctx context.Context, now time.Time) ([]*models.Vendor, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vendors
		WHERE billing_model = 'trial' AND billing_status = 'trial'
			AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
			AND card_status = 'saved' AND stripe_payment_method_id IS NOT NULL
		ORDER BY trial_ends_at
	`, vendorColumns)
	return r.list(ctx, query, now)
}

func (r *vendorRepo) ListTrialExpiredWithoutCard(ctx context.Context, now time.Time) ([]*models.Vendor, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vendors
		WHERE billing_model = 'trial' AND billing_status = 'trial'
			AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
			AND (card_status IS DISTINCT FROM 'saved' OR stripe_payment_method_id IS NULL)
		ORDER BY trial_ends_at
	`, vendorColumns)
	return r.list(ctx, query, now)
}

func (r *vendorRepo) ListDueRenewals(ctx context.Context, now time.Time) ([]*models.Vendor, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vendors
		WHERE billing_status = 'active'
			AND subscription_expires_at IS NOT NULL AND subscription_expires_at <= $1
			AND failed_payment_attempts = 0
			AND stripe_payment_method_id IS NOT NULL
		ORDER BY subscription_expires_at
	`, vendorColumns)
	return r.list(ctx, query, now.Add(renewalLookahead))
}

func (r *vendorRepo) ListRetryDue(ctx context.Context, now time.Time) ([]*models.Vendor, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vendors
		WHERE failed_payment_attempts > 0 AND failed_payment_attempts < 3
			AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			AND stripe_payment_method_id IS NOT NULL
		ORDER BY next_retry_at
	`, vendorColumns)
	return r.list(ctx, query, now)
}

func (r *vendorRepo) ListPendingDowngrades(ctx context.Context, now time.Time) ([]*models.Vendor, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vendors
		WHERE pending_downgrade_to IS NOT NULL
			AND downgrade_effective_at IS NOT NULL AND downgrade_effective_at <= $1
		ORDER BY downgrade_effective_at
	`, vendorColumns)
	return r.list(ctx, query, now)
}

// PatchFields applies field-scoped writes in a single UPDATE. The billing
// history column is special-cased: a set write replaces the array (first
// entry) while an add write appends, preserving prior entries.
func (r *vendorRepo) PatchFields(ctx context.Context, id uuid.UUID, patches []FieldPatch, actor string) error {
	if len(patches) == 0 {
		return fmt.Errorf("no patches for vendor %s", id)
	}

	assignments := []string{"updated_at = NOW()", "updated_by = $1"}
	args := []any{actor}
	idx := 2

	for _, p := range patches {
		if !patchableColumns[p.Path] {
			return fmt.Errorf("column %q is not patchable", p.Path)
		}

		switch p.Op {
		case OpRemove:
			assignments = append(assignments, fmt.Sprintf("%s = NULL", p.Path))
		case OpSet:
			value := p.Value
			if p.Path == "billing_history" {
				encoded, err := json.Marshal(value)
				if err != nil {
					return fmt.Errorf("failed to encode billing history: %v", err)
				}
				value = encoded
				assignments = append(assignments, fmt.Sprintf("%s = $%d::jsonb", p.Path, idx))
			} else {
				assignments = append(assignments, fmt.Sprintf("%s = $%d", p.Path, idx))
			}
			args = append(args, value)
			idx++
		case OpAdd:
			if p.Path != "billing_history" {
				return fmt.Errorf("add op only supported for billing_history, got %q", p.Path)
			}
			encoded, err := json.Marshal(p.Value)
			if err != nil {
				return fmt.Errorf("failed to encode billing history entry: %v", err)
			}
			assignments = append(assignments,
				fmt.Sprintf("billing_history = COALESCE(billing_history, '[]'::jsonb) || $%d::jsonb", idx))
			args = append(args, encoded)
			idx++
		default:
			return fmt.Errorf("unknown patch op %q", p.Op)
		}
	}

	query := fmt.Sprintf("UPDATE vendors SET %s WHERE id = $%d", strings.Join(assignments, ", "), idx)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vendor %s not found", id)
	}
	return nil
}

func (r *vendorRepo) list(ctx context.Context, query string, args ...any) ([]*models.Vendor, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vendors []*models.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, vendor)
	}
	return vendors, rows.Err()
}

func scanVendor(row pgx.Row) (*models.Vendor, error) {
	vendor := &models.Vendor{}
	err := row.Scan(
		&vendor.ID, &vendor.Name, &vendor.InternalEmail, &vendor.ContactEmail,
		&vendor.BillingModel, &vendor.BillingStatus, &vendor.SubscriptionTier, &vendor.BillingInterval,
		&vendor.TrialEndsAt, &vendor.SubscriptionExpiresAt, &vendor.LastBilledAt,
		&vendor.StripeCustomerID, &vendor.StripePaymentMethodID, &vendor.StripeAccountID,
		&vendor.CardStatus, &vendor.FailedPaymentAttempts, &vendor.NextRetryAt,
		&vendor.LastPaymentAttemptAt, &vendor.Waived, &vendor.WaivedUntil,
		&vendor.DiscountPercent, &vendor.PendingDowngradeTo, &vendor.DowngradeEffectiveAt,
		&vendor.PayoutsBlocked, &vendor.PaymentStatus, &vendor.MonthlyCostCents,
		&vendor.BillingHistory, &vendor.CreatedAt, &vendor.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return vendor, nil
}
