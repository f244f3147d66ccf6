package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"marketbill/internal/models"
	"marketbill/internal/repositories"

	"github.com/google/uuid"
)

// BillingService is the scheduled reconciliation engine. One Run walks
// vendor subscription records through trial expiry, renewal, retry and
// downgrade transitions in five fixed-order passes.
type BillingService interface {
	Run(ctx context.Context) (*models.BillingRunSummary, error)
}

const (
	maxPaymentAttempts = 3
	paymentCooldown    = time.Hour
	billingActor       = "billing-engine"
)

type chargeKind string

const (
	chargeTrial   chargeKind = "trial_first_billing"
	chargeRenewal chargeKind = "renewal"
	chargeRetry   chargeKind = "retry"
)

type billingService struct {
	vendorRepo repositories.VendorRepository
	feeSvc     FeeService
	paymentSvc PaymentService
	notifySvc  NotificationService
	reportSvc  ReportService
	nowFn      func() time.Time
}

// NewBillingService wires the reconciliation engine. reportSvc may be nil;
// run summaries are then only logged.
func NewBillingService(
	vendorRepo repositories.VendorRepository,
	feeSvc FeeService,
	paymentSvc PaymentService,
	notifySvc NotificationService,
	reportSvc ReportService,
) BillingService {
	return &billingService{
		vendorRepo: vendorRepo,
		feeSvc:     feeSvc,
		paymentSvc: paymentSvc,
		notifySvc:  notifySvc,
		reportSvc:  reportSvc,
		nowFn:      time.Now,
	}
}

// Run executes the five passes in fixed order. Vendors within a pass are
// processed sequentially; a failure on one vendor is logged and never
// aborts the rest of the pass.
func (s *billingService) Run(ctx context.Context) (*models.BillingRunSummary, error) {
	summary := &models.BillingRunSummary{
		RunID:     uuid.New(),
		StartedAt: s.nowFn(),
	}

	// One schedule load feeds all passes.
	schedule := s.feeSvc.LoadSchedule(ctx)
	if schedule == nil {
		log.Printf("WARN: running without a fee schedule, all amounts resolve to zero")
	}

	passes := []struct {
		name    string
		list    func(context.Context, time.Time) ([]*models.Vendor, error)
		process func(context.Context, *models.Vendor, *models.FeeSchedule, *models.PassSummary) error
	}{
		{"trial-expired-with-card", s.vendorRepo.ListTrialExpiredWithCard, s.processTrialExpired},
		{"trial-expired-no-card", s.vendorRepo.ListTrialExpiredWithoutCard, s.processTrialExpiredNoCard},
		{"due-renewal", s.vendorRepo.ListDueRenewals, s.processRenewal},
		{"retry-due", s.vendorRepo.ListRetryDue, s.processRetry},
		{"pending-downgrade", s.vendorRepo.ListPendingDowngrades, s.processDowngrade},
	}

	for _, pass := range passes {
		ps := models.PassSummary{Name: pass.name}

		vendors, err := pass.list(ctx, s.nowFn())
		if err != nil {
			log.Printf("ERROR: pass %s candidate query failed: %v", pass.name, err)
			ps.Errors++
			summary.Passes = append(summary.Passes, ps)
			continue
		}

		ps.Candidates = len(vendors)
		log.Printf("Pass %s: %d candidates", pass.name, len(vendors))

		for _, vendor := range vendors {
			if err := s.processVendor(ctx, vendor, schedule, &ps, pass.process); err != nil {
				log.Printf("ERROR: pass %s vendor %s: %v", pass.name, vendor.ID, err)
				ps.Errors++
			}
		}

		log.Printf("Pass %s done: charged=%d waived=%d skipped=%d failed=%d suspended=%d downgraded=%d errors=%d",
			pass.name, ps.Charged, ps.Waived, ps.Skipped, ps.Failed, ps.Suspended, ps.Downgraded, ps.Errors)
		summary.Passes = append(summary.Passes, ps)
	}

	summary.FinishedAt = s.nowFn()

	if s.reportSvc != nil {
		if err := s.reportSvc.ArchiveRunSummary(ctx, summary); err != nil {
			log.Printf("WARN: failed to archive run summary %s: %v", summary.RunID, err)
		}
	}

	return summary, nil
}

// processVendor is the per-vendor isolation boundary: errors and panics
// from one vendor never stop the pass.
func (s *billingService) processVendor(
	ctx context.Context,
	vendor *models.Vendor,
	schedule *models.FeeSchedule,
	ps *models.PassSummary,
	fn func(context.Context, *models.Vendor, *models.FeeSchedule, *models.PassSummary) error,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing vendor %s: %v", vendor.ID, r)
		}
	}()
	return fn(ctx, vendor, schedule, ps)
}

func (s *billingService) processTrialExpired(ctx context.Context, vendor *models.Vendor, schedule *models.FeeSchedule, ps *models.PassSummary) error {
	return s.processCharge(ctx, vendor, schedule, ps, chargeTrial)
}

func (s *billingService) processRenewal(ctx context.Context, vendor *models.Vendor, schedule *models.FeeSchedule, ps *models.PassSummary) error {
	return s.processCharge(ctx, vendor, schedule, ps, chargeRenewal)
}

func (s *billingService) processRetry(ctx context.Context, vendor *models.Vendor, schedule *models.FeeSchedule, ps *models.PassSummary) error {
	return s.processCharge(ctx, vendor, schedule, ps, chargeRetry)
}

// processCharge is the shared transition flow for trial conversion,
// renewal and retry: waiver check, amount computation, cooldown guard,
// idempotent gateway charge, then outcome handling.
func (s *billingService) processCharge(ctx context.Context, vendor *models.Vendor, schedule *models.FeeSchedule, ps *models.PassSummary, kind chargeKind) error {
	now := s.nowFn()
	periodStart := s.periodStart(vendor, kind, now)
	periodEnd := advancePeriod(periodStart, vendor.BillingInterval)

	// Active waiver: extend the period with no charge.
	if vendor.WaiverActive(now) {
		patches := []repositories.FieldPatch{
			{Op: repositories.OpSet, Path: "subscription_expires_at", Value: periodEnd},
			{Op: repositories.OpSet, Path: "last_billed_at", Value: now},
		}
		if kind == chargeTrial {
			patches = append(patches, repositories.FieldPatch{Op: repositories.OpSet, Path: "billing_status", Value: models.BillingStatusActive})
		}
		if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
			return err
		}
		log.Printf("Vendor %s billing waived until %s, period extended to %s",
			vendor.ID, vendor.WaivedUntil.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
		ps.Waived++
		return nil
	}

	// Expired waiver: clear the flags and fall through to the charge logic
	// in the same run.
	var pending []repositories.FieldPatch
	if vendor.Waived {
		pending = append(pending,
			repositories.FieldPatch{Op: repositories.OpSet, Path: "waived", Value: false},
			repositories.FieldPatch{Op: repositories.OpRemove, Path: "waived_until"},
		)
	}

	fee := schedule.AmountCents(vendor.SubscriptionTier, vendor.BillingInterval)
	amount := applyDiscount(fee, vendor.DiscountPercent)
	if amount <= 0 {
		// Free period: advance without calling the gateway.
		patches := append(pending,
			repositories.FieldPatch{Op: repositories.OpSet, Path: "subscription_expires_at", Value: periodEnd},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "last_billed_at", Value: now},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "billing_status", Value: models.BillingStatusActive},
		)
		if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
			return err
		}
		log.Printf("Vendor %s owes nothing for %s/%s, advancing period to %s",
			vendor.ID, vendor.SubscriptionTier, vendor.BillingInterval, periodEnd.Format("2006-01-02"))
		ps.Waived++
		return nil
	}

	// Cooldown guard against overlapping job invocations.
	if vendor.LastPaymentAttemptAt != nil && now.Sub(*vendor.LastPaymentAttemptAt) < paymentCooldown {
		log.Printf("Vendor %s charged within the last hour, skipping this run", vendor.ID)
		ps.Skipped++
		return nil
	}

	if vendor.StripeCustomerID == nil || *vendor.StripeCustomerID == "" {
		return fmt.Errorf("vendor %s has no stripe customer id", vendor.ID)
	}
	if vendor.StripePaymentMethodID == nil || *vendor.StripePaymentMethodID == "" {
		return fmt.Errorf("vendor %s has no payment method id", vendor.ID)
	}

	result := s.paymentSvc.Charge(ctx, ChargeRequest{
		AmountCents:     amount,
		Currency:        schedule.Currency(vendor.SubscriptionTier, vendor.BillingInterval),
		CustomerID:      *vendor.StripeCustomerID,
		PaymentMethodID: *vendor.StripePaymentMethodID,
		IdempotencyKey:  idempotencyKey(kind, vendor.ID, periodStart, now),
		Metadata: map[string]string{
			"vendor_id":    vendor.ID.String(),
			"charge_kind":  string(kind),
			"period_start": periodStart.Format("2006-01-02"),
		},
	})

	return s.handleChargeOutcome(ctx, vendor, result, amount, schedule.Currency(vendor.SubscriptionTier, vendor.BillingInterval), periodStart, periodEnd, pending, ps)
}

// handleChargeOutcome interprets the gateway result, appends the audit
// record and applies the resulting state transition.
func (s *billingService) handleChargeOutcome(
	ctx context.Context,
	vendor *models.Vendor,
	result ChargeResult,
	amountCents int64,
	currency string,
	periodStart, periodEnd time.Time,
	pending []repositories.FieldPatch,
	ps *models.PassSummary,
) error {
	now := s.nowFn()

	record := models.BillingRecord{
		ID:          uuid.New(),
		Date:        now,
		AmountCents: amountCents,
		Currency:    currency,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	if result.PaymentIntentID != "" {
		intentID := result.PaymentIntentID
		record.StripePaymentIntentID = &intentID
	}

	if result.Status == ChargeSucceeded {
		record.BillingStatus = models.BillingRecordSuccess
		patches := append(pending,
			historyPatch(vendor, record),
			repositories.FieldPatch{Op: repositories.OpSet, Path: "failed_payment_attempts", Value: 0},
			repositories.FieldPatch{Op: repositories.OpRemove, Path: "next_retry_at"},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "payment_status", Value: "success"},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "payouts_blocked", Value: false},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "subscription_expires_at", Value: periodEnd},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "last_billed_at", Value: now},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "last_payment_attempt_at", Value: now},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "billing_status", Value: models.BillingStatusActive},
		)
		if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
			return err
		}

		if vendor.PayoutsBlocked {
			s.switchPayoutSchedule(ctx, vendor, PayoutIntervalDaily)
		}

		log.Printf("Vendor %s charged %d %s for period %s to %s",
			vendor.ID, amountCents, currency, periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
		ps.Charged++

		s.notify(ctx, vendor, EventPaymentSucceeded, map[string]any{
			"Amount":    formatAmount(amountCents),
			"Currency":  currency,
			"PeriodEnd": periodEnd.Format("2006-01-02"),
		})
		return nil
	}

	// Declined or network error: both are charge failures.
	record.BillingStatus = models.BillingRecordFailed
	if result.Reason != "" {
		reason := result.Reason
		record.Error = &reason
	}

	attempts := vendor.FailedPaymentAttempts + 1
	patches := append(pending,
		historyPatch(vendor, record),
		repositories.FieldPatch{Op: repositories.OpSet, Path: "failed_payment_attempts", Value: attempts},
		repositories.FieldPatch{Op: repositories.OpSet, Path: "payment_status", Value: "failed"},
		repositories.FieldPatch{Op: repositories.OpSet, Path: "last_payment_attempt_at", Value: now},
	)

	if attempts >= maxPaymentAttempts {
		patches = append(patches,
			repositories.FieldPatch{Op: repositories.OpSet, Path: "billing_status", Value: models.BillingStatusSuspended},
			repositories.FieldPatch{Op: repositories.OpSet, Path: "payouts_blocked", Value: true},
			repositories.FieldPatch{Op: repositories.OpRemove, Path: "next_retry_at"},
		)
		if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
			return err
		}

		s.switchPayoutSchedule(ctx, vendor, PayoutIntervalManual)

		log.Printf("Vendor %s suspended after %d failed payment attempts: %s", vendor.ID, attempts, result.Reason)
		ps.Failed++
		ps.Suspended++

		s.notify(ctx, vendor, EventPaymentFailedFinal, nil)
		s.notify(ctx, vendor, EventAccountSuspended, nil)
		return nil
	}

	nextRetry := nextRetryTime(attempts, now)
	patches = append(patches,
		repositories.FieldPatch{Op: repositories.OpSet, Path: "next_retry_at", Value: nextRetry},
	)
	if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
		return err
	}

	log.Printf("Vendor %s payment attempt %d failed (%s), retry scheduled for %s",
		vendor.ID, attempts, result.Reason, nextRetry.Format(time.RFC3339))
	ps.Failed++

	event := EventPaymentRetryFirst
	if attempts == 2 {
		event = EventPaymentRetrySecond
	}
	s.notify(ctx, vendor, event, map[string]any{
		"Amount":      formatAmount(amountCents),
		"Currency":    currency,
		"NextRetryAt": nextRetry.Format("2006-01-02 15:04"),
	})
	return nil
}

// processTrialExpiredNoCard suspends trial vendors that never saved a
// card. No charge is attempted.
func (s *billingService) processTrialExpiredNoCard(ctx context.Context, vendor *models.Vendor, _ *models.FeeSchedule, ps *models.PassSummary) error {
	patches := []repositories.FieldPatch{
		{Op: repositories.OpSet, Path: "billing_status", Value: models.BillingStatusSuspended},
		{Op: repositories.OpSet, Path: "payouts_blocked", Value: true},
	}
	if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
		return err
	}

	s.switchPayoutSchedule(ctx, vendor, PayoutIntervalManual)

	log.Printf("Vendor %s trial expired with no saved card, suspended", vendor.ID)
	ps.Suspended++

	vars := map[string]any{}
	if vendor.TrialEndsAt != nil {
		vars["TrialEndsAt"] = vendor.TrialEndsAt.Format("2006-01-02")
	}
	s.notify(ctx, vendor, EventTrialExpiredNoCard, vars)
	return nil
}

// processDowngrade applies a scheduled tier reduction. No charge path.
func (s *billingService) processDowngrade(ctx context.Context, vendor *models.Vendor, schedule *models.FeeSchedule, ps *models.PassSummary) error {
	if vendor.PendingDowngradeTo == nil || *vendor.PendingDowngradeTo == "" {
		return fmt.Errorf("vendor %s selected for downgrade without a pending tier", vendor.ID)
	}
	newTier := *vendor.PendingDowngradeTo
	monthlyCost := schedule.AmountCents(newTier, models.IntervalMonthly)

	patches := []repositories.FieldPatch{
		{Op: repositories.OpSet, Path: "subscription_tier", Value: newTier},
		{Op: repositories.OpSet, Path: "monthly_cost_cents", Value: monthlyCost},
		{Op: repositories.OpRemove, Path: "pending_downgrade_to"},
		{Op: repositories.OpRemove, Path: "downgrade_effective_at"},
	}
	if err := s.vendorRepo.PatchFields(ctx, vendor.ID, patches, billingActor); err != nil {
		return err
	}

	log.Printf("Vendor %s downgraded from %s to %s", vendor.ID, vendor.SubscriptionTier, newTier)
	ps.Downgraded++

	s.notify(ctx, vendor, EventSubscriptionDowngraded, map[string]any{"NewTier": newTier})
	return nil
}

// notify sends a transition email; failure never aborts the transition.
func (s *billingService) notify(ctx context.Context, vendor *models.Vendor, event string, vars map[string]any) {
	if err := s.notifySvc.NotifyVendor(ctx, vendor, event, vars); err != nil {
		log.Printf("WARN: %s notification for vendor %s failed: %v", event, vendor.ID, err)
	}
}

// switchPayoutSchedule is best-effort: a failed switch is logged, never
// escalated.
func (s *billingService) switchPayoutSchedule(ctx context.Context, vendor *models.Vendor, interval string) {
	if vendor.StripeAccountID == nil || *vendor.StripeAccountID == "" {
		return
	}
	if err := s.paymentSvc.UpdatePayoutSchedule(ctx, *vendor.StripeAccountID, interval); err != nil {
		log.Printf("WARN: payout schedule switch to %s failed for vendor %s: %v", interval, vendor.ID, err)
	}
}

// periodStart anchors the billing period being charged. Trials bill from
// the trial end; renewals and retries from the current expiry date.
func (s *billingService) periodStart(vendor *models.Vendor, kind chargeKind, now time.Time) time.Time {
	switch kind {
	case chargeTrial:
		if vendor.TrialEndsAt != nil {
			return *vendor.TrialEndsAt
		}
	default:
		if vendor.SubscriptionExpiresAt != nil {
			return *vendor.SubscriptionExpiresAt
		}
		if vendor.TrialEndsAt != nil {
			return *vendor.TrialEndsAt
		}
	}
	return now
}

// idempotencyKey is deterministic per vendor and period for trials and
// renewals. Retry keys include the attempt timestamp on purpose: each
// retry is a distinct charge attempt, not a replay.
func idempotencyKey(kind chargeKind, vendorID uuid.UUID, periodStart, now time.Time) string {
	day := periodStart.Format("2006-01-02")
	switch kind {
	case chargeTrial:
		return fmt.Sprintf("trial_first_billing_%s_%s", vendorID, day)
	case chargeRetry:
		return fmt.Sprintf("retry_%s_%s_%d", vendorID, day, now.UnixMilli())
	default:
		return fmt.Sprintf("renewal_%s_%s", vendorID, day)
	}
}

// historyPatch appends the record to the audit trail. The first entry uses
// a set write; the store has no append-if-absent primitive.
func historyPatch(vendor *models.Vendor, record models.BillingRecord) repositories.FieldPatch {
	if len(vendor.BillingHistory) == 0 {
		return repositories.FieldPatch{Op: repositories.OpSet, Path: "billing_history", Value: []models.BillingRecord{record}}
	}
	return repositories.FieldPatch{Op: repositories.OpAdd, Path: "billing_history", Value: record}
}

// nextRetryTime implements the fixed retry policy. First failure: same day
// at 15:00 when it happened before noon, otherwise next day at 07:00.
// Second failure: three days later at 07:00.
func nextRetryTime(attempt int, now time.Time) time.Time {
	switch attempt {
	case 1:
		if now.Hour() < 12 {
			return time.Date(now.Year(), now.Month(), now.Day(), 15, 0, 0, 0, now.Location())
		}
		next := now.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), 7, 0, 0, 0, now.Location())
	default:
		next := now.AddDate(0, 0, 3)
		return time.Date(next.Year(), next.Month(), next.Day(), 7, 0, 0, 0, now.Location())
	}
}

// advancePeriod moves a period boundary forward by one billing interval.
func advancePeriod(start time.Time, interval string) time.Time {
	if interval == models.IntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// applyDiscount reduces the raw tier amount by the vendor's discount.
func applyDiscount(amountCents int64, discountPercent float64) int64 {
	if discountPercent <= 0 {
		return amountCents
	}
	if discountPercent >= 100 {
		return 0
	}
	return int64(math.Round(float64(amountCents) * (1 - discountPercent/100)))
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
