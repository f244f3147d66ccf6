package repositories

import (
	"context"
	"testing"
	"time"

	"marketbill/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type VendorRepoTestSuite struct {
	suite.Suite
	mock     pgxmock.PgxPoolIface
	repo     VendorRepository
	vendorID uuid.UUID
	now      time.Time
	context  context.Context
}

func (suite *VendorRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewVendorRepo(mock)
	suite.vendorID = uuid.New()
	suite.now = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	suite.context = context.Background()
}

func (suite *VendorRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestVendorRepoTestSuite(t *testing.T) {
	suite.Run(t, new(VendorRepoTestSuite))
}

var vendorRowColumns = []string{
	"id", "name", "internal_email", "contact_email", "billing_model", "billing_status",
	"subscription_tier", "billing_interval", "trial_ends_at", "subscription_expires_at", "last_billed_at",
	"stripe_customer_id", "stripe_payment_method_id", "stripe_account_id", "card_status",
	"failed_payment_attempts", "next_retry_at", "last_payment_attempt_at", "waived", "waived_until",
	"discount_percent", "pending_downgrade_to", "downgrade_effective_at", "payouts_blocked",
	"payment_status", "monthly_cost_cents", "billing_history", "created_at", "updated_at",
}

func (suite *VendorRepoTestSuite) vendorRow(id uuid.UUID) *pgxmock.Rows {
	email := "ops@vendor.test"
	customerID := "cus_123"
	paymentMethodID := "pm_123"
	accountID := "acct_123"
	expires := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	return pgxmock.NewRows(vendorRowColumns).AddRow(
		id, "Test Vendor", &email, (*string)(nil), "standard", "active",
		"basic", "monthly", (*time.Time)(nil), &expires, (*time.Time)(nil),
		&customerID, &paymentMethodID, &accountID, "saved",
		0, (*time.Time)(nil), (*time.Time)(nil), false, (*time.Time)(nil),
		float64(0), (*string)(nil), (*time.Time)(nil), false,
		(*string)(nil), int64(9900), []models.BillingRecord{}, suite.now, suite.now,
	)
}

func (suite *VendorRepoTestSuite) TestGetByID_Success() {
	suite.mock.ExpectQuery(`SELECT (.+) FROM vendors WHERE id = \$1`).
		WithArgs(suite.vendorID).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendor, err := suite.repo.GetByID(suite.context, suite.vendorID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.vendorID, vendor.ID)
	assert.Equal(suite.T(), "basic", vendor.SubscriptionTier)
	assert.True(suite.T(), vendor.HasPaymentMethod())
}

func (suite *VendorRepoTestSuite) TestGetByID_NotFound() {
	suite.mock.ExpectQuery(`SELECT (.+) FROM vendors WHERE id = \$1`).
		WithArgs(suite.vendorID).
		WillReturnError(pgx.ErrNoRows)

	vendor, err := suite.repo.GetByID(suite.context, suite.vendorID)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), vendor)
}

func (suite *VendorRepoTestSuite) TestListTrialExpiredWithCard() {
	suite.mock.ExpectQuery(`billing_model = 'trial' AND billing_status = 'trial'`).
		WithArgs(suite.now).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendors, err := suite.repo.ListTrialExpiredWithCard(suite.context, suite.now)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), vendors, 1)
	assert.Equal(suite.T(), suite.vendorID, vendors[0].ID)
}

func (suite *VendorRepoTestSuite) TestListTrialExpiredWithoutCard() {
	suite.mock.ExpectQuery(`card_status IS DISTINCT FROM 'saved' OR stripe_payment_method_id IS NULL`).
		WithArgs(suite.now).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendors, err := suite.repo.ListTrialExpiredWithoutCard(suite.context, suite.now)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), vendors, 1)
}

func (suite *VendorRepoTestSuite) TestListDueRenewals_AppliesLookahead() {
	suite.mock.ExpectQuery(`subscription_expires_at IS NOT NULL AND subscription_expires_at <= \$1`).
		WithArgs(suite.now.Add(3 * 24 * time.Hour)).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendors, err := suite.repo.ListDueRenewals(suite.context, suite.now)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), vendors, 1)
}

func (suite *VendorRepoTestSuite) TestListRetryDue() {
	suite.mock.ExpectQuery(`failed_payment_attempts > 0 AND failed_payment_attempts < 3`).
		WithArgs(suite.now).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendors, err := suite.repo.ListRetryDue(suite.context, suite.now)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), vendors, 1)
}

func (suite *VendorRepoTestSuite) TestListPendingDowngrades() {
	suite.mock.ExpectQuery(`pending_downgrade_to IS NOT NULL`).
		WithArgs(suite.now).
		WillReturnRows(suite.vendorRow(suite.vendorID))

	vendors, err := suite.repo.ListPendingDowngrades(suite.context, suite.now)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), vendors, 1)
}

func (suite *VendorRepoTestSuite) TestPatchFields_SetAndRemove() {
	suite.mock.ExpectExec(`UPDATE vendors SET updated_at = NOW\(\), updated_by = \$1, billing_status = \$2, next_retry_at = NULL WHERE id = \$3`).
		WithArgs("billing-engine", "suspended", suite.vendorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	patches := []FieldPatch{
		{Op: OpSet, Path: "billing_status", Value: "suspended"},
		{Op: OpRemove, Path: "next_retry_at"},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.NoError(suite.T(), err)
}

func (suite *VendorRepoTestSuite) TestPatchFields_HistoryAppend() {
	suite.mock.ExpectExec(`billing_history = COALESCE\(billing_history, '\[\]'::jsonb\) \|\| \$2::jsonb`).
		WithArgs("billing-engine", pgxmock.AnyArg(), suite.vendorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	record := models.BillingRecord{ID: uuid.New(), Date: suite.now, AmountCents: 9900, Currency: "usd", BillingStatus: "success"}
	patches := []FieldPatch{
		{Op: OpAdd, Path: "billing_history", Value: record},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.NoError(suite.T(), err)
}

func (suite *VendorRepoTestSuite) TestPatchFields_HistorySetEncodesJSON() {
	suite.mock.ExpectExec(`billing_history = \$2::jsonb`).
		WithArgs("billing-engine", pgxmock.AnyArg(), suite.vendorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	patches := []FieldPatch{
		{Op: OpSet, Path: "billing_history", Value: []models.BillingRecord{{ID: uuid.New()}}},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.NoError(suite.T(), err)
}

func (suite *VendorRepoTestSuite) TestPatchFields_RejectsUnknownColumn() {
	patches := []FieldPatch{
		{Op: OpSet, Path: "name", Value: "hijacked"},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "not patchable")
}

func (suite *VendorRepoTestSuite) TestPatchFields_RejectsAddOnOtherColumns() {
	patches := []FieldPatch{
		{Op: OpAdd, Path: "billing_status", Value: "active"},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.Error(suite.T(), err)
}

func (suite *VendorRepoTestSuite) TestPatchFields_EmptyPatches() {
	err := suite.repo.PatchFields(suite.context, suite.vendorID, nil, "billing-engine")
	assert.Error(suite.T(), err)
}

func (suite *VendorRepoTestSuite) TestPatchFields_VendorMissing() {
	suite.mock.ExpectExec(`UPDATE vendors SET`).
		WithArgs("billing-engine", "active", suite.vendorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	patches := []FieldPatch{
		{Op: OpSet, Path: "billing_status", Value: "active"},
	}
	err := suite.repo.PatchFields(suite.context, suite.vendorID, patches, "billing-engine")
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "not found")
}
