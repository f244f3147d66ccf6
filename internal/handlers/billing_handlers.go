package handlers

import (
	"net/http"

	"marketbill/internal/repositories"
	"marketbill/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// BillingHandlers exposes the ops surface of the reconciliation engine:
// a manual run trigger and read-only billing views.
type BillingHandlers struct {
	billingSvc services.BillingService
	feeSvc     services.FeeService
	vendorRepo repositories.VendorRepository
}

func NewBillingHandlers(billingSvc services.BillingService, feeSvc services.FeeService, vendorRepo repositories.VendorRepository) *BillingHandlers {
	return &BillingHandlers{
		billingSvc: billingSvc,
		feeSvc:     feeSvc,
		vendorRepo: vendorRepo,
	}
}

// TriggerRun runs a reconciliation synchronously and returns the summary.
// The engine's cooldown guard and idempotency keys make a manual trigger
// safe next to the scheduled run.
func (h *BillingHandlers) TriggerRun(c echo.Context) error {
	summary, err := h.billingSvc.Run(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "billing run failed")
	}
	return c.JSON(http.StatusOK, summary)
}

// GetVendor returns the billing view of one vendor.
func (h *BillingHandlers) GetVendor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid vendor id")
	}

	vendor, err := h.vendorRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "vendor not found")
	}
	return c.JSON(http.StatusOK, vendor)
}

// GetFeeSchedule returns the fee schedule the engine is currently using.
func (h *BillingHandlers) GetFeeSchedule(c echo.Context) error {
	schedule := h.feeSvc.LoadSchedule(c.Request().Context())
	if schedule == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fee schedule unavailable")
	}
	return c.JSON(http.StatusOK, schedule)
}
