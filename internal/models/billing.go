package models

import (
	"time"

	"github.com/google/uuid"
)

// FeeEntry is one row of the fee schedule: the fixed charge for a
// (tier, interval) combination.
type FeeEntry struct {
	Tier        string `json:"tier" db:"tier"`
	Interval    string `json:"interval" db:"interval"`
	AmountCents int64  `json:"amount_cents" db:"amount_cents"`
	Currency    string `json:"currency" db:"currency"`
}

// FeeSchedule maps (tier, interval) to the fixed fee charged per period.
// A nil schedule is the degraded mode after a failed config load: every
// lookup returns zero, which downstream treats as "no charge due".
type FeeSchedule struct {
	Entries []FeeEntry `json:"entries"`
	Loaded  time.Time  `json:"loaded"`
}

// AmountCents returns the fixed fee for the tier/interval pair, or 0 when
// the schedule is nil or has no matching entry.
func (s *FeeSchedule) AmountCents(tier, interval string) int64 {
	if s == nil {
		return 0
	}
	for _, e := range s.Entries {
		if e.Tier == tier && e.Interval == interval {
			return e.AmountCents
		}
	}
	return 0
}

// Currency returns the currency for the tier/interval pair, defaulting to
// "usd" when the schedule is nil or has no matching entry.
func (s *FeeSchedule) Currency(tier, interval string) string {
	if s != nil {
		for _, e := range s.Entries {
			if e.Tier == tier && e.Interval == interval && e.Currency != "" {
				return e.Currency
			}
		}
	}
	return "usd"
}

// PassSummary aggregates per-vendor outcomes for one reconciliation pass.
type PassSummary struct {
	Name       string `json:"name"`
	Candidates int    `json:"candidates"`
	Charged    int    `json:"charged"`
	Waived     int    `json:"waived"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Suspended  int    `json:"suspended"`
	Downgraded int    `json:"downgraded"`
	Errors     int    `json:"errors"`
}

// BillingRunSummary is the operational record of one engine run. It is
// logged and archived; it is not part of any vendor's state.
type BillingRunSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Passes     []PassSummary `json:"passes"`
}
