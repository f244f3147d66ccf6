package repositories

import (
	"context"

	"marketbill/internal/models"
)

// FeeRepository loads the fee schedule configuration.
type FeeRepository interface {
	LoadSchedule(ctx context.Context) ([]models.FeeEntry, error)
}

type feeRepo struct {
	db Database
}

func NewFeeRepo(db Database) FeeRepository {
	return &feeRepo{db: db}
}

func (r *feeRepo) LoadSchedule(ctx context.Context) ([]models.FeeEntry, error) {
	query := `
		SELECT tier, billing_interval, amount_cents, currency
		FROM billing_fees
		ORDER BY tier, billing_interval
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.FeeEntry
	for rows.Next() {
		var entry models.FeeEntry
		if err := rows.Scan(&entry.Tier, &entry.Interval, &entry.AmountCents, &entry.Currency); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
