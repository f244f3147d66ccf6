package services

import (
	"context"
	"log"
	"time"

	"marketbill/internal/caching"
	"marketbill/internal/models"
	"marketbill/internal/repositories"
)

// FeeService resolves the fee schedule used by every reconciliation pass.
// The schedule is loaded once per run, cache-first with a TTL.
type FeeService interface {
	LoadSchedule(ctx context.Context) *models.FeeSchedule
	RefreshSchedule(ctx context.Context) error
}

const feeScheduleTTL = 15 * time.Minute

type feeService struct {
	feeRepo  repositories.FeeRepository
	cacheSvc caching.CacheService
	nowFn    func() time.Time
}

func NewFeeService(feeRepo repositories.FeeRepository, cacheSvc caching.CacheService) FeeService {
	return &feeService{
		feeRepo:  feeRepo,
		cacheSvc: cacheSvc,
		nowFn:    time.Now,
	}
}

// LoadSchedule returns the current fee schedule, or nil when neither the
// cache nor the store can provide one. A nil schedule degrades every amount
// lookup to zero, which downstream treats as "no charge due".
func (s *feeService) LoadSchedule(ctx context.Context) *models.FeeSchedule {
	if s.cacheSvc != nil {
		cached, err := s.cacheSvc.GetFeeSchedule(ctx)
		if err != nil {
			log.Printf("WARN: fee schedule cache read failed: %v", err)
		} else if cached != nil {
			return cached
		}
	}

	entries, err := s.feeRepo.LoadSchedule(ctx)
	if err != nil {
		log.Printf("ERROR: fee schedule load failed, amounts degrade to zero: %v", err)
		return nil
	}
	if len(entries) == 0 {
		log.Printf("ERROR: fee schedule is empty, amounts degrade to zero")
		return nil
	}

	schedule := &models.FeeSchedule{Entries: entries, Loaded: s.nowFn()}
	if s.cacheSvc != nil {
		if err := s.cacheSvc.SetFeeSchedule(ctx, schedule, feeScheduleTTL); err != nil {
			log.Printf("WARN: fee schedule cache write failed: %v", err)
		}
	}
	return schedule
}

// RefreshSchedule drops the cached schedule and reloads it from the store.
func (s *feeService) RefreshSchedule(ctx context.Context) error {
	if s.cacheSvc != nil {
		if err := s.cacheSvc.InvalidateFeeSchedule(ctx); err != nil {
			log.Printf("WARN: fee schedule cache invalidation failed: %v", err)
		}
	}

	entries, err := s.feeRepo.LoadSchedule(ctx)
	if err != nil {
		return err
	}

	schedule := &models.FeeSchedule{Entries: entries, Loaded: s.nowFn()}
	if s.cacheSvc != nil {
		return s.cacheSvc.SetFeeSchedule(ctx, schedule, feeScheduleTTL)
	}
	return nil
}
