package background

import (
	"context"
	"log"
	"sync"
	"time"

	"marketbill/internal/services"

	"github.com/go-co-op/gocron/v2"
)

// JobScheduler manages the recurring billing jobs.
type JobScheduler struct {
	scheduler  gocron.Scheduler
	billingSvc services.BillingService
	feeSvc     services.FeeService
	jobs       map[string]gocron.Job
	mu         sync.RWMutex
}

// NewJobScheduler creates the scheduler and registers the billing jobs.
func NewJobScheduler(billingSvc services.BillingService, feeSvc services.FeeService) *JobScheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:  scheduler,
		billingSvc: billingSvc,
		feeSvc:     feeSvc,
		jobs:       make(map[string]gocron.Job),
	}

	js.registerJobs()

	return js
}

// Start starts the job scheduler.
func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop stops the job scheduler.
func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs() {
	// Billing reconciliation - twice daily. Singleton mode guards against
	// a run outliving its slot; idempotency keys and the cooldown guard
	// cover anything that slips through.
	billingJob, err := js.scheduler.NewJob(
		gocron.CronJob("0 6,18 * * *", false),
		gocron.NewTask(js.runBillingReconciliation, context.Background()),
		gocron.WithName("billing-reconciliation"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create billing reconciliation job: %v", err)
	} else {
		js.jobs["billing-reconciliation"] = billingJob
	}

	// Fee schedule cache warm - every 6 hours.
	feeJob, err := js.scheduler.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(js.refreshFeeSchedule, context.Background()),
		gocron.WithName("fee-schedule-refresh"),
	)
	if err != nil {
		log.Printf("Failed to create fee schedule refresh job: %v", err)
	} else {
		js.jobs["fee-schedule-refresh"] = feeJob
	}

	log.Printf("Registered %d background jobs", len(js.jobs))
}

func (js *JobScheduler) runBillingReconciliation(ctx context.Context) error {
	log.Printf("Starting scheduled billing reconciliation")

	summary, err := js.billingSvc.Run(ctx)
	if err != nil {
		log.Printf("Billing reconciliation failed: %v", err)
		return err
	}

	log.Printf("Billing reconciliation %s finished in %s across %d passes",
		summary.RunID, summary.FinishedAt.Sub(summary.StartedAt), len(summary.Passes))
	return nil
}

func (js *JobScheduler) refreshFeeSchedule(ctx context.Context) error {
	if err := js.feeSvc.RefreshSchedule(ctx); err != nil {
		log.Printf("Fee schedule refresh failed: %v", err)
		return err
	}
	log.Printf("Fee schedule cache refreshed")
	return nil
}

// GetJobStatus returns information about scheduled jobs.
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	names := make([]string, 0, len(js.jobs))
	for name := range js.jobs {
		names = append(names, name)
	}

	return map[string]interface{}{
		"total_jobs": len(js.jobs),
		"jobs":       names,
	}
}
