/*
scheduler.go - Automatic bill generation

PURPOSE:
  Periodically generates the next lot for active societies that opted into
  auto billing, once the next billing cycle has started.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Next cycle starts the day after the latest published run's PeriodTo
    and spans BillFrequencyMonths of the policy in force on that day
  - A society with no published run is skipped; the first lot is manual
  - A lot published concurrently by an operator is skipped quietly
  - Failures are logged per society; one society never blocks another

USAGE:
  scheduler := NewBillingScheduler(store, generator, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CreateRun endpoint (manual generation)
  - billing/generator.go: Generator
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
	"github.com/warp/society-billing/logger"
)

// SchedulerStore is what the scheduler reads.
type SchedulerStore interface {
	ListSocieties(ctx context.Context) ([]billing.Society, error)
	LatestPublishedRun(ctx context.Context, societyID billing.SocietyID) (*billing.BillingRun, error)
	GetPolicyConfiguration(ctx context.Context, societyID billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error)
}

// SchedulerReport summarizes one check.
type SchedulerReport struct {
	Generated int
	Skipped   int
	Failed    int
}

// BillingScheduler generates due lots in the background.
type BillingScheduler struct {
	Store         SchedulerStore
	Generator     *billing.Generator
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(store SchedulerStore, gen *billing.Generator, log *zap.Logger) *BillingScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingScheduler{
		Store:         store,
		Generator:     gen,
		Logger:        log.Named("scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *BillingScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *BillingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("scheduler stopped")
}

func (s *BillingScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one check synchronously.
func (s *BillingScheduler) RunNow(ctx context.Context) SchedulerReport {
	var report SchedulerReport
	today := generic.FromTime(s.now())

	societies, err := s.Store.ListSocieties(ctx)
	if err != nil {
		s.Logger.Error("failed to list societies", zap.Error(err))
		return report
	}

	for _, soc := range societies {
		if ctx.Err() != nil {
			break
		}
		if soc.State != billing.StateActive || !soc.AutoBilling {
			continue
		}
		generated, err := s.processSociety(ctx, soc.ID, today)
		switch {
		case err != nil:
			report.Failed++
			s.Logger.Error("auto billing failed", zap.String("society_id", string(soc.ID)), zap.Error(err))
		case generated:
			report.Generated++
		default:
			report.Skipped++
		}
	}

	if report.Generated > 0 || report.Failed > 0 {
		s.Logger.Info("auto billing check completed",
			zap.Int("generated", report.Generated),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}

func (s *BillingScheduler) processSociety(ctx context.Context, id billing.SocietyID, today generic.TimePoint) (bool, error) {
	latest, err := s.Store.LatestPublishedRun(ctx, id)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}

	from := latest.PeriodTo.AddDays(1)
	if today.Before(from) {
		return false, nil
	}

	policy, err := s.Store.GetPolicyConfiguration(ctx, id, from)
	if err != nil {
		if generic.IsNotFound(err) {
			s.Logger.Warn("no policy in force for next cycle",
				zap.String("society_id", string(id)),
				zap.Stringer("period_from", from),
			)
			return false, nil
		}
		return false, err
	}
	months := policy.BillFrequencyMonths
	if months <= 0 {
		months = 1
	}
	period := generic.NewMonthlyPeriod(from, months)

	_, err = s.Generator.Generate(logger.WithContext(ctx, s.Logger), billing.GenerateRequest{
		SocietyID:  id,
		BillLot:    latest.BillLot + 1,
		BillDate:   from,
		PeriodFrom: period.Start,
		PeriodTo:   period.End,
	})
	if errors.Is(err, generic.ErrDuplicateLot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BillingScheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
