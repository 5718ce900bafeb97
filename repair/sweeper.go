package repair

import (
	"context"
	"sync"
	"time"

	"argus/util/goroutine"

	"go.uber.org/zap"
)

// Sweeper runs consistency sweeps on a fixed interval.
type Sweeper struct {
	repairer *Repairer
	interval time.Duration
	logger   *zap.SugaredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a periodic sweeper. interval defaults to 5 minutes
// when non-positive.
func NewSweeper(repairer *Repairer, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		repairer: repairer,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs after one full
// interval, giving in-flight work from before a restart time to land.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Consistency sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Consistency sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	defer goroutine.Recover("consistency-sweeper", s.logger)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	report, err := s.repairer.Sweep(ctx)
	if err != nil {
		s.logger.Errorw("Consistency sweep failed", "error", err)
		return
	}
	if len(report.Actions) > 0 {
		s.logger.Infow("Consistency sweep finished",
			"repairs", len(report.Actions),
			"committed", report.Committed)
	}
}
