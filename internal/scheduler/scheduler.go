// Package scheduler runs the background sweeps: markets whose trading deadline
// has passed are flipped from active to closed so resolution can follow, and
// stale 24h volume counters are recomputed from the trade log.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the deadline-close and volume-rollup loops. Call Start(ctx)
// once from main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	marketRepo *repository.MarketRepository
	cfg        *config.Config
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(marketRepo *repository.MarketRepository, cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{marketRepo: marketRepo, cfg: cfg, logger: logger}
}

// Start launches the background goroutines. It returns immediately; the loops
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.deadlineCloseLoop(ctx)
	go s.volumeRollupLoop(ctx)
	s.logger.Info("scheduler started",
		"sweep_interval", s.cfg.AMM.DeadlineSweep,
		"volume_rollup", s.cfg.AMM.VolumeRollup)
}

// ──────────────────────────────────────────────────────────────────────────────
// deadlineCloseLoop
// ──────────────────────────────────────────────────────────────────────────────

// deadlineCloseLoop sweeps for expired active markets on a fixed interval.
// Each market closes in its own statement; a failure on one market does not
// block the rest of the sweep.
func (s *Scheduler) deadlineCloseLoop(ctx context.Context) {
	defer s.recoverAndLog("deadlineCloseLoop")

	ticker := time.NewTicker(s.cfg.AMM.DeadlineSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadlineCloseLoop: shutting down")
			return
		case <-ticker.C:
			s.closeExpiredMarkets(ctx)
		}
	}
}

// closeExpiredMarkets is the inner body of deadlineCloseLoop, extracted so
// the defer/recover in the loop catches panics correctly.
func (s *Scheduler) closeExpiredMarkets(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := s.marketRepo.GetExpiredActive(ctx, now)
	if err != nil {
		s.logger.Error("deadlineCloseLoop: GetExpiredActive", "err", err)
		return
	}

	for _, m := range expired {
		err := s.marketRepo.CloseMarket(ctx, m.ID)
		switch {
		case err == nil:
			s.logger.Info("market closed at deadline", "market_id", m.ID)
		case errors.Is(err, domain.ErrMarketNotFound):
			// Lost the race: the market left active state between the sweep
			// select and the close.
		default:
			s.logger.Error("deadlineCloseLoop: CloseMarket", "market_id", m.ID, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// volumeRollupLoop
// ──────────────────────────────────────────────────────────────────────────────

// volumeRollupLoop periodically recomputes the 24h volume counters from the
// trade log so rows stop counting trades older than a day. The trade path only
// increments the counter; this loop is the only place it decays.
func (s *Scheduler) volumeRollupLoop(ctx context.Context) {
	defer s.recoverAndLog("volumeRollupLoop")

	ticker := time.NewTicker(s.cfg.AMM.VolumeRollup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("volumeRollupLoop: shutting down")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-24 * time.Hour)
			n, err := s.marketRepo.RollOffVolume24h(ctx, cutoff)
			if err != nil {
				s.logger.Error("volumeRollupLoop: RollOffVolume24h", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("24h volume counters rolled off", "options", n)
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside the goroutine to catch unexpected panics,
// log them, and keep the process alive.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
