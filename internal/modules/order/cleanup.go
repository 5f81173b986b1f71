// README: Periodic sweep that cancels orders left unpaid past the deadline.
package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropoff/internal/observability"
	"dropoff/internal/types"
)

// Locker elects a single sweeping replica. TryLock returns ok=false when
// another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type SweepConfig struct {
	Interval    time.Duration
	MaxAge      time.Duration
	Concurrency int
	// BatchSize is the page size for reading candidates; a run keeps
	// paging until none are left. <= 0 reads them in one page.
	BatchSize int
	LockKey   string
	LockTTL   time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:    time.Hour,
		MaxAge:      DefaultMaxUnpaidAge,
		Concurrency: 4,
		BatchSize:   500,
		LockKey:     "dropoff:cleanup:lock",
		LockTTL:     5 * time.Minute,
	}
}

type SweepResult struct {
	Examined  int  `json:"examined"`
	Cancelled int  `json:"cancelled"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Locked    bool `json:"locked"`
}

type Sweeper struct {
	svc    *Service
	repo   Repository
	cfg    SweepConfig
	locker Locker
	log    *zap.Logger
}

// NewSweeper builds a sweeper over svc's repository. locker may be nil.
func NewSweeper(svc *Service, cfg SweepConfig, locker Locker, log *zap.Logger) *Sweeper {
	def := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = svc.maxAge
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.LockKey == "" {
		cfg.LockKey = def.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{svc: svc, repo: svc.repo, cfg: cfg, locker: locker, log: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("order cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep cancels every expired unpaid order. A failing order is logged and
// counted; it never stops the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Locked = true
			s.log.Debug("order cleanup skipped, another replica holds the lock")
			return res, nil
		}
		defer release()
	}

	start := time.Now()
	defer func() { observability.CleanupDuration.Observe(time.Since(start).Seconds()) }()
	observability.CleanupRunsTotal.Inc()

	cutoff := s.svc.clock.Now().Add(-s.cfg.MaxAge)
	var after *ExpiredRef
	for {
		page, err := s.repo.FindExpiredUnpaid(ctx, cutoff, after, s.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		s.sweepPage(ctx, page, &res)
		// The cursor moves past failed orders so they cannot starve newer ones.
		if s.cfg.BatchSize <= 0 || len(page) < s.cfg.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		last := page[len(page)-1]
		after = &last
	}

	observability.CleanupCancelledTotal.Add(float64(res.Cancelled))
	observability.CleanupFailedTotal.Add(float64(res.Failed))
	s.log.Info("order cleanup finished",
		zap.Int("examined", res.Examined),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Sweeper) sweepPage(ctx context.Context, page []ExpiredRef, res *SweepResult) {
	res.Examined += len(page)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, ref := range page {
		g.Go(func() error {
			cancelled, err := s.svc.ForceCancelIfExpired(ctx, ref.ID, s.cfg.MaxAge)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				s.logFailure(ref.ID, err)
			case cancelled:
				res.Cancelled++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) logFailure(id types.ID, err error) {
	s.log.Warn("order cleanup failed for order", zap.String("order_id", string(id)), zap.Error(err))
}
