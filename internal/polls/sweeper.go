package polls

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepLockKey guards the lifecycle sweep across processes.
const SweepLockKey = "polls:sweep:lock"

// Locker is a best-effort distributed mutex.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Sweeper periodically closes expired polls. With a Locker, only one process
// sweeps per tick.
type Sweeper struct {
	svc      *Service
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. locker may be nil for single-process setups.
func NewSweeper(svc *Service, locker Locker, interval, lockTTL time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &Sweeper{svc: svc, locker: locker, interval: interval, lockTTL: lockTTL, logger: logger}
}

// RunOnce performs a single sweep. skipped is true when another process holds
// the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (closed int, skipped bool, err error) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, SweepLockKey, s.lockTTL)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, true, nil
		}
		defer func() {
			if uerr := s.locker.Unlock(context.Background(), SweepLockKey, token); uerr != nil {
				s.logger.Warn("sweep unlock failed", zap.Error(uerr))
			}
		}()
	}
	ids, err := s.svc.SweepExpired(ctx)
	if err != nil {
		return 0, false, err
	}
	return len(ids), false, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll sweeper stopping")
			return
		case <-ticker.C:
			n, skipped, err := s.RunOnce(ctx)
			switch {
			case err != nil:
				s.logger.Error("poll sweep failed", zap.Error(err))
			case skipped:
				s.logger.Debug("poll sweep skipped, lock held elsewhere")
			case n > 0:
				s.logger.Info("poll sweep finished", zap.Int("closed", n))
			}
		}
	}
}
