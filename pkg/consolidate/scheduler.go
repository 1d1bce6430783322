package consolidate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OwnerLister names the owners due for consolidation each cycle.
type OwnerLister func(ctx context.Context) ([]string, error)

// Scheduler enqueues a consolidation job per owner on a fixed interval.
type Scheduler struct {
	pool     *Pool
	owners   OwnerLister
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over the given pool.
func NewScheduler(pool *Pool, owners OwnerLister, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if owners == nil {
		return nil, fmt.Errorf("owner lister is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		pool:     pool,
		owners:   owners,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start begins the ticker loop. It returns immediately; Stop shuts the loop
// down and drains the pool.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts scheduling and waits for queued jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.pool.Close()
}

func (s *Scheduler) tick(ctx context.Context) {
	owners, err := s.owners(ctx)
	if err != nil {
		s.logger.Error("listing owners for consolidation failed", zap.Error(err))
		return
	}

	for _, owner := range owners {
		s.pool.Enqueue(Job{OwnerID: owner})
	}
}
