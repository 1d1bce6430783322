package consolidate

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 64
)

// Job is one owner's consolidation pass.
type Job struct {
	OwnerID string
}

// PoolConfig is the configuration options for the worker pool.
type PoolConfig struct {
	// Runner executes the consolidation passes.
	Runner *Runner

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel.
	QueueSize uint

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Pool processes consolidation jobs asynchronously so scheduled runs never
// block turn processing.
type Pool struct {
	config *PoolConfig
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a pool and starts its worker goroutines.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing.
// Returns true if enqueued, false if the queue is full and the job dropped;
// a dropped job is simply picked up by the next scheduled cycle.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("consolidation job queued", zap.String("owner_id", job.OwnerID))
		return true
	default:
		p.logger.Warn("consolidation queue full, job dropped until next cycle",
			zap.String("owner_id", job.OwnerID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("consolidation worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		if err := p.config.Runner.Run(context.Background(), job.OwnerID); err != nil {
			p.logger.Error("consolidation run failed",
				zap.String("owner_id", job.OwnerID),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("consolidation worker stopped", zap.Uint("worker_id", id))
}
