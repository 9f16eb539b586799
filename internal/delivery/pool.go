package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pagerapp/pushgate/internal/config"
	"github.com/pagerapp/pushgate/internal/storage"
)

// Pool pulls leased jobs from the queue and processes them with a
// bounded number of workers, throttled by a shared rate limiter so the
// combined send rate respects gateway throttling.
type Pool struct {
	store        storage.Storage
	worker       *Worker
	workers      int
	limiter      *rate.Limiter
	leaseTimeout time.Duration
	pollRate     time.Duration

	completedTTL time.Duration
	keepMax      int
	failedTTL    time.Duration

	log  zerolog.Logger
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(cfg config.QueueConfig, worker *Worker, store storage.Storage, log zerolog.Logger) *Pool {
	return &Pool{
		store:        store,
		worker:       worker,
		workers:      cfg.Workers,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		leaseTimeout: cfg.LeaseTimeout,
		pollRate:     1 * time.Second,
		completedTTL: cfg.CompletedRetention,
		keepMax:      cfg.CompletedKeepMax,
		failedTTL:    cfg.FailedRetention,
		log:          log,
		stop:         make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting notification worker pool")

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.maintenanceLoop(ctx)
	}()
}

// Stop drains the pool: no new jobs are leased, active sends finish or
// time out before Stop returns.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping notification worker pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("notification worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.store.LeaseJobs(ctx, p.workers, p.leaseTimeout)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to lease jobs")
				continue
			}

			for _, job := range jobs {
				job := job
				sem <- struct{}{}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					defer func() { <-sem }()
					if err := p.limiter.Wait(ctx); err != nil {
						return
					}
					p.worker.Process(ctx, job)
				}()
			}
		}
	}
}

// maintenanceLoop reclaims lapsed leases and applies retention.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	reclaim := time.NewTicker(15 * time.Second)
	prune := time.NewTicker(5 * time.Minute)
	defer reclaim.Stop()
	defer prune.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-reclaim.C:
			n, err := p.store.ReclaimExpiredLeases(ctx)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to reclaim expired leases")
			} else if n > 0 {
				p.log.Warn().Int64("jobs", n).Msg("reclaimed jobs with expired leases")
			}
		case <-prune.C:
			n, err := p.store.PruneJobs(ctx, p.completedTTL, p.keepMax, p.failedTTL)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to prune jobs")
			} else if n > 0 {
				p.log.Debug().Int64("jobs", n).Msg("pruned retained jobs")
			}
		}
	}
}
