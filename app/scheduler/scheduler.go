package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/metrics"
	"github.com/beetslabs/poolsync/pkg/redis"
)

// alertThrottle is the fixed pause between alert publishes, respecting the
// alerting backend's API quota.
const alertThrottle = time.Second

// Job runs one sync pass for one chain and returns how many rows it wrote.
type Job func(ctx context.Context, cfg chain.Config) (int, error)

// Notifier publishes sync completion events. Satisfied by *redis.Client; nil
// disables notifications.
type Notifier interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// Scheduler drives recurring sync passes. Each (chain, category) pass runs as
// its own task; one chain's failure never aborts its siblings.
type Scheduler struct {
	logger   *zap.Logger
	registry *chain.Registry
	notifier Notifier
	cron     *cron.Cron
	pool     pond.Pool

	alertMu   sync.Mutex
	lastAlert time.Time
}

func New(logger *zap.Logger, registry *chain.Registry, notifier Notifier, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		logger:   logger,
		registry: registry,
		notifier: notifier,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		pool:     pond.NewPool(workers),
	}
}

// Register schedules a job for every configured chain under the given cron
// spec and category.
func (s *Scheduler) Register(spec string, category chain.Category, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.RunAll(context.Background(), category, job)
	})
	return err
}

// RunAll fans one category's job out across all chains and waits for every
// pass to finish.
func (s *Scheduler) RunAll(ctx context.Context, category chain.Category, job Job) {
	group := s.pool.NewGroup()
	for _, cfg := range s.registry.All() {
		group.Submit(func() {
			s.runOne(ctx, category, cfg, job)
		})
	}
	_ = group.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, category chain.Category, cfg chain.Config, job Job) {
	c := string(cfg.Chain)
	start := time.Now()

	rows, err := job(ctx, cfg)
	metrics.SyncDuration.WithLabelValues(c, string(category)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SyncFailures.WithLabelValues(c, string(category)).Inc()
		s.logger.Error("Sync pass failed",
			zap.String("chain", c),
			zap.String("category", string(category)),
			zap.Error(err))
		s.alert(ctx, cfg.Chain, category, err)
		return
	}

	metrics.SyncPasses.WithLabelValues(c, string(category)).Inc()
	if s.notifier != nil && rows > 0 {
		s.notifier.Publish(ctx, redis.SyncChannel(c, string(category)), rows)
	}
}

// alert publishes a failure notification, spacing consecutive publishes by a
// fixed pause.
func (s *Scheduler) alert(ctx context.Context, c chain.Chain, category chain.Category, err error) {
	if s.notifier == nil {
		return
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	if since := time.Since(s.lastAlert); since < alertThrottle {
		time.Sleep(alertThrottle - since)
	}
	s.lastAlert = time.Now()

	s.notifier.Publish(ctx, "poolsync:alerts",
		string(c)+"/"+string(category)+": "+err.Error())
}

// Start begins cron dispatch.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts cron dispatch and waits for in-flight passes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.pool.StopAndWait()
}
