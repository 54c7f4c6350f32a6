// Package sweeper periodically removes expired records from a store.
//
// Expiry is always enforced when a record is read; the sweep only reclaims
// space. Jobs run in singleton mode so a slow sweep is never overlapped by
// the next one.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/storage"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = 5 * time.Minute

	// DefaultTimeout bounds a single sweep.
	DefaultTimeout = 30 * time.Second

	jobName = "expired-record-sweep"
)

// Config configures a Sweeper.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Stats summarizes the sweeps run so far.
type Stats struct {
	Runs     int
	Failures int
	Deleted  int
	LastRun  time.Time
}

// Sweeper runs storage.Sweeper.DeleteExpired on a schedule.
type Sweeper struct {
	target    storage.Sweeper
	config    Config
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	scheduler gocron.Scheduler
	job       gocron.Job

	mu    sync.Mutex
	stats Stats
}

// New schedules sweeps of target. Call Start to begin and Stop to release
// the scheduler.
func New(target storage.Sweeper, config Config, logger *slog.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, errors.New("sweep target is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	s := &Sweeper{target: target, config: config, logger: logger}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLogger(logger),
		gocron.WithStopTimeout(config.Timeout),
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
					logger.Warn("Sweep failed", "job", name, "error", err)
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	job, err := scheduler.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(s.run),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	s.scheduler = scheduler
	s.job = job
	return s, nil
}

// SetInstrumentation records deleted records in the sweeper metric.
func (s *Sweeper) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		s.metrics = nil
		return
	}
	s.metrics = inst.Metrics()
}

// Start begins the schedule. The first sweep runs after one interval.
func (s *Sweeper) Start() {
	s.logger.Info("Starting expiry sweeper", "interval", s.config.Interval)
	s.scheduler.Start()
}

// RunNow triggers a sweep outside the schedule. The scheduler must be
// started.
func (s *Sweeper) RunNow() error {
	return s.job.RunNow()
}

// Stop waits for a running sweep and shuts the scheduler down.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// Stats returns a snapshot of the sweep counters.
func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sweeper) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	_, err := s.Sweep(ctx)
	return err
}

// Sweep runs one pass and returns the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	deleted, err := s.target.DeleteExpired(ctx, start)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRun = start
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.Deleted += deleted
	}
	s.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}

	s.metrics.RecordSweep(ctx, deleted)
	if deleted > 0 {
		s.logger.Info("Removed expired records", "count", deleted, "duration", time.Since(start))
	} else {
		s.logger.Debug("Expiry sweep found nothing to remove")
	}
	return deleted, nil
}
