package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/metrics"
	"scriptmarket/internal/service"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (dto.Summary, error)
}

type Scheduler struct {
	jobs    map[string]Job
	locker  Locker
	lockTTL time.Duration
	logger  zerolog.Logger
}

func New(locker Locker, lockTTL time.Duration, jobs ...Job) *Scheduler {
	registry := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		registry[j.Name] = j
	}
	return &Scheduler{
		jobs:    registry,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logging.Component("scheduler"),
	}
}

// Names lists the registered jobs in a stable order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce runs a job under its lock. Overlapping runs of the same job fail with
// service.ErrJobAlreadyRunning.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (dto.Summary, error) {
	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", service.ErrNotFound, name)
	}

	lease, err := s.locker.Acquire(ctx, job.Name, s.lockTTL)
	if errors.Is(err, ErrLockHeld) {
		metrics.SweepRunsTotal.WithLabelValues(job.Name, "skipped").Inc()
		return nil, fmt.Errorf("%w: %s", service.ErrJobAlreadyRunning, job.Name)
	}
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues(job.Name, "error").Inc()
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("job", job.Name).Msg("release job lock")
		}
	}()

	logger := s.logger.With().Str("job", job.Name).Logger()
	start := time.Now()

	summary, err := job.Run(ctx)
	metrics.SweepDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues(job.Name, "error").Inc()
		logger.Error().Err(err).Msg("job run failed")
		return nil, err
	}

	result := summary.Summary()
	metrics.SweepRunsTotal.WithLabelValues(job.Name, "success").Inc()
	metrics.SweepItemsTotal.WithLabelValues(job.Name, "processed").Add(float64(result.Processed))
	metrics.SweepItemsTotal.WithLabelValues(job.Name, "errors").Add(float64(result.Errors))

	logger.Info().
		Int("processed", result.Processed).
		Int("errors", result.Errors).
		Dur("took", time.Since(start)).
		Msg("job run finished")

	return summary, nil
}

// Start runs every job on its interval until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.Names() {
		job := s.jobs[name]
		if job.Interval <= 0 {
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	s.logger.Info().Strs("jobs", s.Names()).Msg("scheduler started")
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, job.Name); err != nil && !errors.Is(err, service.ErrJobAlreadyRunning) {
				s.logger.Warn().Err(err).Str("job", job.Name).Msg("scheduled run failed")
			}
		}
	}
}
