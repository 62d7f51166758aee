// Package scheduler drives the daily snapshot job: one idempotent run per
// target date, a run loop for daemon mode, and job health telemetry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollup/internal/clock"
	"github.com/smallbiznis/rollup/internal/config"
	obsmetrics "github.com/smallbiznis/rollup/internal/observability/metrics"
	snapshotdomain "github.com/smallbiznis/rollup/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobDailySnapshots = "daily_snapshots"

var ErrInvalidConfig = errors.New("scheduler dependencies are incomplete")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	SnapshotSvc snapshotdomain.Service
	Rollup      *config.RollupConfigHolder
}

type Scheduler struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	snapshotSvc snapshotdomain.Service
	rollup      *config.RollupConfigHolder
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SnapshotSvc == nil || p.Rollup == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:       p.GenID,
		clock:       p.Clock,
		snapshotSvc: p.SnapshotSvc,
		rollup:      p.Rollup,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline counts as a soft timeout; the next run picks the date up again.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time. The daily snapshot job
// targets yesterday in the configured zone, resolved once inside the engine.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.rollup.Get()
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobDailySnapshots, s.isJobEnabled(jobDailySnapshots), func(ctx context.Context) error {
			return s.runJob(ctx, jobDailySnapshots, cfg.RunTimeout, func(ctx context.Context) error {
				return s.buildSnapshots(ctx, snapshotdomain.BuildRequest{})
			})
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

// RunFor runs the daily snapshot job for an explicit target date, bypassing
// the yesterday default. Used by operator-triggered one-shot runs.
func (s *Scheduler) RunFor(parent context.Context, target time.Time) error {
	cfg := s.rollup.Get()
	return s.runJob(parent, jobDailySnapshots, cfg.RunTimeout, func(ctx context.Context) error {
		return s.buildSnapshots(ctx, snapshotdomain.BuildRequest{TargetDate: target})
	})
}

func (s *Scheduler) buildSnapshots(ctx context.Context, req snapshotdomain.BuildRequest) error {
	run := jobRunFromContext(ctx)
	result, err := s.snapshotSvc.Build(ctx, req)

	// Counts cover committed batches only; re-running the date corrects
	// the rest.
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddRowsWritten(string(snapshotdomain.GranularityOrg), result.OrgRows)
	schedMetrics.AddRowsWritten(string(snapshotdomain.GranularityTeam), result.TeamRows)
	schedMetrics.AddRowsWritten(string(snapshotdomain.GranularityUser), result.UserRows)
	run.AddProcessed(result.OrgRows + result.TeamRows + result.UserRows)

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.rollup.Get().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	enabled := s.rollup.Get().EnabledJobs
	if len(enabled) == 0 {
		return true
	}
	for _, name := range enabled {
		if strings.EqualFold(name, jobName) {
			return true
		}
	}
	return false
}
