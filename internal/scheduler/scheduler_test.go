package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/rollup/internal/clock"
	"github.com/smallbiznis/rollup/internal/config"
	obsmetrics "github.com/smallbiznis/rollup/internal/observability/metrics"
	snapshotdomain "github.com/smallbiznis/rollup/internal/snapshot/domain"
	"go.uber.org/zap"
)

type snapshotSvcStub struct {
	calls   int
	lastReq snapshotdomain.BuildRequest
	result  snapshotdomain.BuildResult
	err     error
	block   bool
}

func (s *snapshotSvcStub) Build(ctx context.Context, req snapshotdomain.BuildRequest) (snapshotdomain.BuildResult, error) {
	s.calls++
	s.lastReq = req
	if s.block {
		<-ctx.Done()
		return s.result, ctx.Err()
	}
	return s.result, s.err
}

func newTestScheduler(t *testing.T, svc snapshotdomain.Service, cfg config.RollupConfig) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 16, 2, 0, 0, 0, time.UTC)),
		SnapshotSvc: svc,
		Rollup:      config.NewStaticRollupConfigHolder(cfg),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "rollup",
		Environment: "test",
	})

	s := newTestScheduler(t, &snapshotSvcStub{}, config.RollupConfig{})
	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "rollup",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "rollup_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "rollup",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "rollup_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobDurationComesFromInjectedClock(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "rollup", Environment: "test"})

	s := newTestScheduler(t, &snapshotSvcStub{}, config.RollupConfig{})
	err := s.runJob(context.Background(), "clocked_job", time.Minute, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("run job: %v", err)
	}

	// The fake clock never advances, so a wall-clock measurement would leak
	// a huge duration here.
	labels := map[string]string{
		"service": "rollup",
		"env":     "test",
		"job":     "clocked_job",
	}
	if got := getHistogramSum(t, registry, "rollup_scheduler_job_duration_seconds", labels); got != 0 {
		t.Fatalf("expected zero observed duration, got %v", got)
	}
}

func TestRunOnceInvokesSnapshotJobWithDefaultDate(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "rollup", Environment: "test"})

	svc := &snapshotSvcStub{result: snapshotdomain.BuildResult{OrgRows: 2, TeamRows: 3, UserRows: 4}}
	s := newTestScheduler(t, svc, config.RollupConfig{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("expected 1 build, got %d", svc.calls)
	}
	if !svc.lastReq.TargetDate.IsZero() {
		t.Fatalf("expected zero target date, got %v", svc.lastReq.TargetDate)
	}

	labels := map[string]string{
		"service":     "rollup",
		"env":         "test",
		"granularity": "team",
	}
	if got := getCounterValue(t, registry, "rollup_snapshot_rows_written_total", labels); got != 3 {
		t.Fatalf("expected 3 team rows recorded, got %v", got)
	}
}

func TestRunOnceSkipsDisabledJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	svc := &snapshotSvcStub{}
	s := newTestScheduler(t, svc, config.RollupConfig{EnabledJobs: []string{"some_other_job"}})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("expected disabled job skipped, got %d calls", svc.calls)
	}
}

func TestRunForPassesExplicitTargetDate(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	svc := &snapshotSvcStub{}
	s := newTestScheduler(t, svc, config.RollupConfig{})

	target := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if err := s.RunFor(context.Background(), target); err != nil {
		t.Fatalf("run for: %v", err)
	}
	if svc.calls != 1 || !svc.lastReq.TargetDate.Equal(target) {
		t.Fatalf("expected build for %v, got %+v", target, svc.lastReq)
	}
}

func TestRunOnceReturnsBuildError(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "rollup", Environment: "test"})

	boom := errors.Join(snapshotdomain.ErrEventSource, errors.New("connection refused"))
	svc := &snapshotSvcStub{err: boom}
	s := newTestScheduler(t, svc, config.RollupConfig{})

	err := s.RunOnce(context.Background())
	if !errors.Is(err, snapshotdomain.ErrEventSource) {
		t.Fatalf("expected event source error surfaced, got %v", err)
	}

	errorLabels := map[string]string{
		"service": "rollup",
		"env":     "test",
		"job":     jobDailySnapshots,
		"reason":  obsmetrics.SchedulerJobReasonEventSource,
	}
	if got := getCounterValue(t, registry, "rollup_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error counted by reason, got %v", got)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func getHistogramSum(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Histogram == nil {
				t.Fatalf("metric %s is not a histogram", name)
			}
			return metric.GetHistogram().GetSampleSum()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
