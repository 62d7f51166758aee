// Package service implements the daily rollup engine: one grouped pass per
// granularity over the target day's events, then an idempotent batch upsert
// per granularity.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollup/internal/clock"
	"github.com/smallbiznis/rollup/internal/config"
	eventdomain "github.com/smallbiznis/rollup/internal/event/domain"
	snapshotdomain "github.com/smallbiznis/rollup/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Events    eventdomain.Repository
	Snapshots snapshotdomain.Repository
	Rollup    *config.RollupConfigHolder
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	events    eventdomain.Repository
	snapshots snapshotdomain.Repository
	rollup    *config.RollupConfigHolder
}

func New(p Params) snapshotdomain.Service {
	return &Service{
		log:       p.Log.Named("snapshot"),
		clock:     p.Clock,
		genID:     p.GenID,
		events:    p.Events,
		snapshots: p.Snapshots,
		rollup:    p.Rollup,
	}
}

// Build aggregates one calendar day at all three granularities and upserts
// the results. Re-running for the same date overwrites, never accumulates.
func (s *Service) Build(ctx context.Context, req snapshotdomain.BuildRequest) (snapshotdomain.BuildResult, error) {
	loc := s.rollup.Get().Location()

	target := req.TargetDate
	if target.IsZero() {
		// Resolved once here so all three granularities share one window.
		target = snapshotdomain.Yesterday(s.clock.Now(), loc)
	}
	window := snapshotdomain.DayWindow(target, loc)
	capturedOn := snapshotdomain.CaptureDate(target)

	result := snapshotdomain.BuildResult{TargetDate: target, Window: window}
	log := s.log.With(
		zap.Time("target_date", target),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
	)
	log.Info("building daily snapshots")

	// All three queries run before any write. A failed query aborts the run
	// with nothing persisted.
	orgGroups, err := s.events.RollupsByOrg(ctx, window.Start, window.End)
	if err != nil {
		return result, queryErr(snapshotdomain.GranularityOrg, err)
	}
	teamGroups, err := s.events.RollupsByTeam(ctx, window.Start, window.End)
	if err != nil {
		return result, queryErr(snapshotdomain.GranularityTeam, err)
	}
	userGroups, err := s.events.RollupsByUser(ctx, window.Start, window.End)
	if err != nil {
		return result, queryErr(snapshotdomain.GranularityUser, err)
	}

	orgRows := s.buildOrgRows(orgGroups, capturedOn)
	teamRows := s.buildTeamRows(teamGroups, capturedOn)
	userRows := s.buildUserRows(userGroups, capturedOn)

	// A failed batch does not roll back or block the other granularities.
	// Re-running the date is always a safe correction. Result counts cover
	// only batches that committed.
	var writeErr error
	if err := s.snapshots.UpsertOrg(ctx, orgRows); err != nil {
		writeErr = errors.Join(writeErr, s.logWriteErr(log, snapshotdomain.GranularityOrg, err))
	} else {
		result.OrgRows = len(orgRows)
	}
	if err := s.snapshots.UpsertTeam(ctx, teamRows); err != nil {
		writeErr = errors.Join(writeErr, s.logWriteErr(log, snapshotdomain.GranularityTeam, err))
	} else {
		result.TeamRows = len(teamRows)
	}
	if err := s.snapshots.UpsertUser(ctx, userRows); err != nil {
		writeErr = errors.Join(writeErr, s.logWriteErr(log, snapshotdomain.GranularityUser, err))
	} else {
		result.UserRows = len(userRows)
	}
	if writeErr != nil {
		return result, writeErr
	}

	log.Info("daily snapshots written",
		zap.Int("org_rows", result.OrgRows),
		zap.Int("team_rows", result.TeamRows),
		zap.Int("user_rows", result.UserRows),
	)
	return result, nil
}

func (s *Service) buildOrgRows(groups []eventdomain.GroupRollup, capturedOn datatypes.Date) []snapshotdomain.OrgSnapshot {
	rows := make([]snapshotdomain.OrgSnapshot, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, snapshotdomain.OrgSnapshot{
			ID:             s.genID.Generate(),
			OrganizationID: g.OrganizationID,
			CapturedOn:     capturedOn,
			SchemaVersion:  snapshotdomain.SchemaVersion,
			Metrics:        buildMetrics(g),
		})
	}
	return rows
}

func (s *Service) buildTeamRows(groups []eventdomain.GroupRollup, capturedOn datatypes.Date) []snapshotdomain.TeamSnapshot {
	rows := make([]snapshotdomain.TeamSnapshot, 0, len(groups))
	for _, g := range groups {
		if g.TeamID == nil {
			continue
		}
		rows = append(rows, snapshotdomain.TeamSnapshot{
			ID:             s.genID.Generate(),
			OrganizationID: g.OrganizationID,
			TeamID:         *g.TeamID,
			CapturedOn:     capturedOn,
			SchemaVersion:  snapshotdomain.SchemaVersion,
			Metrics:        buildMetrics(g),
		})
	}
	return rows
}

func (s *Service) buildUserRows(groups []eventdomain.GroupRollup, capturedOn datatypes.Date) []snapshotdomain.UserSnapshot {
	rows := make([]snapshotdomain.UserSnapshot, 0, len(groups))
	for _, g := range groups {
		if g.UserID == nil {
			continue
		}
		rows = append(rows, snapshotdomain.UserSnapshot{
			ID:             s.genID.Generate(),
			OrganizationID: g.OrganizationID,
			TeamID:         g.TeamID,
			UserID:         *g.UserID,
			CapturedOn:     capturedOn,
			SchemaVersion:  snapshotdomain.SchemaVersion,
			Metrics:        buildMetrics(g),
		})
	}
	return rows
}

// buildMetrics copies the grouped aggregates as-is; upstream owns input
// sanitation, so nothing here validates or clamps.
func buildMetrics(g eventdomain.GroupRollup) snapshotdomain.Metrics {
	return snapshotdomain.Metrics{
		EventCount:     g.EventCount,
		SuccessCount:   g.SuccessCount,
		FailureCount:   g.FailureCount,
		TotalTokens:    g.TotalTokens,
		InputTokens:    g.InputTokens,
		OutputTokens:   g.OutputTokens,
		TotalLatencyMs: g.TotalLatencyMs,
		AvgLatencyMs:   avgLatency(g.TotalLatencyMs, g.LatencyCount),
	}
}

// avgLatency computes the mean over events that carried a latency value,
// rounded half away from zero. Nil when no event in the group had one.
func avgLatency(totalMs, count int64) *int64 {
	if count <= 0 {
		return nil
	}
	avg := int64(math.Round(float64(totalMs) / float64(count)))
	return &avg
}

func queryErr(g snapshotdomain.Granularity, err error) error {
	return fmt.Errorf("query %s rollups: %w", g, errors.Join(snapshotdomain.ErrEventSource, err))
}

func (s *Service) logWriteErr(log *zap.Logger, g snapshotdomain.Granularity, err error) error {
	log.Error("snapshot write failed",
		zap.String("granularity", string(g)),
		zap.Error(err),
	)
	return fmt.Errorf("write %s snapshots: %w", g, errors.Join(snapshotdomain.ErrPersistence, err))
}
