package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// GroupRollup is one grouped-aggregate result row from the event source.
// Latency metrics come back split into sum and non-null count so the caller
// owns the averaging (and its rounding rule) instead of dialect SQL.
type GroupRollup struct {
	OrganizationID snowflake.ID  `gorm:"column:organization_id"`
	TeamID         *snowflake.ID `gorm:"column:team_id"`
	UserID         *snowflake.ID `gorm:"column:user_id"`
	EventCount     int64         `gorm:"column:event_count"`
	SuccessCount   int64         `gorm:"column:success_count"`
	FailureCount   int64         `gorm:"column:failure_count"`
	TotalTokens    int64         `gorm:"column:total_tokens"`
	InputTokens    int64         `gorm:"column:input_tokens"`
	OutputTokens   int64         `gorm:"column:output_tokens"`
	TotalLatencyMs int64         `gorm:"column:total_latency_ms"`
	LatencyCount   int64         `gorm:"column:latency_count"`
}

// Repository is the grouped-aggregate query surface of the event source.
// Each method covers events with occurred_at in the half-open [start, end)
// window. Groups with zero events never appear in the result.
type Repository interface {
	// RollupsByOrg groups by organization_id.
	RollupsByOrg(ctx context.Context, start, end time.Time) ([]GroupRollup, error)
	// RollupsByTeam groups by (organization_id, team_id), skipping events
	// without a team attribution.
	RollupsByTeam(ctx context.Context, start, end time.Time) ([]GroupRollup, error)
	// RollupsByUser groups by (organization_id, team_id, user_id), skipping
	// events without a user attribution.
	RollupsByUser(ctx context.Context, start, end time.Time) ([]GroupRollup, error)
}
