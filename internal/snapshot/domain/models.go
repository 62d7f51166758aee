// Package domain contains the daily usage snapshot models and the window
// arithmetic that bounds each rollup run.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SchemaVersion tags every snapshot row with the metric-set definition that
// produced it, so a future metric change can coexist with historical rows.
const SchemaVersion = 1

// Granularity is the level at which events are grouped for a rollup.
type Granularity string

const (
	GranularityOrg  Granularity = "org"
	GranularityTeam Granularity = "team"
	GranularityUser Granularity = "user"
)

// Metrics is the fixed per-group metric set shared by all three granularities.
type Metrics struct {
	EventCount     int64 `gorm:"not null;default:0"`
	SuccessCount   int64 `gorm:"not null;default:0"`
	FailureCount   int64 `gorm:"not null;default:0"`
	TotalTokens    int64 `gorm:"not null;default:0"`
	InputTokens    int64 `gorm:"not null;default:0"`
	OutputTokens   int64 `gorm:"not null;default:0"`
	TotalLatencyMs int64 `gorm:"not null;default:0"`
	// AvgLatencyMs is nil when no event in the group carried a latency value.
	// Zero would falsely read as a measured zero-millisecond average.
	AvgLatencyMs *int64
}

// OrgSnapshot is the org-level daily rollup row.
type OrgSnapshot struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrganizationID snowflake.ID   `gorm:"not null;uniqueIndex:index_org_snapshots_on_org_and_date"`
	CapturedOn     datatypes.Date `gorm:"not null;uniqueIndex:index_org_snapshots_on_org_and_date"`
	SchemaVersion  int            `gorm:"not null;default:1"`
	Metrics        `gorm:"embedded"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgSnapshot) TableName() string { return "org_snapshots" }

// TeamSnapshot is the team-level daily rollup row.
type TeamSnapshot struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrganizationID snowflake.ID   `gorm:"not null;index:index_team_snapshots_on_org_and_date"`
	TeamID         snowflake.ID   `gorm:"not null;uniqueIndex:index_team_snapshots_on_team_and_date"`
	CapturedOn     datatypes.Date `gorm:"not null;uniqueIndex:index_team_snapshots_on_team_and_date;index:index_team_snapshots_on_org_and_date"`
	SchemaVersion  int            `gorm:"not null;default:1"`
	Metrics        `gorm:"embedded"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TeamSnapshot) TableName() string { return "team_snapshots" }

// UserSnapshot is the user-level daily rollup row. TeamID stays nullable:
// a user-attributed event without a team still rolls up for its user.
type UserSnapshot struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrganizationID snowflake.ID   `gorm:"not null;index:index_user_snapshots_on_org_and_date"`
	TeamID         *snowflake.ID  `gorm:"index:index_user_snapshots_on_team_and_date"`
	UserID         snowflake.ID   `gorm:"not null;uniqueIndex:index_user_snapshots_on_user_and_date"`
	CapturedOn     datatypes.Date `gorm:"not null;uniqueIndex:index_user_snapshots_on_user_and_date;index:index_user_snapshots_on_team_and_date;index:index_user_snapshots_on_org_and_date"`
	SchemaVersion  int            `gorm:"not null;default:1"`
	Metrics        `gorm:"embedded"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserSnapshot) TableName() string { return "user_snapshots" }
