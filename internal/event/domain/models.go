// Package domain contains the read-only model of raw usage events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is one observed usage action. This service never writes the
// table; ingestion belongs to the upstream collector.
type UsageEvent struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrganizationID snowflake.ID  `gorm:"not null;index"`
	TeamID         *snowflake.ID `gorm:"index"`
	UserID         *snowflake.ID `gorm:"index"`
	OccurredAt     time.Time     `gorm:"not null;index"`
	Success        bool          `gorm:"not null"`
	TotalTokens    int64         `gorm:"not null;default:0"`
	InputTokens    int64         `gorm:"not null;default:0"`
	OutputTokens   int64         `gorm:"not null;default:0"`
	LatencyMs      *int64
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
