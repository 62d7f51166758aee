package repository

import (
	"context"
	"time"

	eventdomain "github.com/smallbiznis/rollup/internal/event/domain"
	"gorm.io/gorm"
)

const baseSelect = `
	COUNT(*) AS event_count,
	SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success_count,
	SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failure_count,
	SUM(total_tokens) AS total_tokens,
	SUM(input_tokens) AS input_tokens,
	SUM(output_tokens) AS output_tokens,
	COALESCE(SUM(latency_ms), 0) AS total_latency_ms,
	COUNT(latency_ms) AS latency_count`

type eventRepo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) eventdomain.Repository {
	return &eventRepo{db: db}
}

// Window bounds bind as UTC. Text-affinity stores compare timestamps
// lexically, so a zoned bound would compare offsets instead of instants.
func (r *eventRepo) RollupsByOrg(ctx context.Context, start, end time.Time) ([]eventdomain.GroupRollup, error) {
	var rows []eventdomain.GroupRollup
	err := r.db.WithContext(ctx).Raw(
		`SELECT organization_id,`+baseSelect+`
		 FROM usage_events
		 WHERE occurred_at >= ? AND occurred_at < ?
		 GROUP BY organization_id`,
		start.UTC(), end.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *eventRepo) RollupsByTeam(ctx context.Context, start, end time.Time) ([]eventdomain.GroupRollup, error) {
	var rows []eventdomain.GroupRollup
	err := r.db.WithContext(ctx).Raw(
		`SELECT organization_id, team_id,`+baseSelect+`
		 FROM usage_events
		 WHERE occurred_at >= ? AND occurred_at < ? AND team_id IS NOT NULL
		 GROUP BY organization_id, team_id`,
		start.UTC(), end.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *eventRepo) RollupsByUser(ctx context.Context, start, end time.Time) ([]eventdomain.GroupRollup, error) {
	var rows []eventdomain.GroupRollup
	err := r.db.WithContext(ctx).Raw(
		`SELECT organization_id, team_id, user_id,`+baseSelect+`
		 FROM usage_events
		 WHERE occurred_at >= ? AND occurred_at < ? AND user_id IS NOT NULL
		 GROUP BY organization_id, team_id, user_id`,
		start.UTC(), end.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
