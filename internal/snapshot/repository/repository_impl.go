package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	snapshotdomain "github.com/smallbiznis/rollup/internal/snapshot/domain"
	"github.com/smallbiznis/rollup/pkg/db"
	"github.com/smallbiznis/rollup/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns replaced on conflict. created_at is deliberately absent so the
// insert timestamp survives re-runs; updated_at advances every overwrite.
var metricColumns = []string{
	"schema_version",
	"event_count",
	"success_count",
	"failure_count",
	"total_tokens",
	"input_tokens",
	"output_tokens",
	"total_latency_ms",
	"avg_latency_ms",
	"updated_at",
}

type snapshotRepo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) snapshotdomain.Repository {
	return &snapshotRepo{db: db}
}

func (r *snapshotRepo) UpsertOrg(ctx context.Context, rows []snapshotdomain.OrgSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "captured_on"}},
		DoUpdates: clause.AssignmentColumns(metricColumns),
	}).Create(&rows).Error
	return wrapUpsertErr(err)
}

func (r *snapshotRepo) UpsertTeam(ctx context.Context, rows []snapshotdomain.TeamSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team_id"}, {Name: "captured_on"}},
		DoUpdates: clause.AssignmentColumns(metricColumns),
	}).Create(&rows).Error
	return wrapUpsertErr(err)
}

func (r *snapshotRepo) UpsertUser(ctx context.Context, rows []snapshotdomain.UserSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "captured_on"}},
		DoUpdates: clause.AssignmentColumns(metricColumns),
	}).Create(&rows).Error
	return wrapUpsertErr(err)
}

// wrapUpsertErr names the one duplicate-key case ON CONFLICT cannot absorb:
// two rows inside the same batch sharing a natural key.
func wrapUpsertErr(err error) error {
	if err == nil {
		return nil
	}
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("conflicting snapshot keys within batch: %w", err)
	}
	return err
}

func (r *snapshotRepo) ListOrg(ctx context.Context, req snapshotdomain.ListRequest) (snapshotdomain.ListOrgResponse, error) {
	query, limit, err := r.scanQuery(ctx, "org_snapshots", req)
	if err != nil {
		return snapshotdomain.ListOrgResponse{}, err
	}

	var rows []snapshotdomain.OrgSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return snapshotdomain.ListOrgResponse{}, err
	}

	resp := snapshotdomain.ListOrgResponse{}
	rows, resp.PageInfo = pageOf(rows, limit, func(s snapshotdomain.OrgSnapshot) string {
		return s.ID.String()
	})
	resp.Snapshots = rows
	return resp, nil
}

func (r *snapshotRepo) ListTeam(ctx context.Context, req snapshotdomain.ListRequest) (snapshotdomain.ListTeamResponse, error) {
	query, limit, err := r.scanQuery(ctx, "team_snapshots", req)
	if err != nil {
		return snapshotdomain.ListTeamResponse{}, err
	}
	if req.TeamID != 0 {
		query = query.Where("team_id = ?", req.TeamID)
	}

	var rows []snapshotdomain.TeamSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return snapshotdomain.ListTeamResponse{}, err
	}

	resp := snapshotdomain.ListTeamResponse{}
	rows, resp.PageInfo = pageOf(rows, limit, func(s snapshotdomain.TeamSnapshot) string {
		return s.ID.String()
	})
	resp.Snapshots = rows
	return resp, nil
}

func (r *snapshotRepo) ListUser(ctx context.Context, req snapshotdomain.ListRequest) (snapshotdomain.ListUserResponse, error) {
	query, limit, err := r.scanQuery(ctx, "user_snapshots", req)
	if err != nil {
		return snapshotdomain.ListUserResponse{}, err
	}
	if req.TeamID != 0 {
		query = query.Where("team_id = ?", req.TeamID)
	}
	if req.UserID != 0 {
		query = query.Where("user_id = ?", req.UserID)
	}

	var rows []snapshotdomain.UserSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return snapshotdomain.ListUserResponse{}, err
	}

	resp := snapshotdomain.ListUserResponse{}
	rows, resp.PageInfo = pageOf(rows, limit, func(s snapshotdomain.UserSnapshot) string {
		return s.ID.String()
	})
	resp.Snapshots = rows
	return resp, nil
}

// scanQuery applies the filters shared by all three granularities and returns
// the normalized page size. The query fetches one extra row to detect a next
// page.
func (r *snapshotRepo) scanQuery(ctx context.Context, table string, req snapshotdomain.ListRequest) (*gorm.DB, int, error) {
	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	query := r.db.WithContext(ctx).Table(table).Order("id ASC").Limit(limit + 1)
	if req.OrganizationID != 0 {
		query = query.Where("organization_id = ?", req.OrganizationID)
	}
	if !time.Time(req.From).IsZero() {
		query = query.Where("captured_on >= ?", req.From)
	}
	if !time.Time(req.To).IsZero() {
		query = query.Where("captured_on <= ?", req.To)
	}

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, 0, err
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, 0, err
		}
		query = query.Where("id > ?", lastID)
	}

	return query, limit, nil
}

func pageOf[T any](rows []T, limit int, cursorID func(T) string) ([]T, pagination.PageInfo) {
	info := pagination.PageInfo{}
	if len(rows) > limit {
		rows = rows[:limit]
		info.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: cursorID(rows[len(rows)-1])})
		if err == nil {
			info.NextPageToken = token
		}
	}
	return rows, info
}
