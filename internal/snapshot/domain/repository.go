package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollup/pkg/db/pagination"
	"gorm.io/datatypes"
)

// ListRequest filters a snapshot scan. From/To bound captured_on inclusively;
// zero values leave the bound open. Key filters apply where they exist for
// the granularity being listed.
type ListRequest struct {
	OrganizationID snowflake.ID
	TeamID         snowflake.ID
	UserID         snowflake.ID
	From           datatypes.Date
	To             datatypes.Date
	pagination.Pagination
}

type ListOrgResponse struct {
	pagination.PageInfo
	Snapshots []OrgSnapshot
}

type ListTeamResponse struct {
	pagination.PageInfo
	Snapshots []TeamSnapshot
}

type ListUserResponse struct {
	pagination.PageInfo
	Snapshots []UserSnapshot
}

// Repository persists and serves snapshot rows.
//
// The Upsert methods are idempotent batch writes: rows conflict on the
// granularity's natural key plus captured_on, and a conflict fully replaces
// the stored metrics rather than accumulating. Empty input is a no-op.
// An absent row for a given key and date always means zero activity.
type Repository interface {
	UpsertOrg(ctx context.Context, rows []OrgSnapshot) error
	UpsertTeam(ctx context.Context, rows []TeamSnapshot) error
	UpsertUser(ctx context.Context, rows []UserSnapshot) error

	ListOrg(ctx context.Context, req ListRequest) (ListOrgResponse, error)
	ListTeam(ctx context.Context, req ListRequest) (ListTeamResponse, error)
	ListUser(ctx context.Context, req ListRequest) (ListUserResponse, error)
}
