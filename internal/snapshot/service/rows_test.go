package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/rollup/internal/event/domain"
	snapshotdomain "github.com/smallbiznis/rollup/internal/snapshot/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newRowBuilder(t *testing.T) *Service {
	t.Helper()
	return &Service{genID: mustNode(t)}
}

func TestBuildMetricsKeepsCountInvariant(t *testing.T) {
	m := buildMetrics(eventdomain.GroupRollup{
		EventCount:     5,
		SuccessCount:   3,
		FailureCount:   2,
		TotalTokens:    40,
		InputTokens:    25,
		OutputTokens:   15,
		TotalLatencyMs: 300,
		LatencyCount:   4,
	})

	assert.Equal(t, m.EventCount, m.SuccessCount+m.FailureCount)
	assert.Equal(t, int64(40), m.TotalTokens)
	require.NotNil(t, m.AvgLatencyMs)
	assert.Equal(t, int64(75), *m.AvgLatencyMs)
}

func TestBuildRowsStampKeyAndVersion(t *testing.T) {
	s := newRowBuilder(t)
	org := snowflake.ID(1001)
	team := snowflake.ID(2001)
	user := snowflake.ID(3001)
	day := datatypes.Date(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	orgRows := s.buildOrgRows([]eventdomain.GroupRollup{
		{OrganizationID: org, EventCount: 1, SuccessCount: 1},
	}, day)
	require.Len(t, orgRows, 1)
	assert.Equal(t, org, orgRows[0].OrganizationID)
	assert.Equal(t, snapshotdomain.SchemaVersion, orgRows[0].SchemaVersion)
	assert.NotZero(t, orgRows[0].ID)

	teamRows := s.buildTeamRows([]eventdomain.GroupRollup{
		{OrganizationID: org, TeamID: &team, EventCount: 1, SuccessCount: 1},
		{OrganizationID: org, TeamID: nil, EventCount: 2, SuccessCount: 2},
	}, day)
	require.Len(t, teamRows, 1)
	assert.Equal(t, team, teamRows[0].TeamID)

	userRows := s.buildUserRows([]eventdomain.GroupRollup{
		{OrganizationID: org, TeamID: &team, UserID: &user, EventCount: 1, SuccessCount: 1},
		{OrganizationID: org, TeamID: &team, UserID: nil, EventCount: 3, SuccessCount: 3},
		{OrganizationID: org, TeamID: nil, UserID: &user, EventCount: 1, SuccessCount: 1},
	}, day)
	require.Len(t, userRows, 2)
	assert.Equal(t, user, userRows[0].UserID)
	require.NotNil(t, userRows[0].TeamID)
	assert.Equal(t, team, *userRows[0].TeamID)
	assert.Nil(t, userRows[1].TeamID)
}
