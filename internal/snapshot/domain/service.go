package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEventSource marks a failed event-source query. The run aborts
	// before any write when this occurs.
	ErrEventSource = errors.New("event_source_unavailable")
	// ErrPersistence marks a failed snapshot write batch. Batches already
	// committed for other granularities stay committed.
	ErrPersistence = errors.New("snapshot_persistence_failed")
)

// BuildRequest asks for one daily snapshot run. A zero TargetDate means
// yesterday in the configured time zone, resolved once per invocation.
type BuildRequest struct {
	TargetDate time.Time
}

// BuildResult reports what a run wrote. Row counts cover only granularities
// whose upsert batch committed; a failed batch contributes zero.
type BuildResult struct {
	TargetDate time.Time
	Window     Window
	OrgRows    int
	TeamRows   int
	UserRows   int
}

// Service is the daily rollup engine.
type Service interface {
	Build(ctx context.Context, req BuildRequest) (BuildResult, error)
}
