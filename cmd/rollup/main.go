package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollup/internal/clock"
	"github.com/smallbiznis/rollup/internal/config"
	"github.com/smallbiznis/rollup/internal/event"
	"github.com/smallbiznis/rollup/internal/logger"
	"github.com/smallbiznis/rollup/internal/migration"
	"github.com/smallbiznis/rollup/internal/scheduler"
	"github.com/smallbiznis/rollup/internal/snapshot"
	"github.com/smallbiznis/rollup/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	dateFlag := flag.String("date", "", "target date (YYYY-MM-DD); defaults to yesterday")
	onceFlag := flag.Bool("once", false, "run a single snapshot pass and exit")
	flag.Parse()

	var target time.Time
	if *dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			log.Fatalf("invalid -date %q: %v", *dateFlag, err)
		}
		target = parsed
		// An explicit date is always a one-shot backfill-style run.
		*onceFlag = true
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		event.Module,
		snapshot.Module,
		scheduler.Module,
	}

	if *onceFlag {
		opts = append(opts, fx.Invoke(RunOnceAndExit(target)))
	} else {
		opts = append(opts, fx.Invoke(scheduler.Run))
	}

	fx.New(opts...).Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// RunOnceAndExit builds one snapshot pass and shuts the app down with a
// non-zero exit code on failure.
func RunOnceAndExit(target time.Time) func(fx.Lifecycle, *scheduler.Scheduler, *zap.Logger, fx.Shutdowner) {
	return func(lc fx.Lifecycle, sched *scheduler.Scheduler, logg *zap.Logger, shutdowner fx.Shutdowner) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					ctx := context.Background()
					var err error
					if target.IsZero() {
						err = sched.RunOnce(ctx)
					} else {
						err = sched.RunFor(ctx, target)
					}
					if err != nil {
						logg.Error("snapshot run failed", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
						return
					}
					_ = shutdowner.Shutdown()
				}()
				return nil
			},
		})
	}
}
