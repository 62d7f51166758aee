package event

import (
	"github.com/smallbiznis/rollup/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.repository",
	fx.Provide(repository.Provide),
)
