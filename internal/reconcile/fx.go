package reconcile

import (
	"github.com/smallbiznis/seatbroker/internal/reconcile/repository"
	"github.com/smallbiznis/seatbroker/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
