package grant

import (
	"github.com/smallbiznis/seatbroker/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.selector",
	fx.Provide(service.NewSelector),
)
