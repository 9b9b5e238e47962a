package warranty

import (
	"github.com/smallbiznis/seatbroker/internal/warranty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("warranty.service",
	fx.Provide(service.New),
)
