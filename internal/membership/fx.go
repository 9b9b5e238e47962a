package membership

import (
	"github.com/smallbiznis/seatbroker/internal/membership/httpclient"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.provider",
	fx.Provide(httpclient.New),
)
