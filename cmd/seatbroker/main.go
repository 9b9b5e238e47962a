package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/smallbiznis/seatbroker/internal/credential"
	"github.com/smallbiznis/seatbroker/internal/grant"
	"github.com/smallbiznis/seatbroker/internal/ledger"
	"github.com/smallbiznis/seatbroker/internal/membership"
	"github.com/smallbiznis/seatbroker/internal/migration"
	"github.com/smallbiznis/seatbroker/internal/observability"
	"github.com/smallbiznis/seatbroker/internal/payment"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	"github.com/smallbiznis/seatbroker/internal/reconcile"
	"github.com/smallbiznis/seatbroker/internal/redemption"
	"github.com/smallbiznis/seatbroker/internal/resource"
	"github.com/smallbiznis/seatbroker/internal/scheduler"
	"github.com/smallbiznis/seatbroker/internal/server"
	"github.com/smallbiznis/seatbroker/internal/warranty"
	"github.com/smallbiznis/seatbroker/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		credential.Module,
		ratelimit.Module,
		membership.Module,

		// Allocation domains
		resource.Module,
		ledger.Module,
		grant.Module,
		redemption.Module,
		payment.Module,
		warranty.Module,
		reconcile.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
