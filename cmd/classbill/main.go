package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/classbill/classbill/internal/balance"
	"github.com/classbill/classbill/internal/cache"
	"github.com/classbill/classbill/internal/charge"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/internal/config"
	"github.com/classbill/classbill/internal/fee"
	"github.com/classbill/classbill/internal/invoice"
	"github.com/classbill/classbill/internal/logger"
	"github.com/classbill/classbill/internal/migration"
	"github.com/classbill/classbill/internal/observability/metrics"
	"github.com/classbill/classbill/internal/payment"
	"github.com/classbill/classbill/internal/reconciliation"
	"github.com/classbill/classbill/internal/school"
	"github.com/classbill/classbill/internal/server"
	"github.com/classbill/classbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		cache.Module,
		metrics.Module,
		migration.Module,

		school.Module,
		fee.Module,
		charge.Module,
		balance.Module,
		invoice.Module,
		payment.Module,
		reconciliation.Module,

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
