package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/splitledger/internal/affiliate"
	"github.com/smallbiznis/splitledger/internal/alert"
	"github.com/smallbiznis/splitledger/internal/audit"
	"github.com/smallbiznis/splitledger/internal/cache"
	"github.com/smallbiznis/splitledger/internal/clock"
	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/smallbiznis/splitledger/internal/feeconfig"
	"github.com/smallbiznis/splitledger/internal/migration"
	"github.com/smallbiznis/splitledger/internal/observability"
	"github.com/smallbiznis/splitledger/internal/paymentprovider"
	"github.com/smallbiznis/splitledger/internal/ratelimit"
	"github.com/smallbiznis/splitledger/internal/scheduler"
	"github.com/smallbiznis/splitledger/internal/server"
	"github.com/smallbiznis/splitledger/internal/settlement"
	"github.com/smallbiznis/splitledger/pkg/db"
	"go.uber.org/fx"
)

// Single binary: webhooks, read and admin API, and the release scheduler.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		cache.Module,
		alert.Module,

		// Functional Domains
		audit.Module,
		feeconfig.Module,
		affiliate.Module,
		paymentprovider.Module,
		settlement.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
