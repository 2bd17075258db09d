package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/LoohanZinho/enemaccess/internal/accesskey"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	"github.com/LoohanZinho/enemaccess/internal/migration"
	"github.com/LoohanZinho/enemaccess/internal/notification"
	"github.com/LoohanZinho/enemaccess/internal/observability"
	"github.com/LoohanZinho/enemaccess/internal/providers/email"
	"github.com/LoohanZinho/enemaccess/internal/ratelimit"
	"github.com/LoohanZinho/enemaccess/internal/renewal"
	"github.com/LoohanZinho/enemaccess/internal/server"
	"github.com/LoohanZinho/enemaccess/internal/webhook"
	"github.com/LoohanZinho/enemaccess/pkg/db"
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

		// Functional domains
		accesskey.Module,
		renewal.Module,
		ratelimit.Module,
		email.Module,
		notification.Module,
		webhook.Module,
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
