package main

import (
	"context"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/restobites/loyalty-ledger/internal/app"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config.yaml")
		migrateOnly = flag.Bool("migrate", false, "run migrations and exit")
	)
	flag.Parse()

	ctx := context.Background()
	if *migrateOnly {
		if err := app.Migrate(ctx, *configPath); err != nil {
			log.WithError(err).Error("migrate failed")
			os.Exit(1)
		}
		return
	}

	if err := app.RunServer(ctx, *configPath); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}
