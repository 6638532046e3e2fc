package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gophpaste/internal/buildinfo"
	"github.com/dmitrijs2005/gophpaste/internal/config"
	"github.com/dmitrijs2005/gophpaste/internal/daemon"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel)

	app, err := daemon.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
