// Command restatehost serves the cart as a Restate virtual object, keyed by
// cart id, with checkout steps journaled by the Restate runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	restate "github.com/restatedev/sdk-go"
	"github.com/restatedev/sdk-go/server"
	"github.com/spf13/pflag"

	restateadapter "cartsaga/internal/adapters/restate"
	"cartsaga/internal/checkout"
	"cartsaga/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("restatehost", pflag.ExitOnError)
	addr := flags.String("addr", ":9080", "listen address for the Restate runtime")
	level := flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	logger, flush, err := logging.New(*level, os.Getenv("APP_ENV") == "production")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = flush() }()

	stepCfg, err := checkout.LoadStepConfigFromEnv()
	if err != nil {
		logger.Error(err, "load step config")
		os.Exit(1)
	}
	activities, _ := checkout.BuildActivities(stepCfg, logger)

	srv := server.NewRestate()
	if err := srv.Bind(restate.Reflect(restateadapter.NewCartObject(activities, logger.WithName("saga")))); err != nil {
		logger.Error(err, "bind cart object")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("restate host listening", "addr", *addr)
	if err := srv.Start(ctx, *addr); err != nil {
		logger.Error(err, "restate host stopped")
		os.Exit(1)
	}
}
