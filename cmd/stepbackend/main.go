// Command stepbackend serves simulated payment and shipping endpoints for
// local checkout runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"cartsaga/internal/logging"
	"cartsaga/internal/stepbackend"
)

func main() {
	flags := pflag.NewFlagSet("stepbackend", pflag.ExitOnError)
	addr := flags.String("addr", ":8081", "listen address")
	delay := flags.Duration("delay", stepbackend.DefaultDelay, "processing delay per call")
	paymentEvery := flags.Int("payment-fail-every", 2, "fail every Nth payment call, 0 never fails")
	shippingEvery := flags.Int("shipping-fail-every", 2, "fail every Nth shipping call, 0 never fails")
	level := flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	logger, flush, err := logging.New(*level, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = flush() }()

	backend := stepbackend.New(
		stepbackend.WithDelay(*delay),
		stepbackend.WithFailEvery(*paymentEvery, *shippingEvery),
		stepbackend.WithLogger(logger.WithName("stepbackend")),
	)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("step backend listening", "addr", *addr, "delay", *delay)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "step backend stopped")
	}
}
