package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"cartsaga/cmd/server/config"
	"cartsaga/internal/adapters/grpc"
	"cartsaga/internal/checkout"
	"cartsaga/internal/entity"
	"cartsaga/internal/events"
	"cartsaga/internal/logging"
	"cartsaga/internal/observability"
	"cartsaga/internal/realtime"
	"cartsaga/internal/workflow"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	app, err := config.LoadApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger, flush, err := logging.New(app.LogLevel, app.Production())
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, app, logger)
	if err != nil {
		logger.Error(err, "server stopped")
	}
	_ = flush()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, app config.AppConfig, logger logr.Logger) error {
	res := &resources{databaseURL: app.DatabaseURL, logger: logger}
	defer res.Close()

	metrics := observability.NewMetrics()
	registry := prometheus.NewRegistry()
	collector, err := observability.NewSagaCollector(registry)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger.WithName("events"))
	publisher, err := buildPublisher(app, hub, res)
	if err != nil {
		return err
	}
	notifier := events.NewNotifier(publisher, logger.WithName("events"))

	orchestrator := checkout.NewOrchestrator(
		checkout.WithObservers(metrics, collector, notifier),
		checkout.WithOrchestratorLogger(logger.WithName("saga")),
	)
	stepCfg, err := checkout.LoadStepConfigFromEnv()
	if err != nil {
		return err
	}
	activities, _ := checkout.BuildActivities(stepCfg, logger)

	repo, err := buildCartRepository(ctx, app, res)
	if err != nil {
		return fmt.Errorf("cart store: %w", err)
	}

	var engine *workflow.Engine
	var strategy entity.CheckoutStrategy = checkout.NewInProcess(orchestrator, activities)
	if app.Strategy == config.StrategyWorkflow {
		activityLog, err := buildActivityLog(ctx, app, res)
		if err != nil {
			return fmt.Errorf("workflow log: %w", err)
		}
		engine = workflow.NewEngine(activityLog, orchestrator, activities, logger.WithName("workflow"))
		strategy = engine
	}
	host := entity.NewHost(repo, strategy, logger.WithName("carts"))

	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", app.GRPCAddr)
	if err != nil {
		return err
	}

	var limiter rateLimiter
	if l := newIngressLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst, metrics); l != nil {
		limiter = l
	}
	server := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger.WithName("grpc"))),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger.WithName("grpc"))),
	)
	grpc.RegisterCartServiceServer(server, grpc.NewCartServer(host))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	setServing(healthServer, healthpb.HealthCheckResponse_SERVING)

	if !app.Production() {
		reflection.Register(server)
		logger.Info("gRPC reflection enabled", "env", app.Env)
	}

	obsSrv := &http.Server{
		Addr:              obsCfg.Addr,
		Handler:           observability.NewServeMux(metrics, observability.PrometheusHandlerFor(registry), hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		notifier.Run(context.Background())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if engine == nil {
			return nil
		}
		n, err := engine.Recover(gctx, host)
		if err != nil {
			logger.Error(err, "recover checkout workflows", "workflows", n)
			return nil
		}
		if n > 0 {
			logger.Info("checkout workflows recovered", "workflows", n)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", app.GRPCAddr, "strategy", app.Strategy, "store", app.CartStore)
		return server.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("observability server listening", "addr", obsCfg.Addr)
		if err := obsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		setServing(healthServer, healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.MarkShutdown(metrics.Snapshot().Checkouts.InFlight)
		server.GracefulStop()

		// Checkouts finished during the graceful stop still publish their events.
		notifier.Close()
		<-notifierDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return obsSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, grpcpkg.ErrServerStopped) {
		err = nil
	}
	logger.Info("server stopped")
	return err
}

func buildPublisher(app config.AppConfig, hub *realtime.Hub, res *resources) (events.Publisher, error) {
	publishers := []events.Publisher{events.NewBroadcastPublisher(hub)}
	if app.KafkaBrokers != "" {
		writer, err := events.NewKafkaWriter(app.KafkaBrokers, app.KafkaTopic)
		if err != nil {
			return nil, err
		}
		kafkaPublisher := events.NewKafkaPublisher(writer)
		res.add("kafka writer", kafkaPublisher.Close)
		publishers = append(publishers, kafkaPublisher)
	}
	return events.NewFanoutPublisher(publishers...), nil
}

func setServing(h *health.Server, status healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus(grpc.CartService_ServiceDesc.ServiceName, status)
	h.SetServingStatus("", status)
}
