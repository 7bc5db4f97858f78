package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ahrav/curation-progress/internal/api"
	"github.com/ahrav/curation-progress/internal/api/debug"
	"github.com/ahrav/curation-progress/internal/api/mux"
	"github.com/ahrav/curation-progress/internal/api/routes"
	"github.com/ahrav/curation-progress/internal/app/execution"
	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/app/relay"
	"github.com/ahrav/curation-progress/internal/app/worker"
	"github.com/ahrav/curation-progress/internal/bootstrap"
	"github.com/ahrav/curation-progress/internal/config"
	"github.com/ahrav/curation-progress/internal/config/fileloader"
	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/gateway"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/otel"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "progress-server"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	ctx := context.Background()

	cfg, err := fileloader.NewFileLoader(os.Getenv("CONFIG_PATH")).Load(ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	hostname := bootstrap.Hostname()
	svcName := fmt.Sprintf("%s-%s", cfg.Service.Name, hostname)
	log := bootstrap.NewLogger(os.Stdout, os.Stderr, cfg.Service.LogLevel, svcName, hostname, serviceType)

	if err := run(ctx, cfg, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
		Host:             hostname,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.Background())

	tracer := providers.Tracer.Tracer(cfg.Service.Name)
	mp := providers.Meter
	clock := timeutil.Default()

	// -------------------------------------------------------------------------
	// Storage and Event Bus
	log.Info(ctx, "startup", "status", "initializing storage", "backend", cfg.Store.Backend)

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, clock, log, tracer)
	if err != nil {
		return err
	}
	defer closeStore()

	log.Info(ctx, "startup", "status", "initializing event bus", "backend", cfg.Bus.Backend)

	roles := []bootstrap.BusRole{bootstrap.RoleGateway}
	if cfg.Worker.Embedded {
		roles = append(roles, bootstrap.RoleWorker)
	}
	buses, err := bootstrap.OpenBuses(ctx, cfg.Bus, hostname, mp, log, tracer, roles...)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer buses.Close()

	// -------------------------------------------------------------------------
	// Application Services

	relayMetrics, err := relay.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating relay metrics: %w", err)
	}
	gatewayMetrics, err := gateway.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating gateway metrics: %w", err)
	}
	apiMetrics, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	manager := appprogress.NewManager(store, clock, log, tracer)
	updates := relay.New(events.NewBusPublisher(buses.Updates), relayMetrics, log, tracer,
		relay.WithBuffer(cfg.Worker.NotifyQueue))
	executor := execution.NewBusExecutor(events.NewBusPublisher(buses.Jobs), clock, log, tracer)
	submitter := appprogress.NewSubmitter(manager, executor, clock, log, tracer)
	retry := appprogress.NewRetryCoordinator(manager, executor, clock, log, tracer)

	gw := gateway.New(
		gateway.NewHub(gatewayMetrics, log),
		buses.Updates,
		gateway.Config{
			Observer: gateway.ObserverConfig{
				SendBuffer:   cfg.Gateway.SendBuffer,
				WriteWait:    cfg.Gateway.WriteWait,
				PongWait:     cfg.Gateway.PongWait,
				PingPeriod:   cfg.Gateway.PingPeriod,
				ReadLimit:    cfg.Gateway.ReadLimit,
				InboundRate:  rate.Limit(cfg.Gateway.InboundRate),
				InboundBurst: cfg.Gateway.InboundBurst,
			},
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
		},
		clock,
		gatewayMetrics,
		log,
		tracer,
	)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(runCtx); err != nil {
		return err
	}

	var pool *worker.Pool
	if cfg.Worker.Embedded {
		log.Info(ctx, "startup", "status", "starting embedded worker pool", "concurrency", cfg.Worker.Concurrency)

		reporter := worker.NewReporter(manager, updates, clock, log, tracer)
		handler := worker.NewCuratorHandler(cfg.Worker.CurationURL, cfg.Worker.CurationTimeout, log, tracer)
		poolOpts := []worker.PoolOption{worker.WithQueueSize(cfg.Worker.QueueSize)}
		if cfg.Bus.Backend == config.BusKafka {
			poolOpts = append(poolOpts, worker.WithBlockingHandoff())
		}
		pool = worker.NewPool(buses.Jobs, handler, reporter, cfg.Worker.Concurrency, log, tracer, poolOpts...)
		if err := pool.Start(runCtx); err != nil {
			return fmt.Errorf("starting worker pool: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// Start Debug Service

	if cfg.HTTP.DebugAddr != "" {
		go func() {
			log.Info(ctx, "startup", "status", "debug router started", "host", cfg.HTTP.DebugAddr)

			if err := http.ListenAndServe(cfg.HTTP.DebugAddr, debug.Mux()); err != nil {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.HTTP.DebugAddr, "msg", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	webAPI := mux.WebAPI(mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Clock:     clock,
		Metrics:   apiMetrics,
		Manager:   manager,
		Submitter: submitter,
		Retry:     retry,
		Notifier:  updates,
		Updates:   gw.ServeWS,
	},
		routes.Routes(),
		mux.WithCORS(cfg.HTTP.CORSOrigins),
	)

	apiServer := http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      webAPI,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return runCtx },
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	// -------------------------------------------------------------------------
	// Start gRPC health server

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(providers.Tracer),
			otelgrpc.WithMeterProvider(mp),
		)),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	var grpcListener net.Listener
	if cfg.HTTP.GRPCAddr != "" {
		if grpcListener, err = net.Listen("tcp", cfg.HTTP.GRPCAddr); err != nil {
			return fmt.Errorf("failed to listen on gRPC port: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if grpcListener != nil {
		g.Go(func() error {
			log.Info(ctx, "startup", "status", "gRPC health server started", "host", cfg.HTTP.GRPCAddr)
			if err := grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("grpc server error: %w", err)
			}
			return nil
		})
	}

	// -------------------------------------------------------------------------
	// Shutdown

	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")
		defer log.Info(ctx, "shutdown", "status", "shutdown complete")

		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := apiServer.Shutdown(sctx)
		if err != nil {
			_ = apiServer.Close()
		}
		grpcServer.GracefulStop()

		// Stop accepting jobs and updates, then let accepted ones finish.
		stop()
		if pool != nil {
			pool.Wait()
		}
		if rerr := updates.Close(sctx); rerr != nil {
			log.Error(ctx, "shutdown", "status", "relay flush incomplete", "msg", rerr)
		}
		if err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})

	return g.Wait()
}
