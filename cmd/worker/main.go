package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/curation-progress/internal/api/debug"
	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/app/relay"
	"github.com/ahrav/curation-progress/internal/app/worker"
	"github.com/ahrav/curation-progress/internal/bootstrap"
	"github.com/ahrav/curation-progress/internal/config"
	"github.com/ahrav/curation-progress/internal/config/fileloader"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/otel"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "curation-worker"

func main() {
	_, _ = maxprocs.Set()

	ctx := context.Background()

	cfg, err := fileloader.NewFileLoader(os.Getenv("CONFIG_PATH")).Load(ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	hostname := bootstrap.Hostname()
	svcName := fmt.Sprintf("%s-worker-%s", cfg.Service.Name, hostname)
	log := bootstrap.NewLogger(os.Stdout, os.Stderr, cfg.Service.LogLevel, svcName, hostname, serviceType)

	if err := run(ctx, cfg, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	if cfg.Bus.Backend != config.BusKafka {
		return fmt.Errorf("a standalone worker needs the kafka bus, got %q", cfg.Bus.Backend)
	}

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name + "-worker",
		ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
		Host:             hostname,
		Probability:      cfg.Telemetry.Probability,
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

	tracer := providers.Tracer.Tracer(cfg.Service.Name + "-worker")
	clock := timeutil.Default()

	// -------------------------------------------------------------------------
	// Storage and Event Bus

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, clock, log, tracer)
	if err != nil {
		return err
	}
	defer closeStore()

	buses, err := bootstrap.OpenBuses(ctx, cfg.Bus, hostname, providers.Meter, log, tracer, bootstrap.RoleWorker)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer buses.Close()

	// -------------------------------------------------------------------------
	// Worker Pool

	relayMetrics, err := relay.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating relay metrics: %w", err)
	}
	notifier := relay.NewHTTPNotifier(cfg.Worker.ServerURL, relayMetrics, log, tracer,
		relay.WithQueueSize(cfg.Worker.NotifyQueue))

	manager := appprogress.NewManager(store, clock, log, tracer)
	reporter := worker.NewReporter(manager, notifier, clock, log, tracer)
	handler := worker.NewCuratorHandler(cfg.Worker.CurationURL, cfg.Worker.CurationTimeout, log, tracer)
	pool := worker.NewPool(buses.Jobs, handler, reporter, cfg.Worker.Concurrency, log, tracer,
		worker.WithQueueSize(cfg.Worker.QueueSize), worker.WithBlockingHandoff())

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(runCtx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	if cfg.HTTP.DebugAddr != "" {
		go func() {
			log.Info(ctx, "startup", "status", "debug router started", "host", cfg.HTTP.DebugAddr)
			if err := http.ListenAndServe(cfg.HTTP.DebugAddr, debug.Mux()); err != nil {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.HTTP.DebugAddr, "msg", err)
			}
		}()
	}

	log.Info(ctx, "startup", "status", "worker started", "concurrency", cfg.Worker.Concurrency)

	<-runCtx.Done()
	log.Info(ctx, "shutdown", "status", "shutdown started")
	defer log.Info(ctx, "shutdown", "status", "shutdown complete")

	pool.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := notifier.Close(sctx); err != nil {
		return fmt.Errorf("flushing updates: %w", err)
	}
	return nil
}
