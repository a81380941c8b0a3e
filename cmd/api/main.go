package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"slotkeeper/internal/api"
	"slotkeeper/internal/availability"
	"slotkeeper/internal/config"
	"slotkeeper/internal/database"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/export"
	"slotkeeper/internal/google"
	"slotkeeper/internal/logging"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/repository"
	"slotkeeper/internal/service"
	"slotkeeper/internal/travel"
	"slotkeeper/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config file")
	flag.Parse()

	cfg, logger, closer, err := loadConfigAndLogger(*configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewEventBus()
	rates := rateLimitStore(db, redisClient, logger)
	gate := service.NewAntiSpamGate(rates, db, bus, cfg.Booking.RateLimitMax, cfg.Booking.RateLimitWindow,
		logging.Component(logger, "gate"))
	lifecycle := service.NewLifecycle(db, bus, cfg.Booking.PendingTTL, logging.Component(logger, "lifecycle"))

	buffers := availability.NewBufferCalculator(initTravel(ctx, cfg, logger), cfg.Booking.TravelTimeout,
		cfg.Booking.DefaultTravelMinutes, logging.Component(logger, "travel"))
	bookings := service.NewBookingService(db, db, gate, lifecycle, buffers, service.BookingPolicy{
		GraceBufferMinutes: cfg.Booking.GraceBufferMinutes,
		SlotGranularity:    cfg.Booking.SlotGranularity,
	}, logging.Component(logger, "booking"))

	if sheets := initGoogleSheets(ctx, cfg, logger); sheets != nil {
		sheetsWorker := worker.NewSheetsWorker(db, sheets, redisClient, worker.DefaultRetryPolicy,
			logging.Component(logger, "sheets-worker"))
		sheetsWorker.Subscribe(bus)
		go sheetsWorker.Start(ctx)
	}

	if err := startScheduler(ctx, cfg, db, lifecycle, buffers, logger); err != nil {
		return err
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	probes := map[string]api.Probe{
		"database": db.PingContext,
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}
	probes["ratelimit"] = rates.Check

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings:  bookings,
		Lifecycle: lifecycle,
		Blocks:    gate,
		Exporter:  export.NewExporter(db, cfg.Exports.Path, logging.Component(logger, "export")),
		Probes:    probes,
	}, logging.Component(logger, "http"))

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, probes, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfigAndLogger(configPath string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// loadOwners merges owners from the main config with the standalone owners
// file. A missing file is not an error.
func loadOwners(cfg *config.Config, logger *zerolog.Logger) ([]config.OwnerConfig, error) {
	owners := append([]config.OwnerConfig(nil), cfg.Owners...)

	ownersPath := cfg.OwnersPath
	if ownersPath == "" {
		ownersPath = envOr("OWNERS_PATH", "configs/owners.yaml")
	}
	data, err := os.ReadFile(ownersPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("owners_path", ownersPath).Msg("owners file not found")
		return owners, config.ValidateOwners(owners)
	}
	if err != nil {
		logger.Error().Err(err).Str("owners_path", ownersPath).Msg("read owners")
		return nil, err
	}

	var ownersConfig struct {
		Owners []config.OwnerConfig `yaml:"owners"`
	}
	if err := yaml.Unmarshal(data, &ownersConfig); err != nil {
		logger.Error().Err(err).Str("owners_path", ownersPath).Msg("parse owners")
		return nil, err
	}

	owners = append(owners, ownersConfig.Owners...)
	return owners, config.ValidateOwners(owners)
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	owners, err := loadOwners(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	for _, o := range owners {
		owner, err := o.ToModel()
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := db.UpsertOwner(ctx, owner); err != nil {
			db.Close()
			return nil, fmt.Errorf("upsert owner %s: %w", owner.ID, err)
		}
	}
	logger.Info().Int("owners", len(owners)).Msg("owners loaded")
	return db, nil
}

// initRedis keeps the client even when the first ping fails: the rate limit
// store fails over per call and the sheets queue falls back to memory.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis ping failed, relying on fallbacks until it recovers")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func rateLimitStore(db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *repository.FailoverRateLimitStore {
	var primary domain.RateLimitStore = db
	ping := db.PingContext
	if redisClient != nil {
		primary = repository.NewRedisRateLimitStore(redisClient, "ratelimit")
		ping = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}
	return repository.NewFailoverRateLimitStore(primary, repository.NewMemoryRateLimitStore(),
		logging.Component(logger, "ratelimit")).WithPing(ping)
}

func initTravel(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.TravelEstimator {
	if cfg.Travel.BaseURL == "" {
		logger.Warn().Msg("travel service not configured, using default travel buffer")
		return nil
	}
	client, err := travel.NewClient(ctx, cfg.Travel, logging.Component(logger, "travel-client"))
	if err != nil {
		logger.Warn().Err(err).Msg("travel client init failed, using default travel buffer")
		return nil
	}
	return client
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Sheets.Enabled {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx,
		cfg.Sheets.CredentialsFile,
		cfg.Sheets.SpreadsheetID,
		cfg.Sheets.SheetName,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheetsService.WriteHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets header write failed")
	}
	if err := sheetsService.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func startScheduler(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	lifecycle *service.Lifecycle,
	buffers *availability.BufferCalculator,
	logger *zerolog.Logger,
) error {
	sched := worker.NewScheduler(logging.Component(logger, "scheduler"))

	sweeper := worker.NewExpirySweeper(lifecycle, domain.SystemClock{}, logging.Component(logger, "sweeper"))
	if err := sweeper.Register(sched, cfg.Booking.SweepSchedule); err != nil {
		return err
	}

	recomputer := worker.NewTravelRecomputer(db, db, buffers, lifecycle, worker.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}, logging.Component(logger, "travel-recompute"))
	if err := recomputer.Register(sched, cfg.Booking.TravelRecompute); err != nil {
		return err
	}

	go sched.Run(ctx)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("gRPC health server started")
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
