// Command server starts the VidLoop API and live session coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vidloop-live/internal/api"
	"vidloop-live/internal/live"
	"vidloop-live/internal/observability/logging"
	"vidloop-live/internal/observability/metrics"
	"vidloop-live/internal/server"
	"vidloop-live/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	liveThreshold := flag.Int("live-threshold", 0, "follower count that unlocks broadcasting")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	authLimit := flag.Int("rate-auth-limit", 0, "maximum auth attempts per window for a single IP")
	authWindow := flag.Duration("rate-auth-window", 0, "window for counting auth attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed auth throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed auth throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	appOrigins := flag.String("cors-app-origins", "", "comma separated origins of the public web app")
	studioOrigins := flag.String("cors-studio-origins", "", "comma separated origins of the creator studio")
	liveQueueDriver := flag.String("live-queue-driver", "", "live event queue driver (memory or redis)")
	liveRedisAddr := flag.String("live-queue-redis-addr", "", "Redis address for live event transport")
	liveRedisAddrs := flag.String("live-queue-redis-addrs", "", "comma separated Redis addresses for live event transport")
	liveRedisUsername := flag.String("live-queue-redis-username", "", "Redis username for live event queue")
	liveRedisPassword := flag.String("live-queue-redis-password", "", "Redis password for live event queue")
	liveRedisStream := flag.String("live-queue-redis-stream", "", "Redis stream key for live events")
	liveRedisGroup := flag.String("live-queue-redis-group", "", "Redis consumer group for live events")
	liveRedisPoolSize := flag.Int("live-queue-redis-pool-size", 0, "maximum Redis connections for live event queue")
	liveRedisTLSCA := flag.String("live-queue-redis-tls-ca", "", "path to Redis TLS CA certificate for live event queue")
	liveRedisTLSCert := flag.String("live-queue-redis-tls-cert", "", "path to Redis TLS client certificate for live event queue")
	liveRedisTLSKey := flag.String("live-queue-redis-tls-key", "", "path to Redis TLS client key for live event queue")
	liveRedisTLSServerName := flag.String("live-queue-redis-tls-server-name", "", "override Redis TLS server name for live event queue")
	liveRedisTLSSkipVerify := flag.Bool("live-queue-redis-tls-skip-verify", false, "skip Redis TLS verification for live event queue")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("VIDLOOP_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("VIDLOOP_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("VIDLOOP_ADDR"))

	var options []storage.Option
	if threshold := resolveInt(*liveThreshold, "VIDLOOP_LIVE_THRESHOLD"); threshold > 0 {
		options = append(options, storage.WithLiveThreshold(threshold))
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("VIDLOOP_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("VIDLOOP_DATA"))
		store, err = storage.NewJSONRepository(dataFile, options...)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pgOptions := append([]storage.Option(nil), options...)
		maxConns := resolveInt(*postgresMaxConns, "VIDLOOP_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "VIDLOOP_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "VIDLOOP_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "VIDLOOP_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "VIDLOOP_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "VIDLOOP_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("VIDLOOP_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	liveQueueCfg := live.RedisQueueConfig{
		Addr:       firstNonEmpty(*liveRedisAddr, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*liveRedisAddrs, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*liveRedisUsername, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*liveRedisPassword, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*liveRedisStream, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*liveRedisGroup, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_GROUP")),
		PoolSize:   resolveInt(*liveRedisPoolSize, "VIDLOOP_LIVE_QUEUE_REDIS_POOL_SIZE"),
		TLS: live.RedisTLSConfig{
			CAFile:             firstNonEmpty(*liveRedisTLSCA, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*liveRedisTLSCert, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*liveRedisTLSKey, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*liveRedisTLSServerName, os.Getenv("VIDLOOP_LIVE_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*liveRedisTLSSkipVerify, "VIDLOOP_LIVE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	queue, err := configureLiveQueue(*liveQueueDriver, liveQueueCfg, logger)
	if err != nil {
		logger.Error("failed to configure live event queue", "error", err)
		os.Exit(1)
	}

	gateway := live.NewGateway(live.GatewayConfig{
		Store:  store,
		Queue:  queue,
		Ledger: live.NewLedger(store, nil),
		Logger: logging.WithComponent(logger, "live"),
	})
	handler := api.New(store, gateway, logger)

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "VIDLOOP_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "VIDLOOP_RATE_GLOBAL_BURST"),
		AuthLimit:     resolveInt(*authLimit, "VIDLOOP_RATE_AUTH_LIMIT"),
		AuthWindow:    resolveDuration(*authWindow, "VIDLOOP_RATE_AUTH_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("VIDLOOP_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("VIDLOOP_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "VIDLOOP_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: firstNonEmpty(*tlsCert, os.Getenv("VIDLOOP_TLS_CERT")), KeyFile: firstNonEmpty(*tlsKey, os.Getenv("VIDLOOP_TLS_KEY"))},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AppOrigins:    splitAndTrim(firstNonEmpty(*appOrigins, os.Getenv("VIDLOOP_CORS_APP_ORIGINS"))),
			StudioOrigins: splitAndTrim(firstNonEmpty(*studioOrigins, os.Getenv("VIDLOOP_CORS_STUDIO_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		live.NewWorker(store, queue, logging.WithComponent(logger, "gift-archiver")).Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Info("VidLoop API listening", "addr", listenAddr, "mode", serverMode)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureLiveQueue(driver string, cfg live.RedisQueueConfig, logger *slog.Logger) (live.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(os.Getenv("VIDLOOP_LIVE_QUEUE_DRIVER")))
	}
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for live event queue")
		}
		cfg.Logger = logging.WithComponent(logger, "live-queue")
		return live.NewRedisQueue(cfg)
	case "", "memory":
		return live.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported live queue driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("VIDLOOP_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
