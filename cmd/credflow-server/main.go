// Command credflow-server serves the credflow flows over HTTP.
//
// Configuration comes from the YAML file named by -config (optional) and
// CREDFLOW_* environment variables. Credentials live in Postgres when
// postgres.url is set, in memory otherwise. Mail is published to NATS when
// nats.url is set, logged otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrEthical07/credflow"
	"github.com/MrEthical07/credflow/internal/config"
	"github.com/MrEthical07/credflow/internal/httpapi"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/userstore/memory"
	"github.com/MrEthical07/credflow/userstore/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", os.Getenv("CREDFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format).With(zap.String("env", cfg.Env))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	users, closeUsers, err := buildUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	builder := credflow.New().
		WithConfig(cfg.Engine()).
		WithRedis(rdb).
		WithUserStore(users).
		WithNotifier(notifier).
		WithLogger(logger)
	if cfg.Auth.AuditSink == config.AuditSinkJSON {
		builder = builder.WithAuditSink(credflow.NewJSONAuditSink(os.Stdout, logger))
	}
	if cfg.Metrics {
		builder = builder.WithMetricsRegisterer(registry)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Engine:        engine,
		Logger:        logger,
		AdminToken:    cfg.HTTP.AdminToken,
		SecureCookies: cfg.HTTP.SecureCookies || cfg.Production(),
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		TrustProxy:    cfg.HTTP.TrustProxy,
	}
	if cfg.Metrics {
		opts.Gatherer = registry
	}

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(opts),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credflow server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildUserStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (credflow.UserStore, func(), error) {
	if cfg.Postgres.URL == "" {
		if cfg.Production() {
			return nil, nil, errors.New("postgres.url is required in production")
		}
		logger.Warn("no postgres.url configured, credentials are kept in memory")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	store := postgres.New(pool)
	if cfg.Postgres.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return store, pool.Close, nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) (credflow.Notifier, func(), error) {
	if cfg.NATS.URL == "" {
		return notify.NewLogSender(logger), func() {}, nil
	}

	conn, err := notify.ConnectNATS(cfg.NATS.URL, "credflow-server", logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: %w", err)
	}
	publisher, err := notify.NewNATSPublisher(conn, cfg.NATS.Subject)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return publisher, func() { _ = conn.Drain() }, nil
}

func newLogger(level, format string) *zap.Logger {
	atomicLevel := zap.NewAtomicLevel()
	if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
		atomicLevel.SetLevel(zapcore.InfoLevel)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "console", "text":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), atomicLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}
