// Command authd serves the LendLoop authentication API.
//
// Configuration comes from the environment, optionally seeded from a .env
// file in the working directory. See authcore.Config for the auth settings;
// the server settings are below.
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

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/lendloop/authcore"
	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/httpapi"
	"github.com/lendloop/authcore/mail"
	otelexport "github.com/lendloop/authcore/metrics/export/otel"
	"github.com/lendloop/authcore/metrics/export/prometheus"
)

type serverConfig struct {
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	CORSOrigins      []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	MailOutboxStream string        `env:"MAIL_OUTBOX_STREAM"`
	MailOutboxMaxLen int64         `env:"MAIL_OUTBOX_MAXLEN" envDefault:"10000"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	Development      bool          `env:"DEV_LOGGING" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	var srvCfg serverConfig
	if err := env.Parse(&srvCfg); err != nil {
		return fmt.Errorf("parse server env: %w", err)
	}
	cfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	logger, err := newLogger(srvCfg.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     srvCfg.RedisAddr,
		Password: srvCfg.RedisPassword,
		DB:       srvCfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis %s: %w", srvCfg.RedisAddr, err)
	}

	var sender mail.Sender = mail.NewLogSender(logger)
	if srvCfg.MailOutboxStream != "" {
		sender = mail.NewOutbox(rdb, srvCfg.MailOutboxStream, srvCfg.MailOutboxMaxLen)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(account.NewRedisStore(rdb, cfg.Account.RedisPrefix, time.Now)).
		WithMailer(sender).
		WithLogger(logger).
		WithAuditSink(authcore.NewZapSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	provider := sdkmetric.NewMeterProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	otelExp, err := otelexport.New(provider.Meter("github.com/lendloop/authcore"), engine)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}
	defer func() { _ = otelExp.Close() }()

	router := httpapi.NewRouter(engine, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: srvCfg.CORSOrigins,
	})
	router.Handle("/metrics", prometheus.New(engine).Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              srvCfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srvCfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped", zap.Uint64("audit_dropped", engine.AuditDropped()))
	return nil
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
