// Command authd serves the authcore engine over HTTP.
//
//	authd -config /etc/authd/authd.toml
//
// Every setting can also come from a .env file or AUTHD_* variables.
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/jwt"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Service:     cfg.Service,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}
	pg := postgres.New(db, nil)

	sealKey, err := cfg.SealKeyBytes()
	if err != nil {
		return err
	}
	current, err := loadKey(cfg.CurrentKeyFile)
	if err != nil {
		return err
	}
	next, err := loadKey(cfg.NextKeyFile)
	if err != nil {
		return err
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.Issuer = cfg.Issuer
	engineCfg.JWT.Audience = cfg.Audience
	engineCfg.JWT.AccessTTL = cfg.AccessTTL
	engineCfg.JWT.KeyGrace = cfg.KeyGrace
	engineCfg.Session.TTL = cfg.SessionTTL
	engineCfg.TwoFactor.Issuer = cfg.Issuer

	var verifier captcha.Verifier
	if cfg.CaptchaVerifyURL != "" {
		verifier = captcha.NewSiteVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret, nil)
	} else {
		logger.Warn("no captcha verifier configured; registration captcha disabled and risk-triggered captchas fail closed")
		engineCfg.Captcha.RequireOnRegister = false
	}

	builder := authcore.New().
		WithConfig(engineCfg).
		WithStore(pg).
		WithSealKey(sealKey).
		WithSigningKeys(current, next).
		WithCaptchaVerifier(verifier).
		WithLogger(logger)

	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(rdb)
	} else {
		logger.Warn("no redis configured; counters are per-process and sessions live in postgres")
		builder = builder.WithSessionStore(pg.Sessions())
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	exporter, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("github.com/MrEthical07/authcore"), engine)
	if err != nil {
		return err
	}
	defer exporter.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := httpapi.NewRouter(httpapi.Options{
		Engine:            engine,
		Logger:            logger,
		Registry:          reg,
		RequestsPerMinute: cfg.RequestsPerMinute,
		CORSOrigins:       cfg.CORSOrigins,
		AdminToken:        cfg.AdminToken,
	})
	if err != nil {
		return err
	}

	if cfg.RotationInterval > 0 {
		go rotateKeys(ctx, engine, cfg.RotationInterval, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening", "addr", srv.Addr, "issuer", cfg.Issuer)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rotateKeys promotes NEXT to CURRENT on every tick. Each replica rotates on its own
// schedule, so multi-replica deployments should set the interval to zero and rotate
// through the admin endpoint on one node with shared key files instead.
func rotateKeys(ctx context.Context, engine *authcore.Engine, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.PromoteSigningKey(ctx); err != nil {
				logger.Error("key rotation failed", "error", err)
				continue
			}
			logger.Info("signing key promoted")
		}
	}
}

// loadKey reads a PEM private key. The kid is the file name without extension. An
// empty path returns nil so the engine generates the key.
func loadKey(path string) (*jwt.SigningKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	kid := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return jwt.ParseKeyPEM(kid, data)
}
