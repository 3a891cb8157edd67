// Command devserver runs the in-memory group-buy API for local development
// against the groupbuy command line client.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/audit"
	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/groupbuy/groupbuy-client/internal/devapi"
	"github.com/groupbuy/groupbuy-client/internal/observe"
	"github.com/groupbuy/groupbuy-client/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port int `env:"DEVSERVER_PORT, default=8080"`

	// Fixtures is a YAML fixture file; empty uses the built-in data set.
	Fixtures string `env:"DEVSERVER_FIXTURES"`

	// Secret signs access tokens. Empty generates one per run, so restarting
	// the server invalidates existing sessions.
	Secret string `env:"DEVSERVER_SECRET"`

	AccessTTL    time.Duration `env:"DEVSERVER_ACCESS_TTL, default=15m"`
	FailEvery    int           `env:"DEVSERVER_FAIL_EVERY, default=0"`
	Latency      time.Duration `env:"DEVSERVER_LATENCY, default=0s"`
	DrainTimeout time.Duration `env:"DEVSERVER_DRAIN_TIMEOUT, default=10s"`

	Observe config.ObserveConfig
}

func main() {
	configureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := launchServer(ctx); err != nil {
		log.Fatal().Err(err).Msg("development server failed")
	}
}

func launchServer(ctx context.Context) error {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	var hooks server.ShutdownHooks

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	fixtures := devapi.DefaultFixtures()
	if cfg.Fixtures != "" {
		fixtures, err = devapi.LoadFixtures(cfg.Fixtures)
		if err != nil {
			return err
		}
	}

	secret := cfg.Secret
	if secret == "" {
		secret = rand.Text()
	}

	api := devapi.New(devapi.Options{
		Fixtures:  fixtures,
		Secret:    []byte(secret),
		AccessTTL: cfg.AccessTTL,
		FailEvery: cfg.FailEvery,
		Latency:   cfg.Latency,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           api.Handler(),
		MaxHeaderBytes:    20 << 10,
		ReadHeaderTimeout: 20 * time.Second,
	}

	log.Info().
		Int("users", len(fixtures.Users)).
		Int("products", len(fixtures.Products)).
		Dur("access_ttl", cfg.AccessTTL).
		Int("fail_every", cfg.FailEvery).
		Msg("development API configured")

	return server.Serve(ctx, srv, listener, cfg.DrainTimeout, &hooks)
}

func configureLogging() {
	zerolog.SetGlobalLevel(zerolog.Level(-128))
	zerolog.LevelFieldMarshalFunc = audit.MarshalLevel

	log.Logger = log.
		Output(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.DebugLevel)

	zerolog.DefaultContextLogger = &log.Logger
}
