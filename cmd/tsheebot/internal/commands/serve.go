package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/bot"
	"github.com/parusinf/timesheets-parus-bot/internal/logger"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/parusinf/timesheets-parus-bot/internal/webhook"
)

type ServeCmd struct {
	// Server configuration
	Listen        string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TSHEEBOT_LISTEN"`
	Cert          string `help:"path to TLS cert file" default:"" env:"TSHEEBOT_TLS_CERT"`
	Key           string `help:"path to TLS key file" default:"" env:"TSHEEBOT_TLS_KEY"`
	WebhookSecret string `help:"shared secret expected from the chat transport" default:"" env:"TSHEEBOT_WEBHOOK_SECRET"`

	// Conversation configuration
	SupportContact string `help:"contact named in replies that send the user to support" default:"@parusinf" env:"TSHEEBOT_SUPPORT_CONTACT"`
	Developer      string `help:"developer name shown by /help" default:"" env:"TSHEEBOT_DEVELOPER"`

	// Telemetry
	Tracing          bool    `help:"enable OpenTelemetry export" default:"false" env:"TSHEEBOT_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces sampled" default:"1.0" env:"TSHEEBOT_TRACE_SAMPLE_RATIO"`

	// Remote directory
	Directory      string        `help:"remote directory implementation (pooled or proxy)" default:"pooled" env:"TSHEEBOT_DIRECTORY" enum:"pooled,proxy"`
	Tenants        string        `help:"path to the tenant registry YAML" default:"tenants.yaml" env:"TSHEEBOT_TENANTS" type:"path"`
	AcquireTimeout time.Duration `help:"tenant connection open timeout; an exhausted pool fails at once" default:"5s" env:"TSHEEBOT_ACQUIRE_TIMEOUT"`
	Proxy          ProxyFlags    `embed:"" prefix:"proxy-"`

	// Identity cache
	Cache         string        `help:"identity cache type (sqlite, postgres or memory)" default:"sqlite" env:"TSHEEBOT_CACHE" enum:"sqlite,postgres,memory"`
	SQLitePath    string        `name:"sqlite-path" help:"SQLite identity cache file" default:"tsheebot.db" env:"TSHEEBOT_SQLITE_PATH" type:"path"`
	PostgresCache PostgresFlags `embed:"" prefix:"postgres-"`

	// Session store
	Sessions   string        `help:"session store type (memory or redis)" default:"memory" env:"TSHEEBOT_SESSIONS" enum:"memory,redis"`
	SessionTTL time.Duration `help:"idle session lifetime" default:"24h" env:"TSHEEBOT_SESSION_TTL"`
	Redis      RedisFlags    `embed:"" prefix:"redis-"`

	// Report archive
	Archive ArchiveFlags `embed:"" prefix:"archive-"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting tsheebot")

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "tsheebot", globals.Version, c.TraceSampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	remote, err := c.openDirectory(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()

	cache, err := c.openIdentityCache(ctx)
	if err != nil {
		return err
	}
	defer cache.close()

	sessions, err := c.openSessions(ctx)
	if err != nil {
		return err
	}
	defer sessions.close()

	reports, err := c.openArchive(ctx)
	if err != nil {
		return err
	}

	orchestrator := bot.New(bot.Stores{
		Organizations: cache.orgs,
		Users:         cache.users,
		Sessions:      sessions.store,
	}, remote, bot.Config{
		SupportContact: c.SupportContact,
		Developer:      c.Developer,
		Archive:        reports,
	})

	handler := webhook.NewRouter(orchestrator, log, webhook.Config{Secret: c.WebhookSecret})
	if c.WebhookSecret == "" {
		log.Warn().Msg("Webhook secret is not set, /events accepts unauthenticated requests")
	}

	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be set together (--cert and --key)")
	}

	srv := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}
