// Command server runs the booking backend: HTTP API, delivery dispatcher,
// and retention reaper in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/voicebook/go-booking-backend/internal/config"
	httpapi "github.com/voicebook/go-booking-backend/internal/http"
	"github.com/voicebook/go-booking-backend/internal/observability"
	"github.com/voicebook/go-booking-backend/internal/outbound"
	"github.com/voicebook/go-booking-backend/internal/repo"
	"github.com/voicebook/go-booking-backend/internal/services"
	"github.com/voicebook/go-booking-backend/internal/slotlock"
	"github.com/voicebook/go-booking-backend/internal/sysutil"
	"github.com/voicebook/go-booking-backend/internal/workers"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sd, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sd); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	locker := slotlock.ForDriver(cfg.DB.Driver)

	// Outbound stack: ledger, providers, credential cache, orchestrator.
	delSvc := services.NewDeliveryService(db, cfg.Ledger)
	providers := map[string]outbound.Provider{
		services.EventConfirmationMessage: outbound.ProviderFor("messaging", cfg.Outbound.MessagingURL),
		services.EventCalendarSync:        outbound.ProviderFor("calendar", cfg.Outbound.CalendarURL),
		services.EventWebhook:             outbound.ProviderFor("webhook", cfg.Outbound.WebhookURL),
	}
	creds := outbound.NewCredentialCache(
		outbound.CredentialSourceFunc(func(context.Context, string, string) (outbound.Credential, error) {
			// Static-token deployments configure provider auth out of band;
			// the cache then just round-trips empty credentials.
			return outbound.Credential{}, nil
		}),
		cfg.Outbound.CredentialTTL, cfg.Outbound.RefreshSkew,
	)
	orch := outbound.NewOrchestrator(delSvc, cfg.Outbound, providers, creds)

	// Background loops.
	dispatcher := workers.NewDispatcher(delSvc, orch, cfg.Ledger, log.Logger)
	dispatcher.Start(ctx)
	reaper := workers.NewReaper(delSvc, cfg.Ledger.ReaperSpec, log.Logger)
	if err := reaper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start reaper")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, locker, orch, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sd, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sd); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	reaper.Stop()
	dispatcher.Wait()
}

// openDB opens the configured persistence backend.
func openDB(cfg config.DBConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return repo.OpenPostgres(cfg.DSN)
	default:
		return repo.OpenSQLite(cfg.Path)
	}
}
