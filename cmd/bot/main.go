// Command bot runs the chat gateway: it long-polls the messaging transport,
// streams text generations with send-then-edit delivery, runs the image
// pipeline, and serves the ops HTTP surface (health, readiness, metrics).
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
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/bot"
	"github.com/orionagi/go-ai-gateway/internal/config"
	"github.com/orionagi/go-ai-gateway/internal/history"
	httpapi "github.com/orionagi/go-ai-gateway/internal/http"
	"github.com/orionagi/go-ai-gateway/internal/imagegen"
	"github.com/orionagi/go-ai-gateway/internal/observability"
	"github.com/orionagi/go-ai-gateway/internal/ratelimit"
	"github.com/orionagi/go-ai-gateway/internal/repo"
	"github.com/orionagi/go-ai-gateway/internal/stream"
	"github.com/orionagi/go-ai-gateway/internal/sysutil"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if cfg.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Persistence
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Quota gates. The image quota prefers redis when configured so several
	// replicas share one window; the text quota stays on the main DB.
	textGate := ratelimit.NewGate(ratelimit.NewGormStore(db, "text"),
		cfg.TextQuota.Limit, cfg.TextQuota.Window)

	readyChecks := []httpapi.ReadyCheck{httpapi.DBCheck(db)}
	var imageStore ratelimit.Store = ratelimit.NewGormStore(db, "image")
	if cfg.RedisAddr != "" {
		rs := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, "gateway:quota")
		defer rs.Close()
		imageStore = rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("image quota on redis")
	}
	imageGate := ratelimit.NewGate(imageStore, cfg.ImageQuota.Limit, cfg.ImageQuota.Window)

	// Generation backends
	primary := ai.NewOpenAICompatClient("primary", cfg.Primary.BaseURL, cfg.Primary.APIKey, cfg.Primary.Model)
	providers := []ai.Provider{primary}
	if cfg.Backup.BaseURL != "" {
		providers = append(providers,
			ai.NewOpenAICompatClient("backup", cfg.Backup.BaseURL, cfg.Backup.APIKey,
				sysutil.FirstNonEmpty(cfg.Backup.Model, cfg.Primary.Model)))
	}
	streamer := ai.NewFallbackStreamer(providers...)

	imageClient := ai.NewImageClient(cfg.Primary.BaseURL, cfg.Primary.APIKey, ai.ImageConfig{
		Model:  cfg.Image.Model,
		Width:  cfg.Image.Width,
		Height: cfg.Image.Height,
		Steps:  cfg.Image.Steps,
	})

	// Transport
	tg := transport.NewTelegramClient(cfg.BotToken)

	// Services and coordinators
	hist := &history.Service{
		DB:          db,
		MaxWords:    cfg.HistoryMaxWords,
		MaxPrompts:  cfg.MaxPrompts,
		TitleLocale: language.English,
	}

	streamCoord := stream.NewCoordinator(streamer, tg, hist).
		WithPolicies(
			stream.FlushPolicy{
				MinWords:    cfg.Stream.FlushWords,
				MinBytes:    cfg.Stream.FlushBytes,
				MaxInterval: cfg.Stream.FlushInterval,
			},
			stream.RetryPolicy{
				Backoff:  cfg.Stream.RetryBackoff,
				Deadline: cfg.Stream.RetryDeadline,
			},
		)

	imageCoord := imagegen.NewCoordinator(imageClient, primary, tg, hist,
		semaphore.NewWeighted(cfg.Image.Permits), stream.SystemClock(),
		imagegen.Config{
			Count:            cfg.Image.Count,
			MaxPromptLen:     cfg.Image.MaxPromptLen,
			EnhanceWordLimit: cfg.Image.EnhanceWordLimit,
			ProgressInterval: cfg.Image.ProgressInterval,
		})

	models := []ai.ModelSelector{
		ai.NamedModel{ID: cfg.Primary.Model},
	}
	if cfg.Backup.Model != "" {
		models = append(models, ai.NamedModel{ID: cfg.Backup.Model})
	}
	if len(providers) > 1 {
		chain := make([]string, len(providers))
		for i, p := range providers {
			chain[i] = p.Name()
		}
		models = append(models, ai.CompositeModel{Name: "auto", Providers: chain})
	}

	dispatcher := bot.NewDispatcher(tg, hist, streamCoord, imageCoord, textGate, imageGate,
		bot.Options{
			Models:            models,
			DefaultModel:      models[0],
			MaxImagePromptLen: cfg.Image.MaxPromptLen,
		})

	// Ops HTTP surface
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, readyChecks...)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()

	// Update loop
	log.Info().Str("version", version).Msg("gateway started")
	if err := dispatcher.Run(ctx, transport.NewLongPoller(tg)); err != nil &&
		!errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("update loop stopped")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown")
	}
	log.Info().Msg("gateway stopped")
}
