package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/voicebridge/internal/agent"
	"github.com/nextlevelbuilder/voicebridge/internal/audio"
	"github.com/nextlevelbuilder/voicebridge/internal/bus"
	"github.com/nextlevelbuilder/voicebridge/internal/channels"
	"github.com/nextlevelbuilder/voicebridge/internal/channels/telegram"
	"github.com/nextlevelbuilder/voicebridge/internal/config"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
	"github.com/nextlevelbuilder/voicebridge/internal/providers"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
	"github.com/nextlevelbuilder/voicebridge/internal/store"
	"github.com/nextlevelbuilder/voicebridge/internal/store/pg"
	"github.com/nextlevelbuilder/voicebridge/internal/store/sqlite"
	"github.com/nextlevelbuilder/voicebridge/internal/tracing"
	"github.com/nextlevelbuilder/voicebridge/internal/tts"
)

const shutdownTimeout = 15 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openRegistry opens the configured registry backend. Postgres is migrated
// to the latest schema first.
func openRegistry(cfg *config.Config) (store.Registry, error) {
	if cfg.Database.IsPostgres() {
		return pg.Open(cfg.Database.PostgresDSN)
	}
	return sqlite.Open(config.ExpandHome(cfg.Database.SQLitePath))
}

func newEngine(cfg config.EngineConfig) *providers.Engine {
	provider := providers.NewOpenAIProvider("openai", cfg.APIKey, cfg.APIBase, cfg.Model)
	if cfg.TimeoutSec > 0 {
		provider = provider.WithTimeout(time.Duration(cfg.TimeoutSec) * time.Second)
	}
	if cfg.MaxRetries > 0 {
		retry := providers.DefaultRetryConfig()
		retry.MaxAttempts = cfg.MaxRetries
		provider = provider.WithRetry(retry)
	}
	return providers.NewEngine(provider, providers.EngineConfig{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
}

func newSpeech(cfg *config.Config) (*tts.Piper, error) {
	mode, err := tts.ParseMode(cfg.TTS.Mode)
	if err != nil {
		return nil, err
	}
	return tts.New(tts.Config{
		Mode:                mode,
		PiperPath:           cfg.TTS.PiperPath,
		Voice:               cfg.TTS.Voice,
		PlayerCmd:           cfg.TTS.PlayerCmd,
		FFmpegPath:          cfg.Audio.FFmpegPath,
		SampleRate:          cfg.Audio.SampleRate,
		Bitrate:             cfg.Audio.Bitrate,
		TempDir:             cfg.Audio.TempDir,
		Parallel:            cfg.TTS.Parallel,
		SentencesPerSegment: cfg.TTS.SentencesPerSegment,
	}), nil
}

func runBridge(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	if err := cfg.RequireTelegramToken(); err != nil {
		slog.Error("cannot start", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("otel exporter disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Debug("otel shutdown", "error", err)
		}
	}()

	registry, err := openRegistry(cfg)
	if err != nil {
		slog.Error("failed to open registry", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	defer registry.Close()

	speech, err := newSpeech(cfg)
	if err != nil {
		return err
	}

	msgBus := bus.New(0)
	pool := scheduler.NewPool(cfg.Scheduler.Workers)

	tg, err := telegram.New(telegram.Options{
		Telegram:   cfg.Telegram,
		STT:        cfg.STT,
		FFmpegPath: cfg.Audio.FFmpegPath,
		TempDir:    cfg.Audio.TempDir,
		Router:     msgBus,
		Registry:   registry,
		Voice:      speech,
	})
	if err != nil {
		slog.Error("failed to create telegram channel", "error", err)
		return err
	}
	out := tg.Transport()

	merger := audio.NewMerger(audio.MergerConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		SampleRate: cfg.Audio.SampleRate,
		Bitrate:    cfg.Audio.Bitrate,
		TempDir:    cfg.Audio.TempDir,
	})
	pipeline := delivery.New(out, speech, merger, pool, delivery.Config{
		ChunkLimit: cfg.Telegram.ChunkLimit,
		PinHold:    cfg.Telegram.PinHold(),
	})
	runner := agent.NewRunner(newEngine(cfg.Engine), out, pipeline, pool, agent.RunnerConfig{
		StatusInterval: cfg.Telegram.StatusInterval(),
	})
	sup := scheduler.NewSupervisor(runner.Run, scheduler.Config{
		TaskTimeout: cfg.Scheduler.TaskTimeout(),
	})
	tg.SetController(sup)

	channelMgr := channels.NewManager()
	channelMgr.RegisterChannel(tg)
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		return err
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumeInbound(ctx, msgBus, sup, out)
	}()

	slog.Info("voicebridge running",
		"version", Version,
		"model", cfg.Engine.Model,
		"workers", pool.Size(),
		"tts_mode", speech.Mode(),
		"registry", cfg.Database.Driver,
	)

	<-ctx.Done()
	slog.Info("graceful shutdown initiated")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	channelMgr.StopAll(sctx)
	msgBus.Close()
	<-consumerDone
	if err := sup.Shutdown(sctx); err != nil {
		slog.Warn("scheduler shutdown incomplete", "error", err)
	}
	slog.Info("voicebridge stopped")
	return nil
}
