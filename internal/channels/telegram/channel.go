// Package telegram connects the bot to Telegram: long polling for inbound
// updates, slash commands, voice note transcription and the outbound
// delivery transport.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/voicebridge/internal/audio"
	"github.com/nextlevelbuilder/voicebridge/internal/bus"
	"github.com/nextlevelbuilder/voicebridge/internal/channels"
	"github.com/nextlevelbuilder/voicebridge/internal/config"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
	"github.com/nextlevelbuilder/voicebridge/internal/store"
	"github.com/nextlevelbuilder/voicebridge/internal/tts"
)

// voiceWorkers bounds concurrent voice note transcriptions.
const voiceWorkers = 2

// Controller is the part of the scheduler that commands act on.
type Controller interface {
	Cancel(key scheduler.Key) bool
	Stats() scheduler.Stats
}

// VoiceSwitch controls where spoken replies go; used by /voice.
type VoiceSwitch interface {
	Mode() tts.Mode
	SetMode(tts.Mode)
}

// Options configures a Channel.
type Options struct {
	Telegram   config.TelegramConfig
	STT        config.STTConfig
	FFmpegPath string
	TempDir    string
	Router     bus.MessageRouter
	Registry   store.Registry
	Voice      VoiceSwitch // nil disables /voice
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	cfg            config.TelegramConfig
	requireMention bool

	botID       int64
	botUsername string

	out       delivery.Transport
	registry  store.Registry
	voice     transcriber
	voicePool *scheduler.Pool
	ctl       Controller
	speech    VoiceSwitch

	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a Telegram channel. The bot token comes from opts.Telegram.
func New(opts Options) (*Channel, error) {
	cfg := opts.Telegram
	var botOpts []telego.BotOption

	httpClient := http.DefaultClient
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		httpClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
		botOpts = append(botOpts, telego.WithHTTPClient(httpClient))
	}

	bot, err := telego.NewBot(cfg.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	maxBytes := cfg.MediaMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	registry := opts.Registry
	if registry == nil {
		registry = store.NewMemoryRegistry()
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", opts.Router, cfg.AllowFrom),
		bot:            bot,
		cfg:            cfg,
		requireMention: cfg.MentionRequired(),
		out:            NewTransport(bot, channels.NewSendLimiter(cfg.SendRatePerSec, cfg.SendBurst)),
		registry:       registry,
		voice: &voiceTranscriber{
			files:    bot,
			stt:      newSTTClient(opts.STT),
			ffmpeg:   ffmpeg,
			run:      audio.ExecRunner,
			maxBytes: maxBytes,
			tempDir:  opts.TempDir,
			client:   httpClient,
		},
		voicePool: scheduler.NewPool(voiceWorkers),
		speech:    opts.Voice,
	}, nil
}

// Transport returns the outbound transport used for replies.
func (c *Channel) Transport() delivery.Transport { return c.out }

// SetController wires the scheduler used by /stop and /status.
// Must be called before Start.
func (c *Channel) SetController(ctl Controller) { c.ctl = ctl }

// Start identifies the bot and begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.botID = me.ID
	c.botUsername = me.Username

	// Stop() cancels this context to shut down long polling.
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.botUsername)

	go func() {
		for attempt := 1; attempt <= 3; attempt++ {
			err := c.SyncMenuCommands(pollCtx, DefaultMenuCommands())
			if err == nil {
				slog.Info("telegram menu commands synced")
				return
			}
			slog.Warn("failed to sync telegram menu commands", "error", err, "attempt", attempt)
			select {
			case <-pollCtx.Done():
				return
			case <-time.After(time.Duration(attempt*5) * time.Second):
			}
		}
	}()

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(pollCtx, update.Message)
				case update.ChannelPost != nil:
					c.recordRegistries(pollCtx, update.ChannelPost)
				default:
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram only releases the getUpdates lock once polling has exited.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}
