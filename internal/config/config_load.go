package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Env var prefix for every override.
const envPrefix = "VOICEBRIDGE_"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			MediaMaxBytes:     20 * 1024 * 1024,
			PinHoldMS:         1000,
			StatusIntervalSec: 5,
			SendRatePerSec:    1,
			SendBurst:         3,
			ChunkLimit:        3800,
		},
		Scheduler: SchedulerConfig{
			Workers: 4,
		},
		Engine: EngineConfig{
			APIBase:     "http://localhost:11434/v1",
			Model:       "llama3.1",
			Temperature: 0.7,
			MaxTokens:   2048,
			TimeoutSec:  300,
			MaxRetries:  3,
		},
		STT: STTConfig{
			TimeoutSeconds: 30,
		},
		TTS: TTSConfig{
			Mode:                "file",
			PiperPath:           "piper",
			PlayerCmd:           []string{"aplay", "-q"},
			Parallel:            2,
			SentencesPerSegment: 3,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			SampleRate: 48000,
			Bitrate:    "48k",
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.voicebridge/registry.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "voicebridge",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets
	envStr("TELEGRAM_TOKEN", &c.Telegram.Token)
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv("BOT_TOKEN")
	}
	envStr("ENGINE_API_KEY", &c.Engine.APIKey)
	envStr("STT_API_KEY", &c.STT.APIKey)
	envStr("POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("TELEGRAM_PROXY", &c.Telegram.Proxy)
	if v := os.Getenv(envPrefix + "ALLOW_FROM"); v != "" {
		c.Telegram.AllowFrom = strings.Split(v, ",")
	}

	envStr("ENGINE_API_BASE", &c.Engine.APIBase)
	envStr("MODEL", &c.Engine.Model)

	envStr("STT_URL", &c.STT.ProxyURL)
	envStr("TTS_MODE", &c.TTS.Mode)
	envStr("TTS_VOICE", &c.TTS.Voice)
	envStr("FFMPEG_PATH", &c.Audio.FFmpegPath)

	envInt("WORKERS", &c.Scheduler.Workers)
	envInt("TASK_TIMEOUT_SEC", &c.Scheduler.TaskTimeoutSec)

	envStr("DB_DRIVER", &c.Database.Driver)
	envStr("SQLITE_PATH", &c.Database.SQLitePath)

	envBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}

// RequireTelegramToken fails when no bot token is configured.
func (c *Config) RequireTelegramToken() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram token missing: set %sTELEGRAM_TOKEN (or BOT_TOKEN)", envPrefix)
	}
	return nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.TTS.Mode {
	case "", "file", "device", "off":
	default:
		return fmt.Errorf("tts.mode %q: want file, device or off", c.TTS.Mode)
	}
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.driver is postgres but %sPOSTGRES_DSN is not set", envPrefix)
		}
	default:
		return fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver)
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	return nil
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
