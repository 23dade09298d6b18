package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for voicebridge.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	STT       STTConfig       `json:"stt"`
	TTS       TTSConfig       `json:"tts"`
	Audio     AudioConfig     `json:"audio"`
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// TelegramConfig configures the bot connection and reply behaviour.
// Token is NEVER read from config.json (secret), only from env.
type TelegramConfig struct {
	Token             string              `json:"-"`
	Proxy             string              `json:"proxy,omitempty"`
	AllowFrom         FlexibleStringSlice `json:"allow_from,omitempty"`      // ids or @usernames; empty = everyone
	RequireMention    *bool               `json:"require_mention,omitempty"` // require @bot or reply-to-bot in groups (default true)
	MediaMaxBytes     int64               `json:"media_max_bytes,omitempty"` // max voice note download size (default 20MB)
	PinHoldMS         int                 `json:"pin_hold_ms,omitempty"`     // how long a reply stays pinned (default 1000)
	StatusIntervalSec int                 `json:"status_interval_sec,omitempty"`
	SendRatePerSec    float64             `json:"send_rate_per_sec,omitempty"` // per chat, 0 = unlimited
	SendBurst         int                 `json:"send_burst,omitempty"`
	ChunkLimit        int                 `json:"chunk_limit,omitempty"` // max runes per chunk of a long reply
}

// MentionRequired reports whether group messages need an explicit mention.
func (t TelegramConfig) MentionRequired() bool {
	return t.RequireMention == nil || *t.RequireMention
}

func (t TelegramConfig) PinHold() time.Duration {
	return time.Duration(t.PinHoldMS) * time.Millisecond
}

func (t TelegramConfig) StatusInterval() time.Duration {
	return time.Duration(t.StatusIntervalSec) * time.Second
}

// SchedulerConfig bounds concurrency.
type SchedulerConfig struct {
	Workers        int `json:"workers,omitempty"`          // blocking worker pool size (default 4)
	TaskTimeoutSec int `json:"task_timeout_sec,omitempty"` // 0 = no per-task limit
}

func (s SchedulerConfig) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSec) * time.Second
}

// EngineConfig points at an OpenAI-compatible chat completions endpoint
// (OpenAI, Ollama's /v1, vLLM, ...). APIKey is env only.
type EngineConfig struct {
	APIBase      string  `json:"api_base"`
	APIKey       string  `json:"-"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	TimeoutSec   int     `json:"timeout_sec,omitempty"`
	MaxRetries   int     `json:"max_retries,omitempty"`
}

// STTConfig configures the speech-to-text proxy used for voice notes.
type STTConfig struct {
	ProxyURL       string `json:"proxy_url,omitempty"` // e.g. "http://localhost:8000"; empty = voice notes rejected
	APIKey         string `json:"-"`
	TenantID       string `json:"tenant_id,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// TTSConfig configures voice replies.
type TTSConfig struct {
	Mode                string   `json:"mode,omitempty"`        // "file" (default), "device" or "off"
	PiperPath           string   `json:"piper_path,omitempty"`  // default "piper"
	Voice               string   `json:"voice,omitempty"`       // path to the .onnx voice model
	PlayerCmd           []string `json:"player_cmd,omitempty"`  // device mode player, WAV path appended
	Parallel            int      `json:"parallel,omitempty"`    // concurrent segment renders (default 2)
	SentencesPerSegment int      `json:"sentences_per_segment,omitempty"`
}

// AudioConfig configures ffmpeg based encoding.
type AudioConfig struct {
	FFmpegPath string `json:"ffmpeg_path,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`
	TempDir    string `json:"temp_dir,omitempty"`
}

// DatabaseConfig selects the registry backend.
// PostgresDSN is NEVER read from config.json (secret), only from env.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "~/.voicebridge/registry.db"
	PostgresDSN string `json:"-"`
}

// IsPostgres reports whether the Postgres backend is selected and configured.
func (d DatabaseConfig) IsPostgres() bool {
	return d.Driver == "postgres" && d.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "voicebridge"
	Headers     map[string]string `json:"headers,omitempty"`
}
