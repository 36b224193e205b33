// Package config provides the configuration schema, loader and file watcher
// for the Groover audio bridge.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Load] and [LoadFromReader] to unset fields.
const (
	DefaultListenAddr   = ":9090"
	DefaultLogLevel     = LogInfo
	DefaultPollInterval = time.Second
	DefaultCacheBytes   = 4 << 30
	DefaultBusURL       = "nats://127.0.0.1:4222"
)

// Config is the root configuration structure for Groover.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// with environment variables taking precedence over file values.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Spotify SpotifyConfig `yaml:"spotify"`
	Cache   CacheConfig   `yaml:"cache"`
	Bus     BusConfig     `yaml:"bus"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the /healthz, /readyz and /metrics
	// endpoints (e.g., ":9090"). "-" disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only field applied on reload.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig identifies the bot and the guild member it follows.
type DiscordConfig struct {
	// Token is the bot token, without the "Bot " prefix.
	Token string `yaml:"token"`

	// GuildID is the guild the bot serves.
	GuildID string `yaml:"guild_id"`

	// UserID is the member whose voice presence toggles remote control.
	UserID string `yaml:"user_id"`

	// ControlRoleID, when set, restricts the slash commands to members
	// holding this role.
	ControlRoleID string `yaml:"control_role_id"`
}

// SpotifyConfig holds the streaming-service credentials.
type SpotifyConfig struct {
	// AccessToken is a pre-issued token used as-is.
	AccessToken string `yaml:"access_token"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// RedirectURL must match the redirect URI registered for the client.
	RedirectURL string `yaml:"redirect_url"`

	// DeviceName restricts remote control to one playback device.
	DeviceName string `yaml:"device_name"`

	// PollInterval is the player state polling period.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CacheConfig configures the credential and audio cache.
type CacheConfig struct {
	// Dir is the cache directory. Empty keeps the cache in memory.
	Dir string `yaml:"dir"`

	// MaxBytes bounds the on-disk size of the cache.
	MaxBytes int64 `yaml:"max_bytes"`
}

// BusConfig selects the control-message bus.
type BusConfig struct {
	// URL is a nats://, tls://, ws:// or wss:// address.
	URL string `yaml:"url"`

	// Subject defaults to the guild id.
	Subject string `yaml:"subject"`
}

// AudioConfig describes the sample transport. Zero values select the
// transport defaults.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Depth is the transport queue capacity in frames.
	Depth int `yaml:"depth"`

	// Quality is 0 for linear interpolation or 1..10 for the polyphase
	// resampler.
	Quality int `yaml:"quality"`
}
