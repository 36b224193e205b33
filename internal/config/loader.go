package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/MrWong99/groover/pkg/audio/transport"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookup LookupFunc
}

// WithEnv overlays environment variables resolved by lookup on top of the
// decoded file. See [ApplyEnv] for the recognised variables.
func WithEnv(lookup LookupFunc) LoadOption {
	return func(o *loadOptions) { o.lookup = lookup }
}

// envBindings maps environment variables onto config fields.
var envBindings = []struct {
	key   string
	field func(*Config) *string
}{
	{"DISCORD_TOKEN", func(c *Config) *string { return &c.Discord.Token }},
	{"DISCORD_GUILD_ID", func(c *Config) *string { return &c.Discord.GuildID }},
	{"DISCORD_USER_ID", func(c *Config) *string { return &c.Discord.UserID }},
	{"DISCORD_CONTROL_ROLE_ID", func(c *Config) *string { return &c.Discord.ControlRoleID }},
	{"CACHE_DIR", func(c *Config) *string { return &c.Cache.Dir }},
	{"SPOTIFY_TOKEN", func(c *Config) *string { return &c.Spotify.AccessToken }},
	{"SPOTIFY_ID", func(c *Config) *string { return &c.Spotify.ClientID }},
	{"SPOTIFY_SECRET", func(c *Config) *string { return &c.Spotify.ClientSecret }},
	{"SPOTIFY_REDIRECT_URL", func(c *Config) *string { return &c.Spotify.RedirectURL }},
	{"SPOTIFY_DEVICE_NAME", func(c *Config) *string { return &c.Spotify.DeviceName }},
	{"NATS_URL", func(c *Config) *string { return &c.Bus.URL }},
	{"BUS_SUBJECT", func(c *Config) *string { return &c.Bus.Subject }},
	{"LISTEN_ADDR", func(c *Config) *string { return &c.Server.ListenAddr }},
	{"LOG_LEVEL", func(c *Config) *string { return (*string)(&c.Server.LogLevel) }},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path starts from an empty config, so a deployment may be
// configured through the environment alone.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		cfg, err := build(&Config{}, opts)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// overlay and defaults, and validates the result.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return build(cfg, opts)
}

func build(cfg *Config, opts []LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lookup != nil {
		ApplyEnv(cfg, o.lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites fields of cfg with the non-empty environment variables
// DISCORD_TOKEN, DISCORD_GUILD_ID, DISCORD_USER_ID, DISCORD_CONTROL_ROLE_ID,
// CACHE_DIR, SPOTIFY_TOKEN, SPOTIFY_ID, SPOTIFY_SECRET, SPOTIFY_REDIRECT_URL,
// SPOTIFY_DEVICE_NAME, NATS_URL, BUS_SUBJECT, LISTEN_ADDR and LOG_LEVEL.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	for _, b := range envBindings {
		if v, ok := lookup(b.key); ok && v != "" {
			*b.field(cfg) = v
		}
	}
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Spotify.PollInterval == 0 {
		cfg.Spotify.PollInterval = DefaultPollInterval
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = DefaultCacheBytes
	}
	if cfg.Bus.URL == "" {
		cfg.Bus.URL = DefaultBusURL
	}
	if cfg.Bus.Subject == "" {
		cfg.Bus.Subject = cfg.Discord.GuildID
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (DISCORD_TOKEN)"))
	}
	errs = append(errs,
		snowflake("discord.guild_id", cfg.Discord.GuildID, true),
		snowflake("discord.user_id", cfg.Discord.UserID, true),
		snowflake("discord.control_role_id", cfg.Discord.ControlRoleID, false),
	)

	// Spotify
	sp := cfg.Spotify
	if sp.AccessToken == "" && (sp.ClientID == "" || sp.ClientSecret == "") {
		errs = append(errs, errors.New("spotify: either access_token or client_id and client_secret are required"))
	}
	if sp.AccessToken == "" && sp.RedirectURL != "" {
		if _, err := url.Parse(sp.RedirectURL); err != nil {
			errs = append(errs, fmt.Errorf("spotify.redirect_url: %w", err))
		}
	}
	if sp.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("spotify.poll_interval %s must be positive", sp.PollInterval))
	}

	// Cache
	if cfg.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes %d must be positive", cfg.Cache.MaxBytes))
	}

	// Bus
	if cfg.Bus.URL != "" {
		u, err := url.Parse(cfg.Bus.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("bus.url: %w", err))
		case u.Scheme != "nats" && u.Scheme != "tls" && u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("bus.url scheme %q is invalid; valid values: nats, tls, ws, wss", u.Scheme))
		}
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", a.Channels))
	}
	if a.Depth < 0 {
		errs = append(errs, fmt.Errorf("audio.depth %d must be positive", a.Depth))
	}
	if a.Quality < 0 || a.Quality > transport.MaxQuality {
		errs = append(errs, fmt.Errorf("audio.quality %d is out of range [0, %d]", a.Quality, transport.MaxQuality))
	}

	return errors.Join(errs...)
}

// snowflake validates a Discord id. The nil error is dropped by errors.Join.
func snowflake(field, v string, required bool) error {
	if v == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	if _, err := strconv.ParseUint(v, 10, 64); err != nil {
		return fmt.Errorf("%s %q is not a numeric id", field, v)
	}
	return nil
}
