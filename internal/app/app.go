// Package app wires all Groover subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the control loop, the gateway and the ops HTTP
// server, and Shutdown tears everything down in reverse order.
//
// For testing, inject test doubles via functional options (WithGateway,
// WithStreamingService, WithSubscriber). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/groover/internal/bus"
	"github.com/MrWong99/groover/internal/config"
	"github.com/MrWong99/groover/internal/credcache"
	"github.com/MrWong99/groover/internal/discord"
	"github.com/MrWong99/groover/internal/dispatch"
	"github.com/MrWong99/groover/internal/groover"
	"github.com/MrWong99/groover/internal/health"
	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/internal/streaming/spotify"
	"github.com/MrWong99/groover/pkg/audio"
	"github.com/MrWong99/groover/pkg/audio/mixer"
	"github.com/MrWong99/groover/pkg/audio/transport"
)

// serverShutdownTimeout bounds the graceful stop of the ops HTTP server.
const serverShutdownTimeout = 5 * time.Second

// Gateway is the chat-platform side of the bridge. [*discord.Bot] implements
// it.
type Gateway interface {
	Platform() audio.Platform
	Presence() <-chan discord.PresenceEvent
	Commands() <-chan discord.Command
	Connected() bool
	Run(ctx context.Context) error
	Close() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	cache      *credcache.Cache
	producer   *transport.Producer
	consumer   *transport.Consumer
	mixer      *mixer.Mixer
	service    streaming.Service
	session    *streaming.Session
	gateway    Gateway
	controller *groover.Controller
	subscriber bus.Subscriber
	dispatcher *dispatch.Dispatcher
	health     *health.Handler

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects the gateway instead of connecting a Discord bot.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithStreamingService injects the streaming service instead of the Spotify
// client.
func WithStreamingService(s streaming.Service) Option {
	return func(a *App) { a.service = s }
}

// WithSubscriber injects the bus subscriber instead of dialling bus.url.
func WithSubscriber(s bus.Subscriber) Option {
	return func(a *App) { a.subscriber = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: credential cache,
// sample transport, mixer, streaming session, gateway, connection controller,
// bus subscription and control dispatcher. Authentication against the
// streaming service happens here, so credential problems abort startup.
//
// On failure every subsystem created so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// ── 1. Credential cache ──────────────────────────────────────────────
	if err := a.initCache(); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 2. Sample transport + mixer ──────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Streaming session ─────────────────────────────────────────────
	if err := a.initStreaming(ctx); err != nil {
		return nil, fmt.Errorf("app: init streaming: %w", err)
	}

	// ── 4. Gateway + controller ──────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 5. Bus + dispatcher ──────────────────────────────────────────────
	if err := a.initDispatch(ctx); err != nil {
		return nil, fmt.Errorf("app: init dispatch: %w", err)
	}

	// ── 6. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Condition("bus", a.subscriber.Connected, "bus not connected"),
		health.Condition("discord", a.gateway.Connected, "gateway not ready"),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCache() error {
	cache, err := credcache.Open(a.cfg.Cache.Dir, a.cfg.Cache.MaxBytes)
	if err != nil {
		return err
	}
	a.cache = cache
	a.closers = append(a.closers, cache.Close)
	if a.cfg.Cache.Dir == "" {
		slog.Warn("cache.dir is empty; tokens will not survive a restart")
	}
	return nil
}

func (a *App) initAudio() error {
	p, c, err := transport.New(transport.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
		Depth:      a.cfg.Audio.Depth,
		Quality:    a.cfg.Audio.Quality,
	})
	if err != nil {
		return err
	}
	a.producer, a.consumer = p, c
	if err := a.metrics.ObserveTransport(p.Stats); err != nil {
		return fmt.Errorf("observe transport: %w", err)
	}
	a.mixer = mixer.New(mixer.MaxVolume)
	slog.Info("sample transport ready", "format", p.Format().String(), "quality", a.cfg.Audio.Quality)
	return nil
}

func (a *App) initStreaming(ctx context.Context) error {
	if a.service == nil {
		a.service = spotify.New(spotify.Config{
			Store:        a.cache,
			PollInterval: a.cfg.Spotify.PollInterval,
			Metrics:      a.metrics,
		})
	}
	sp := a.cfg.Spotify
	session, err := streaming.New(ctx, streaming.Config{
		Service: a.service,
		Credentials: streaming.Credentials{
			AccessToken:  sp.AccessToken,
			ClientID:     sp.ClientID,
			ClientSecret: sp.ClientSecret,
			RedirectURL:  sp.RedirectURL,
		},
		Remote:  streaming.RemoteConfig{DeviceName: sp.DeviceName},
		Sink:    a.producer,
		Mixer:   a.mixer,
		Closer:  a.producer,
		Metrics: a.metrics,
	})
	if err != nil {
		// The session did not take ownership of the transport.
		_ = a.producer.Close()
		return err
	}
	a.session = session
	a.closers = append(a.closers, session.Close)
	return nil
}

func (a *App) initGateway(ctx context.Context) error {
	if a.gateway == nil {
		bot, err := discord.New(ctx, discord.Config{
			Token:         a.cfg.Discord.Token,
			GuildID:       a.cfg.Discord.GuildID,
			UserID:        a.cfg.Discord.UserID,
			ControlRoleID: a.cfg.Discord.ControlRoleID,
		})
		if err != nil {
			return err
		}
		a.gateway = bot
	}
	a.closers = append(a.closers, a.gateway.Close)

	a.controller = groover.New(a.gateway.Platform(), groover.WithMetrics(a.metrics))
	a.closers = append(a.closers, func() error {
		return a.controller.Disconnect(context.Background())
	})
	return nil
}

func (a *App) initDispatch(ctx context.Context) error {
	if a.subscriber == nil {
		sub, err := bus.Dial(ctx, a.cfg.Bus.URL, bus.WithName("groover"))
		if err != nil {
			return err
		}
		a.subscriber = sub
	}
	a.closers = append(a.closers, a.subscriber.Close)

	sub, err := a.subscriber.Subscribe(ctx, a.cfg.Bus.Subject)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", a.cfg.Bus.Subject, err)
	}
	a.closers = append(a.closers, sub.Close)

	home, err := homeCall(a.cfg.Discord)
	if err != nil {
		return err
	}

	d, err := dispatch.New(dispatch.Config{
		Subscription: sub,
		Controller:   a.controller,
		Session:      a.session,
		Source:       a.consumer,
		Presence:     a.gateway.Presence(),
		Commands:     a.gateway.Commands(),
		Home:         home,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}
	a.dispatcher = d
	slog.Info("listening for control messages", "bus", a.cfg.Bus.URL, "subject", a.cfg.Bus.Subject)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the ops HTTP handler serving /healthz, /readyz and
// /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run runs the control dispatcher, the gateway and the ops HTTP server until
// ctx is cancelled or one of them fails. It returns nil after a clean
// cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.dispatcher.Run(gctx); err != nil {
			return fmt.Errorf("app: dispatcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.gateway.Run(gctx); err != nil {
			return fmt.Errorf("app: gateway: %w", err)
		}
		return nil
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" && addr != "-" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("groover running", "user", a.session.User())
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the bus
// subscription, the active call, the gateway, the streaming session (which
// destroys the transport) and finally the cache. If ctx expires first the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ReloadHandler returns a [config.Watcher] callback that applies a changed log
// level to level and warns about changes that need a restart.
func ReloadHandler(level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
		}
	}
}

// homeCall is the call joined when playback starts while disconnected: the
// followed user's current channel in the configured guild.
func homeCall(cfg config.DiscordConfig) (audio.ConnectionInfo, error) {
	guild, err := strconv.ParseUint(cfg.GuildID, 10, 64)
	if err != nil {
		return audio.ConnectionInfo{}, fmt.Errorf("discord.guild_id: %w", err)
	}
	user, err := strconv.ParseUint(cfg.UserID, 10, 64)
	if err != nil {
		return audio.ConnectionInfo{}, fmt.Errorf("discord.user_id: %w", err)
	}
	return audio.ConnectionInfo{GuildID: guild, UserID: user}, nil
}
