// Package spotify implements [streaming.Service] on top of the Spotify Web API.
//
// Authentication accepts a pre-issued access token, a token cached from an
// earlier run or an interactive authorization-code login. Engines poll the
// player state of the account, turn state changes into [streaming.Event]
// values and, while a track plays, decode its preview clip into the sink.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/resilience"
	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/pkg/audio"
)

// DefaultPollInterval is the player-state polling interval used when
// [Config.PollInterval] is zero.
const DefaultPollInterval = time.Second

// Store is the cache the service keeps credentials and decoded audio in.
type Store interface {
	TokenStore
	Audio(id string) ([]byte, error)
	PutAudio(id string, data []byte) error
}

// Config configures a [Service].
type Config struct {
	// Store caches tokens and preview audio. May be nil.
	Store Store

	// PollInterval is how often the player state is requested.
	PollInterval time.Duration

	// APIURL overrides the Web API base URL. It must end with a slash.
	APIURL string

	// Endpoint overrides the accounts service endpoint.
	Endpoint oauth2.Endpoint

	// HTTPClient downloads preview clips. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Prompt and Output are used by the interactive login. They default to
	// os.Stdin and os.Stderr.
	Prompt io.Reader
	Output io.Writer

	// Breaker configures the circuit breaker guarding Web API calls.
	Breaker resilience.CircuitBreakerConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Service is the Spotify [streaming.Service].
type Service struct {
	cfg    Config
	auth   *authenticator
	decode decodeFunc
}

var _ streaming.Service = (*Service)(nil)

// New returns a Service configured by cfg.
func New(cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Prompt == nil {
		cfg.Prompt = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "spotify"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	var store TokenStore
	if cfg.Store != nil {
		store = cfg.Store
	}
	return &Service{
		cfg: cfg,
		auth: &authenticator{
			store:    store,
			endpoint: cfg.Endpoint,
			prompt:   cfg.Prompt,
			out:      cfg.Output,
			newState: newState,
		},
		decode: decodeMP3,
	}
}

// handle is the authenticated session.
type handle struct {
	client *spotify.Client
	user   string
}

// User implements [streaming.Handle].
func (h *handle) User() string { return h.user }

// Authenticate implements [streaming.Service]. A token that fails validation
// falls through to the interactive login unless it was pre-issued.
func (s *Service) Authenticate(ctx context.Context, creds streaming.Credentials) (streaming.Handle, error) {
	if hc, ok := s.auth.cached(ctx, creds); ok {
		h, err := s.validate(ctx, hc)
		if err == nil {
			return h, nil
		}
		if creds.AccessToken != "" {
			return nil, err
		}
		observe.Logger(ctx).Warn("spotify: cached token rejected, starting interactive login", "err", err)
	}

	hc, err := s.auth.interactive(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.validate(ctx, hc)
}

func (s *Service) validate(ctx context.Context, hc *http.Client) (*handle, error) {
	client := s.newClient(hc)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify: validate token: %w", err)
	}
	name := user.DisplayName
	if name == "" {
		name = user.ID
	}
	return &handle{client: client, user: name}, nil
}

func (s *Service) newClient(hc *http.Client) *spotify.Client {
	var opts []spotify.ClientOption
	if s.cfg.APIURL != "" {
		opts = append(opts, spotify.WithBaseURL(s.cfg.APIURL))
	}
	return spotify.New(hc, opts...)
}

// OpenPlayback implements [streaming.Service]. The engine follows whatever
// device the account plays on.
func (s *Service) OpenPlayback(ctx context.Context, h streaming.Handle, sink streaming.Sink) (streaming.Engine, <-chan streaming.Event, error) {
	p, err := s.open(ctx, h, streaming.RemoteConfig{}, nil, sink)
	if err != nil {
		return nil, nil, err
	}
	return p, p.events, nil
}

// OpenRemoteControl implements [streaming.Service]. The engine applies mixer
// to decoded audio and maps the device volume onto it.
func (s *Service) OpenRemoteControl(ctx context.Context, h streaming.Handle, cfg streaming.RemoteConfig, mixer audio.VolumeControl, sink streaming.Sink) (streaming.RemoteEngine, <-chan streaming.Event, error) {
	if mixer == nil {
		return nil, nil, errors.New("spotify: remote control requires a mixer")
	}
	p, err := s.open(ctx, h, cfg, mixer, sink)
	if err != nil {
		return nil, nil, err
	}
	return p, p.events, nil
}

func (s *Service) open(ctx context.Context, h streaming.Handle, rc streaming.RemoteConfig, mixer audio.VolumeControl, sink streaming.Sink) (*player, error) {
	sh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("spotify: foreign handle %T", h)
	}
	if sink == nil {
		return nil, errors.New("spotify: sink is required")
	}
	p := newPlayer(playerConfig{
		client:   sh.client,
		device:   rc.DeviceName,
		sink:     sink,
		mixer:    mixer,
		store:    s.cfg.Store,
		http:     s.cfg.HTTPClient,
		decode:   s.decode,
		interval: s.cfg.PollInterval,
		breaker:  resilience.NewCircuitBreaker(s.cfg.Breaker),
		metrics:  s.cfg.Metrics,
	})
	p.start(ctx)
	return p, nil
}
