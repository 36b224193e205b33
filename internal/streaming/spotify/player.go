package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zmb3/spotify/v2"

	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/resilience"
	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/pkg/audio"
)

// errSink marks errors returned by the sink. They are fatal to the engine.
var errSink = errors.New("spotify: sink write")

// playerClient is the subset of the Web API the engine uses.
type playerClient interface {
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PauseOpt(ctx context.Context, opt *spotify.PlayOptions) error
}

var _ playerClient = (*spotify.Client)(nil)

type playerConfig struct {
	client   playerClient
	device   string
	sink     streaming.Sink
	mixer    audio.VolumeControl
	store    Store
	http     *http.Client
	decode   decodeFunc
	interval time.Duration
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// player is a polling engine. With a mixer it runs in remote mode.
type player struct {
	playerConfig

	events    chan streaming.Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu           sync.Mutex
	last         snapshot
	decodeTrack  string
	decodeCancel context.CancelFunc
}

var _ streaming.RemoteEngine = (*player)(nil)

func newPlayer(cfg playerConfig) *player {
	return &player{
		playerConfig: cfg,
		events:       make(chan streaming.Event, 16),
	}
}

func (p *player) mode() string {
	if p.mixer != nil {
		return "remote"
	}
	return "broadcast"
}

func (p *player) log(ctx context.Context) *slog.Logger {
	return observe.Logger(ctx).With("engine", p.mode())
}

// start launches the poll loop. The engine outlives ctx; only Close stops it.
func (p *player) start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.wg.Add(1)
	go p.pollLoop()
	p.log(ctx).Info("spotify: engine started", "interval", p.interval)
}

func (p *player) pollLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.poll(p.ctx)
		select {
		case <-p.ctx.Done():
			p.stopDecode()
			return
		case <-t.C:
		}
	}
}

func (p *player) poll(ctx context.Context) {
	var st *spotify.PlayerState
	start := time.Now()
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		st, err = p.client.PlayerState(ctx)
		return err
	})
	p.metrics.PollDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollErrors.Add(ctx, 1)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			p.log(ctx).Debug("spotify: player state skipped", "err", err)
		} else {
			p.log(ctx).Warn("spotify: player state failed", "err", err)
		}
		return
	}

	cur := snapshotOf(st, p.device)
	p.mu.Lock()
	prev := p.last
	p.last = cur
	p.mu.Unlock()

	for _, ev := range diff(prev, cur) {
		if ev.Kind == streaming.EventVolumeSet && p.mixer != nil {
			p.mixer.SetVolume(ev.Volume)
		}
		p.emit(ev)
	}
	p.reconcile(cur)
}

// reconcile starts or stops the decoder so that exactly the playing track is
// being decoded.
func (p *player) reconcile(cur snapshot) {
	want := cur.playing && cur.preview != ""

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decodeTrack != "" && (!want || p.decodeTrack != cur.trackID) {
		p.decodeCancel()
		p.decodeTrack, p.decodeCancel = "", nil
	}
	if !want || p.decodeTrack != "" || p.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.decodeTrack, p.decodeCancel = cur.trackID, cancel
	p.wg.Add(1)
	go p.decodeLoop(ctx, cur.trackID, cur.preview)
}

func (p *player) stopDecode() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decodeCancel != nil {
		p.decodeCancel()
		p.decodeTrack, p.decodeCancel = "", nil
	}
}

func (p *player) decodeLoop(ctx context.Context, trackID, url string) {
	defer p.wg.Done()

	data, err := p.fetchPreview(ctx, trackID, url)
	if err != nil {
		if ctx.Err() == nil {
			p.log(ctx).Warn("spotify: preview unavailable", "track", trackID, "err", err)
		}
		return
	}
	err = p.stream(ctx, data)
	switch {
	case err == nil || ctx.Err() != nil:
	case errors.Is(err, errSink):
		p.fail(ctx, err)
	default:
		p.log(ctx).Warn("spotify: decoding preview failed", "track", trackID, "err", err)
	}
}

// fail reports err as the last event and stops the engine.
func (p *player) fail(ctx context.Context, err error) {
	p.log(ctx).Error("spotify: engine failed", "err", err)
	p.emit(streaming.Event{Kind: streaming.EventFailed, Err: err})
	p.cancel()
}

func (p *player) emit(ev streaming.Event) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// PlayPause implements [streaming.RemoteEngine]: it pauses when the last
// polled state was playing and resumes otherwise.
func (p *player) PlayPause(ctx context.Context) error {
	p.mu.Lock()
	cur := p.last
	p.mu.Unlock()

	var opt *spotify.PlayOptions
	if cur.deviceID != "" {
		id := cur.deviceID
		opt = &spotify.PlayOptions{DeviceID: &id}
	}
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		if cur.playing {
			return p.client.PauseOpt(ctx, opt)
		}
		return p.client.PlayOpt(ctx, opt)
	})
	if err != nil {
		return fmt.Errorf("spotify: play/pause: %w", err)
	}
	return nil
}

// Close implements [streaming.Engine]. It stops polling and decoding and then
// closes the event channel.
func (p *player) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.events)
		p.log(p.ctx).Info("spotify: engine stopped")
	})
	return nil
}
