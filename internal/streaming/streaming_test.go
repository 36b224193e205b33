package streaming_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/internal/streaming/mock"
	"github.com/MrWong99/groover/pkg/audio/mixer"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestSession(t *testing.T, svc *mock.Service) (*streaming.Session, *mock.Sink) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	sink := &mock.Sink{}
	s, err := streaming.New(context.Background(), streaming.Config{
		Service:     svc,
		Credentials: streaming.Credentials{AccessToken: "tok"},
		Sink:        sink,
		Mixer:       mixer.New(mixer.MaxVolume),
		Closer:      sink,
		Metrics:     m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, sink
}

func nextEvent(t *testing.T, s *streaming.Session) streaming.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return streaming.Event{}
	}
}

func TestNew_StartsBroadcast(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)

	if got := len(svc.BroadcastEngines()); got != 1 {
		t.Fatalf("broadcast engines = %d, want 1", got)
	}
	if s.RemoteControlEnabled() {
		t.Error("remote control enabled at startup")
	}
	if s.User() != "test-user" {
		t.Errorf("User() = %q", s.User())
	}
	if creds := svc.AuthenticateCalls; len(creds) != 1 || creds[0].AccessToken != "tok" {
		t.Errorf("AuthenticateCalls = %+v", creds)
	}
}

func TestNew_AuthenticationFails(t *testing.T) {
	t.Parallel()

	authErr := errors.New("bad credentials")
	svc := &mock.Service{AuthenticateError: authErr}
	_, err := streaming.New(context.Background(), streaming.Config{
		Service: svc,
		Sink:    &mock.Sink{},
		Mixer:   mixer.New(mixer.MaxVolume),
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("New err = %v, want %v", err, authErr)
	}
	if got := len(svc.BroadcastEngines()); got != 0 {
		t.Errorf("broadcast engines = %d, want 0", got)
	}
}

func TestNew_MissingCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := streaming.New(context.Background(), streaming.Config{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestSession_ForwardsEvents(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)

	b := svc.BroadcastEngines()[0]
	b.Emit(streaming.Event{Kind: streaming.EventStarted})
	b.Emit(streaming.Event{Kind: streaming.EventTrackPlaying, TrackID: "t1"})

	if ev := nextEvent(t, s); ev.Kind != streaming.EventStarted {
		t.Errorf("first event = %v, want started", ev)
	}
	if ev := nextEvent(t, s); ev.Kind != streaming.EventTrackPlaying || ev.TrackID != "t1" {
		t.Errorf("second event = %v, want track_playing(t1)", ev)
	}
}

func TestSession_EnableRemoteControl(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)
	ctx := context.Background()

	if err := s.EnableRemoteControl(ctx); err != nil {
		t.Fatalf("EnableRemoteControl: %v", err)
	}
	if !s.RemoteControlEnabled() {
		t.Fatal("remote control not enabled")
	}
	if !svc.BroadcastEngines()[0].Closed() {
		t.Error("broadcast engine still running")
	}
	remotes := svc.RemoteEngines()
	if len(remotes) != 1 {
		t.Fatalf("remote engines = %d, want 1", len(remotes))
	}
	if remotes[0].Mixer == nil {
		t.Error("remote engine did not receive the mixer")
	}

	remotes[0].Emit(streaming.Event{Kind: streaming.EventVolumeSet, Volume: 42})
	if ev := nextEvent(t, s); ev.Kind != streaming.EventVolumeSet || ev.Volume != 42 {
		t.Errorf("event = %v, want volume_set(42)", ev)
	}
}

func TestSession_EnableTwiceLeavesOneRemote(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)
	ctx := context.Background()

	for range 2 {
		if err := s.EnableRemoteControl(ctx); err != nil {
			t.Fatalf("EnableRemoteControl: %v", err)
		}
	}

	remotes := svc.RemoteEngines()
	if len(remotes) != 2 {
		t.Fatalf("remote engines opened = %d, want 2", len(remotes))
	}
	if !remotes[0].Closed() {
		t.Error("first remote engine still running")
	}
	if remotes[1].Closed() {
		t.Error("second remote engine closed")
	}
	for i, b := range svc.BroadcastEngines() {
		if !b.Closed() {
			t.Errorf("broadcast engine %d still running", i)
		}
	}
}

func TestSession_DisableRemoteControl(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)
	ctx := context.Background()

	if err := s.EnableRemoteControl(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DisableRemoteControl(ctx); err != nil {
		t.Fatalf("DisableRemoteControl: %v", err)
	}
	if s.RemoteControlEnabled() {
		t.Error("remote control still enabled")
	}
	if !svc.RemoteEngines()[0].Closed() {
		t.Error("remote engine still running")
	}
	broadcast := svc.BroadcastEngines()
	if len(broadcast) != 2 || broadcast[1].Closed() {
		t.Errorf("broadcast mode not restored: %d engines", len(broadcast))
	}
}

func TestSession_DisableWhenInactiveIsNoop(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)

	if err := s.DisableRemoteControl(context.Background()); err != nil {
		t.Fatalf("DisableRemoteControl: %v", err)
	}
	broadcast := svc.BroadcastEngines()
	if len(broadcast) != 1 || broadcast[0].Closed() {
		t.Error("no-op disable touched the broadcast engine")
	}
}

func TestSession_EnableFailureRestoresBroadcast(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{OpenRemoteError: errors.New("device not found")}
	s, _ := newTestSession(t, svc)

	if err := s.EnableRemoteControl(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if s.RemoteControlEnabled() {
		t.Error("remote control enabled after failure")
	}
	broadcast := svc.BroadcastEngines()
	if len(broadcast) != 2 || broadcast[1].Closed() {
		t.Error("broadcast engine not reopened after failure")
	}
}

func TestSession_PlayPause(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, _ := newTestSession(t, svc)
	ctx := context.Background()

	if err := s.PlayPause(ctx); !errors.Is(err, streaming.ErrRemoteDisabled) {
		t.Fatalf("PlayPause before enable = %v, want ErrRemoteDisabled", err)
	}
	if err := s.EnableRemoteControl(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.PlayPause(ctx); err != nil {
		t.Fatalf("PlayPause: %v", err)
	}
	if got := svc.RemoteEngines()[0].PlayPauseCount(); got != 1 {
		t.Errorf("PlayPause calls = %d, want 1", got)
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{}
	s, sink := newTestSession(t, svc)
	ctx := context.Background()
	if err := s.EnableRemoteControl(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !svc.RemoteEngines()[0].Closed() {
		t.Error("remote engine still running")
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closed %d times, want 1", sink.CallCountClose)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("Events() not closed")
	}
	if err := s.EnableRemoteControl(ctx); !errors.Is(err, streaming.ErrSessionClosed) {
		t.Errorf("EnableRemoteControl after Close = %v, want ErrSessionClosed", err)
	}
}

func TestEventKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ev   streaming.Event
		want string
	}{
		{streaming.Event{Kind: streaming.EventStarted}, "started"},
		{streaming.Event{Kind: streaming.EventTrackPlaying, TrackID: "abc"}, "track_playing(abc)"},
		{streaming.Event{Kind: streaming.EventVolumeSet, Volume: 7}, "volume_set(7)"},
		{streaming.Event{Kind: streaming.EventFailed, Err: errors.New("boom")}, "failed(boom)"},
		{streaming.Event{Kind: 99}, "EventKind(99)"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
