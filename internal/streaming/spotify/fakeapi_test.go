package spotify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/oauth2"

	"github.com/MrWong99/groover/internal/credcache"
	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/streaming"
)

// fakeAPI serves the Web API and accounts endpoints the service uses.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	state    string
	validTok string
	auths    []string
	plays    []string
	pauses   []string
	previews int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", f.handleMe)
	mux.HandleFunc("GET /me/player", f.handlePlayer)
	mux.HandleFunc("PUT /me/player/play", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.plays = append(f.plays, r.URL.Query().Get("device_id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /me/player/pause", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pauses = append(f.pauses, r.URL.Query().Get("device_id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /preview/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.previews++
		f.mu.Unlock()
		_, _ = io.WriteString(w, "mp3:"+r.PathValue("id"))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "the-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"r","expires_in":3600}`)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	f.validTok = "tok"
	return f
}

func (f *fakeAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	auth := r.Header.Get("Authorization")
	f.auths = append(f.auths, auth)
	valid := auth == "Bearer "+f.validTok
	f.mu.Unlock()
	if !valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"status":401,"message":"Invalid access token"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"id":"u1","display_name":"DJ"}`)
}

func (f *fakeAPI) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()
	if state == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, state)
}

// setPlaying publishes a player state with track on device "Den".
func (f *fakeAPI) setPlaying(track string, playing bool, volume int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = fmt.Sprintf(`{"device":{"id":"d1","is_active":true,"name":"Den","type":"Computer","volume_percent":%d},`+
		`"is_playing":%t,"progress_ms":0,"timestamp":0,`+
		`"item":{"id":%q,"name":"Song","type":"track","preview_url":%q}}`,
		volume, playing, track, f.srv.URL+"/preview/"+track)
}

func (f *fakeAPI) setIdle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = ""
}

func (f *fakeAPI) pauseCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pauses...)
}

func (f *fakeAPI) playCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plays...)
}

func (f *fakeAPI) lastAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.auths) == 0 {
		return ""
	}
	return f.auths[len(f.auths)-1]
}

// constDecode returns a decoder producing frames stereo frames of value v at
// 44.1 kHz, regardless of input.
func constDecode(frames int, v float64) decodeFunc {
	return func(r io.ReadCloser) (beep.Streamer, beep.Format, error) {
		_ = r.Close()
		left := frames
		s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
			if left == 0 {
				return 0, false
			}
			n := min(len(samples), left)
			for i := range n {
				samples[i] = [2]float64{v, v}
			}
			left -= n
			return n, true
		})
		return s, beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}, nil
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestService(t *testing.T, f *fakeAPI, prompt string) (*Service, *credcache.Cache, *strings.Builder) {
	t.Helper()
	cache, err := credcache.Open("", 1<<20)
	if err != nil {
		t.Fatalf("credcache.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	out := &strings.Builder{}
	svc := New(Config{
		Store:        cache,
		PollInterval: 5 * time.Millisecond,
		APIURL:       f.srv.URL + "/",
		Endpoint:     oauth2.Endpoint{AuthURL: f.srv.URL + "/authorize", TokenURL: f.srv.URL + "/token"},
		HTTPClient:   f.srv.Client(),
		Prompt:       strings.NewReader(prompt),
		Output:       out,
		Metrics:      testMetrics(t),
	})
	svc.auth.newState = func() string { return "fixed-state" }
	svc.decode = constDecode(2048, 1)
	return svc, cache, out
}

func nextEvent(t *testing.T, evs <-chan streaming.Event) streaming.Event {
	t.Helper()
	select {
	case ev, ok := <-evs:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return streaming.Event{}
	}
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
