package transport_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/groover/pkg/audio"
	"github.com/MrWong99/groover/pkg/audio/transport"
)

func newTransport(t *testing.T, cfg transport.Config) (*transport.Producer, *transport.Consumer) {
	t.Helper()
	p, c, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, c
}

func stereoFrame(samples ...float32) audio.Frame {
	return audio.Frame{Samples: samples, SampleRate: 48000, Channels: 2}
}

func readSamples(t *testing.T, c *transport.Consumer, n int) []float32 {
	t.Helper()
	buf := make([]byte, n*audio.BytesPerSample)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read %d samples: %v", n, err)
	}
	return audio.DecodeFloat32LE(buf)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	want := audio.Format{SampleRate: 48000, Channels: 2}
	if p.Format() != want || c.Format() != want {
		t.Errorf("Format() = %v / %v, want %v", p.Format(), c.Format(), want)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  transport.Config
	}{
		{"negative rate", transport.Config{SampleRate: -1}},
		{"too many channels", transport.Config{Channels: 6}},
		{"negative depth", transport.Config{Depth: -3}},
		{"quality too high", transport.Config{Quality: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := transport.New(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestTransport_OrderPreserved(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Depth: 4})

	const frames = 50
	go func() {
		for i := range frames {
			v := float32(i)
			if err := p.Write(stereoFrame(v, v)); err != nil {
				t.Errorf("Write %d: %v", i, err)
				return
			}
		}
	}()

	got := readSamples(t, c, frames*2)
	for i := range frames {
		if got[i*2] != float32(i) || got[i*2+1] != float32(i) {
			t.Fatalf("frame %d = (%v, %v), want (%d, %d)", i, got[i*2], got[i*2+1], i, i)
		}
	}
}

func TestTransport_ReadSpansChunks(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	if err := p.Write(stereoFrame(1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(stereoFrame(3, 4, 5, 6)); err != nil {
		t.Fatal(err)
	}

	// 3 samples: the whole first chunk and half of the second.
	got := readSamples(t, c, 3)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("first read = %v, want [1 2 3]", got)
	}
	got = readSamples(t, c, 3)
	if got[0] != 4 || got[1] != 5 || got[2] != 6 {
		t.Errorf("second read = %v, want [4 5 6]", got)
	}
}

func TestTransport_Backpressure(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Depth: 2})
	for range 2 {
		if err := p.Write(stereoFrame(0, 0)); err != nil {
			t.Fatal(err)
		}
	}

	written := make(chan error, 1)
	go func() { written <- p.Write(stereoFrame(1, 1)) }()

	select {
	case err := <-written:
		t.Fatalf("Write on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	readSamples(t, c, 2)

	select {
	case err := <-written:
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write still blocked after a chunk was read")
	}
	if p.Stats().Blocked <= 0 {
		t.Error("Stats().Blocked should record time spent blocked")
	}
}

func TestTransport_ReadBlocksUntilFull(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	if err := p.Write(stereoFrame(1, 1)); err != nil {
		t.Fatal(err)
	}

	done := make(chan []float32, 1)
	go func() {
		buf := make([]byte, 4*audio.BytesPerSample)
		if _, err := c.Read(buf); err != nil {
			t.Errorf("Read: %v", err)
		}
		done <- audio.DecodeFloat32LE(buf)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before enough bytes were written")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Write(stereoFrame(2, 2)); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-done:
		if got[0] != 1 || got[3] != 2 {
			t.Errorf("Read = %v, want [1 1 2 2]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not complete")
	}
}

func TestTransport_CloseUnblocksAndDrains(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Depth: 1})
	if err := p.Write(stereoFrame(7, 7)); err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- p.Write(stereoFrame(8, 8)) }()
	time.Sleep(20 * time.Millisecond)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-blocked:
		if !errors.Is(err, transport.ErrClosed) {
			t.Errorf("blocked Write = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the writer")
	}

	// The buffered chunk is still readable.
	got := readSamples(t, c, 2)
	if got[0] != 7 {
		t.Errorf("buffered sample = %v, want 7", got[0])
	}

	buf := make([]byte, 8)
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read after drain = %v, want io.EOF", err)
	}
	if err := p.Write(stereoFrame(1, 1)); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
}

func TestTransport_CloseMidReadReturnsPartial(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	if err := p.Write(stereoFrame(1, 1)); err != nil {
		t.Fatal(err)
	}
	_ = p.Close()

	buf := make([]byte, 4*audio.BytesPerSample)
	n, err := c.Read(buf)
	if err != nil || n != 2*audio.BytesPerSample {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, 2*audio.BytesPerSample)
	}
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("next Read = %v, want io.EOF", err)
	}
}

func TestTransport_ReadContextCancelKeepsData(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	if err := p.Write(stereoFrame(3, 4)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	buf := make([]byte, 4*audio.BytesPerSample)
	if _, err := c.ReadContext(ctx, buf); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadContext = %v, want DeadlineExceeded", err)
	}

	got := readSamples(t, c, 2)
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("samples after cancel = %v, want [3 4]", got)
	}
}

func TestTransport_Drain(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	for range 3 {
		if err := p.Write(stereoFrame(1, 1)); err != nil {
			t.Fatal(err)
		}
	}
	readSamples(t, c, 1)

	if got, want := c.Drain(), 5*audio.BytesPerSample; got != want {
		t.Errorf("Drain() = %d, want %d", got, want)
	}
	if got := c.Drain(); got != 0 {
		t.Errorf("second Drain() = %d, want 0", got)
	}
	if err := p.Write(stereoFrame(9, 9)); err != nil {
		t.Fatal(err)
	}
	if got := readSamples(t, c, 2); got[0] != 9 {
		t.Errorf("sample after drain = %v, want 9", got[0])
	}
}

func TestTransport_ClonedReadsDoNotInterleave(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Depth: 128})

	const frames = 100
	for i := range frames {
		v := float32(i)
		if err := p.Write(stereoFrame(v, v)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	readers := []*transport.Consumer{c, c.Clone()}
	for _, r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 2*audio.BytesPerSample)
			for range frames / 2 {
				if _, err := r.Read(buf); err != nil {
					t.Errorf("Read: %v", err)
					return
				}
				got := audio.DecodeFloat32LE(buf)
				if got[0] != got[1] {
					t.Errorf("interleaved read: %v", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTransport_ChannelConversion(t *testing.T) {
	t.Parallel()

	t.Run("mono to stereo", func(t *testing.T) {
		t.Parallel()
		p, c := newTransport(t, transport.Config{})
		if err := p.Write(audio.Frame{Samples: []float32{0.5}, SampleRate: 48000, Channels: 1}); err != nil {
			t.Fatal(err)
		}
		got := readSamples(t, c, 2)
		if got[0] != 0.5 || got[1] != 0.5 {
			t.Errorf("got %v, want [0.5 0.5]", got)
		}
	})

	t.Run("stereo to mono", func(t *testing.T) {
		t.Parallel()
		p, c := newTransport(t, transport.Config{Channels: 1})
		if err := p.Write(stereoFrame(0.2, 0.4)); err != nil {
			t.Fatal(err)
		}
		got := readSamples(t, c, 1)
		if d := got[0] - 0.3; d > 1e-6 || d < -1e-6 {
			t.Errorf("got %v, want 0.3", got[0])
		}
	})

	t.Run("surround rejected", func(t *testing.T) {
		t.Parallel()
		p, _ := newTransport(t, transport.Config{})
		err := p.Write(audio.Frame{Samples: make([]float32, 6), SampleRate: 48000, Channels: 6})
		if err == nil {
			t.Error("expected error for 6-channel frame")
		}
	})
}

func TestTransport_LinearResample(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{})
	// 10 ms at 44.1 kHz stereo.
	if err := p.Write(audio.Frame{Samples: make([]float32, 441*2), SampleRate: 44100, Channels: 2}); err != nil {
		t.Fatal(err)
	}
	if got, want := p.Stats().Bytes, int64(480*2*audio.BytesPerSample); got != want {
		t.Errorf("Stats().Bytes = %d, want %d", got, want)
	}
	readSamples(t, c, 480*2)
}

func TestTransport_PolyphaseResample(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Quality: 5})

	for range 10 {
		if err := p.Write(audio.Frame{Samples: make([]float32, 441*2), SampleRate: 44100, Channels: 2}); err != nil {
			t.Fatal(err)
		}
	}
	samples := p.Stats().Bytes / audio.BytesPerSample
	if samples%2 != 0 {
		t.Fatalf("odd sample count %d breaks stereo framing", samples)
	}
	// 100 ms at 48 kHz is 4800 frames; the filter delay may hold some back.
	if frames := samples / 2; frames < 4000 || frames > 4800 {
		t.Errorf("resampled %d frames, want close to 4800", frames)
	}
	readSamples(t, c, int(samples))
}

func TestTransport_InvalidFrameRate(t *testing.T) {
	t.Parallel()

	p, _ := newTransport(t, transport.Config{})
	if err := p.Write(audio.Frame{Samples: []float32{1, 1}, Channels: 2}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if got := p.Stats().Frames; got != 0 {
		t.Errorf("Stats().Frames = %d, want 0", got)
	}
}

func TestTransport_WriteContextCancel(t *testing.T) {
	t.Parallel()

	p, c := newTransport(t, transport.Config{Depth: 1})
	if err := p.Write(stereoFrame(1, 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.WriteContext(ctx, stereoFrame(2, 2)) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WriteContext = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WriteContext ignored cancellation")
	}
	if got := p.Stats().Frames; got != 1 {
		t.Errorf("Stats().Frames = %d, want 1", got)
	}
	if got := c.Drain(); got != 2*audio.BytesPerSample {
		t.Errorf("Drain() = %d, want only the first frame", got)
	}
}
