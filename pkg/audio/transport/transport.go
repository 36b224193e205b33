// Package transport moves decoded audio from an asynchronous producer into a
// synchronously pulled byte stream.
//
// A transport is a bounded FIFO of serialized chunks. [New] returns the two
// capabilities onto one queue: a [Producer] that converts, resamples and
// enqueues [audio.Frame] values, and a [Consumer] that implements [io.Reader]
// over the little-endian float32 byte stream at the target format.
//
// Writes block while the queue is full. Reads block until the requested number
// of bytes is available. Closing the producer unblocks both sides; the consumer
// drains what is left and then reports [io.EOF].
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/groover/pkg/audio"
)

// ErrClosed is returned by [Producer.Write] after [Producer.Close].
var ErrClosed = errors.New("transport: closed")

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultDepth      = 64
)

// Config describes the target format and capacity of a transport.
type Config struct {
	// SampleRate is the rate of the byte stream handed to the consumer.
	SampleRate int

	// Channels is the channel count of the byte stream (1 or 2).
	Channels int

	// Depth is the queue capacity in chunks. One written frame is one chunk.
	Depth int

	// Quality selects the resampler: 0 interpolates linearly, 1..10 selects
	// the polyphase resampler at that quality.
	Quality int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.Depth == 0 {
		c.Depth = DefaultDepth
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", c.Channels))
	}
	if c.Depth < 0 {
		errs = append(errs, fmt.Errorf("depth %d must be positive", c.Depth))
	}
	if c.Quality < 0 || c.Quality > MaxQuality {
		errs = append(errs, fmt.Errorf("quality %d out of range [0, %d]", c.Quality, MaxQuality))
	}
	return errors.Join(errs...)
}

// Stats is a snapshot of the transport counters.
type Stats struct {
	Frames   int64
	Bytes    int64
	Blocked  time.Duration
	Buffered int
}

type queue struct {
	format audio.Format
	chunks chan []byte

	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
	rs      frameResampler

	readMu  sync.Mutex
	pending []byte

	frames  atomic.Int64
	bytes   atomic.Int64
	blocked atomic.Int64
}

// New creates a transport and returns its producer and consumer handles.
func New(cfg Config) (*Producer, *Consumer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, nil, fmt.Errorf("transport: invalid config: %w", err)
	}
	q := &queue{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		chunks: make(chan []byte, cfg.Depth),
		done:   make(chan struct{}),
		rs:     newResampler(cfg.SampleRate, cfg.Quality),
	}
	return &Producer{q: q}, &Consumer{q: q}, nil
}

// ─── Producer ────────────────────────────────────────────────────────────────

// Producer is the write capability of a transport. Write is safe for
// concurrent use, but frames from concurrent writers interleave in arbitrary
// order.
type Producer struct {
	q *queue
}

// Format returns the target format of the byte stream.
func (p *Producer) Format() audio.Format { return p.q.format }

// Write converts f to the target format and enqueues it as one chunk. It
// blocks while the queue is full and returns [ErrClosed] once the transport
// is closed. Ownership of f.Samples passes to the transport.
func (p *Producer) Write(f audio.Frame) error {
	return p.WriteContext(context.Background(), f)
}

// WriteContext is like Write but gives up waiting for queue space when ctx is
// done.
func (p *Producer) WriteContext(ctx context.Context, f audio.Frame) error {
	q := p.q
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if len(f.Samples) == 0 {
		return nil
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("transport: write: invalid sample rate %d", f.SampleRate)
	}

	samples, err := convertChannels(f.Samples, f.Channels, q.format.Channels)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}

	q.writeMu.Lock()
	samples, err = q.rs.resample(samples, q.format.Channels, f.SampleRate)
	q.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: resample %s to %s: %w",
			audio.Format{SampleRate: f.SampleRate, Channels: q.format.Channels}, q.format, err)
	}
	if len(samples) == 0 {
		return nil
	}

	chunk := audio.AppendFloat32LE(make([]byte, 0, len(samples)*audio.BytesPerSample), samples)
	if err := q.enqueue(ctx, chunk); err != nil {
		return err
	}
	q.frames.Add(1)
	q.bytes.Add(int64(len(chunk)))
	return nil
}

// Close closes the transport. Pending and future writes return [ErrClosed];
// readers drain the remaining chunks and then see [io.EOF]. Close is
// idempotent.
func (p *Producer) Close() error {
	p.q.closeOnce.Do(func() { close(p.q.done) })
	return nil
}

// Stats returns a snapshot of the transport counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Frames:   p.q.frames.Load(),
		Bytes:    p.q.bytes.Load(),
		Blocked:  time.Duration(p.q.blocked.Load()),
		Buffered: len(p.q.chunks),
	}
}

func (q *queue) enqueue(ctx context.Context, chunk []byte) error {
	select {
	case q.chunks <- chunk:
		return nil
	default:
	}

	start := time.Now()
	defer func() { q.blocked.Add(int64(time.Since(start))) }()
	select {
	case q.chunks <- chunk:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func convertChannels(samples []float32, from, to int) ([]float32, error) {
	switch {
	case from == to:
		return samples, nil
	case from == 1 && to == 2:
		return audio.MonoToStereo(samples), nil
	case from == 2 && to == 1:
		return audio.StereoToMono(samples), nil
	default:
		return nil, fmt.Errorf("unsupported channel conversion %d -> %d", from, to)
	}
}

// ─── Consumer ────────────────────────────────────────────────────────────────

// Consumer is the read capability of a transport. It is safe for concurrent
// use; each Read is served in full before the next one starts.
type Consumer struct {
	q *queue
}

var _ audio.ContextReader = (*Consumer)(nil)

// Format returns the format of the byte stream.
func (c *Consumer) Format() audio.Format { return c.q.format }

// Clone returns another handle onto the same queue.
func (c *Consumer) Clone() *Consumer { return &Consumer{q: c.q} }

// Read fills p from the queue, blocking until len(p) bytes are available. It
// returns a short count only when the transport was closed mid-read, and
// [io.EOF] once the transport is closed and empty.
func (c *Consumer) Read(p []byte) (int, error) {
	return c.ReadContext(context.Background(), p)
}

// ReadContext is like Read but gives up when ctx is done. Bytes copied before
// cancellation are returned to the queue so no audio is lost.
func (c *Consumer) ReadContext(ctx context.Context, p []byte) (int, error) {
	q := c.q
	q.readMu.Lock()
	defer q.readMu.Unlock()

	n := 0
	for n < len(p) {
		if len(q.pending) == 0 {
			chunk, err := q.next(ctx)
			if err == io.EOF {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			if err != nil {
				if n > 0 {
					q.pending = append(append(make([]byte, 0, n), p[:n]...), q.pending...)
				}
				return 0, err
			}
			q.pending = chunk
		}
		k := copy(p[n:], q.pending)
		q.pending = q.pending[k:]
		n += k
	}
	return n, nil
}

// Drain discards every buffered byte and returns how many were dropped. It
// does not wait for in-flight writes.
func (c *Consumer) Drain() int {
	q := c.q
	q.readMu.Lock()
	defer q.readMu.Unlock()

	n := len(q.pending)
	q.pending = nil
	for {
		select {
		case chunk := <-q.chunks:
			n += len(chunk)
		default:
			return n
		}
	}
}

func (q *queue) next(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-q.chunks:
		return chunk, nil
	case <-q.done:
		select {
		case chunk := <-q.chunks:
			return chunk, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
