package discord

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/groover/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Call = (*Call)(nil)

// ErrCallClosed is returned by [Call.AttachSource] after [Call.Leave].
var ErrCallClosed = errors.New("discord: call closed")

// pcmFrameBytes is the byte size of one Opus frame of little-endian float32
// PCM: 960 samples/channel × 2 channels × 4 bytes/sample = 7680 bytes.
const pcmFrameBytes = opusFrameSize * opusChannels * audio.BytesPerSample

// Call wraps a discordgo.VoiceConnection and adapts it to the [audio.Call]
// interface. A dedicated send loop pulls float32 PCM from the attached source,
// encodes it to Opus and hands the packets to Discord.
//
// Call is safe for concurrent use.
type Call struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	bitrate atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool

	closeOnce sync.Once

	// disconnectVC and speaking default to the voice connection's methods;
	// overridden in tests.
	disconnectVC func() error
	speaking     func(bool) error
}

func newCall(vc *discordgo.VoiceConnection, guildID, channelID string) *Call {
	return &Call{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		disconnectVC: vc.Disconnect,
		speaking:     vc.Speaking,
	}
}

// ChannelID returns the voice channel the call is connected to.
func (c *Call) ChannelID() string { return c.channelID }

// AttachSource stops the send loop of the previous source, if any, and starts
// pulling from r. The previous loop has exited when AttachSource returns, so
// two loops never read concurrently.
func (c *Call) AttachSource(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCallClosed
	}
	c.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	go func() {
		defer close(done)
		c.sendLoop(ctx, r)
	}()
	return nil
}

// SetBitrate changes the encoder bitrate from the next encoded frame on.
func (c *Call) SetBitrate(b audio.Bitrate) error {
	c.bitrate.Store(int64(b))
	return nil
}

// Leave stops the send loop and disconnects from the voice channel. It is
// safe to call more than once; subsequent calls return nil.
func (c *Call) Leave() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopLoopLocked()
		c.mu.Unlock()

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

func (c *Call) stopLoopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.loopDone
	c.cancel = nil
	c.loopDone = nil
}

// sendLoop reads one Opus frame worth of PCM at a time from r, encodes it and
// sends the packet via the Discord voice connection. It returns when ctx is
// cancelled or r is exhausted.
func (c *Call) sendLoop(ctx context.Context, r io.Reader) {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}

	speakingSet := false
	defer func() {
		if speakingSet {
			c.setSpeaking(false)
		}
	}()

	buf := make([]byte, pcmFrameBytes)
	samples := make([]float32, opusFrameSize*opusChannels)
	for {
		if err := readFrame(ctx, r, buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				slog.Warn("discord: audio source read error", "guild", c.guildID, "err", err)
			}
			return
		}

		if !speakingSet {
			c.setSpeaking(true)
			speakingSet = true
		}

		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*audio.BytesPerSample:]))
		}
		enc.setBitrate(int(c.bitrate.Load()))
		opus, err := enc.encode(samples)
		if err != nil {
			slog.Warn("discord: opus encode error", "err", err)
			continue
		}

		select {
		case c.vc.OpusSend <- opus:
		case <-ctx.Done():
			return
		}
	}
}

// readFrame fills buf from r. Sources implementing [audio.ContextReader] are
// abandoned as soon as ctx is cancelled; plain readers are only checked
// between reads.
func readFrame(ctx context.Context, r io.Reader, buf []byte) error {
	cr, ok := r.(audio.ContextReader)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := io.ReadFull(r, buf)
		return err
	}
	n := 0
	for n < len(buf) {
		k, err := cr.ReadContext(ctx, buf[n:])
		n += k
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Call) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}
