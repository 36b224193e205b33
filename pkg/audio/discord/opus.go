package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// maxOpusPacket bounds the size of one encoded packet.
	maxOpusPacket = 4000

	// opusAuto is libopus' OPUS_AUTO, restoring encoder-chosen bitrate.
	opusAuto = -1000
)

// opusEncoder wraps a gopus Opus encoder for the output stream.
type opusEncoder struct {
	enc     *gopus.Encoder
	bitrate int
	pcm     []int16
}

// newOpusEncoder creates a new Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, pcm: make([]int16, opusFrameSize*opusChannels)}, nil
}

// setBitrate applies bps to the encoder if it differs from the current
// setting. Zero selects the encoder's automatic bitrate.
func (e *opusEncoder) setBitrate(bps int) {
	if bps == e.bitrate {
		return
	}
	if bps == 0 {
		e.enc.SetBitrate(opusAuto)
	} else {
		e.enc.SetBitrate(bps)
	}
	e.bitrate = bps
}

// encode encodes one frame of interleaved float32 samples into an Opus packet.
func (e *opusEncoder) encode(samples []float32) ([]byte, error) {
	floatToInt16(e.pcm, samples)
	opus, err := e.enc.Encode(e.pcm[:len(samples)], opusFrameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}

// floatToInt16 converts samples in [-1, 1] to int16, clamping out-of-range
// values. dst must be at least as long as src.
func floatToInt16(dst []int16, src []float32) {
	for i, s := range src {
		switch {
		case s >= 1:
			dst[i] = 32767
		case s <= -1:
			dst[i] = -32768
		default:
			dst[i] = int16(s * 32767)
		}
	}
}
