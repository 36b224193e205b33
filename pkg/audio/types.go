package audio

// Frame is one decoded block of audio flowing from a streaming engine into the
// sample transport. Samples are interleaved 32-bit floats in [-1, 1].
//
// A Frame is treated as immutable once it has been handed to a writer; the
// writer takes ownership of the Samples slice.
type Frame struct {
	// Samples holds interleaved PCM samples (L, R, L, R, … for stereo).
	Samples []float32

	// SampleRate in Hz (e.g., 44100 for decoded MP3, 48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Format returns the sample rate and channel count of f.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Len returns the number of sample frames (samples per channel) in f.
// A frame with zero channels has length zero.
func (f Frame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}
