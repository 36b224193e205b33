package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the serialized width of one float32 sample.
const BytesPerSample = 4

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages L+R per stereo frame. A trailing odd sample is
// discarded.
func StereoToMono(samples []float32) []float32 {
	frames := len(samples) / 2
	out := make([]float32, frames)
	for i := range frames {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}

// ResampleLinear resamples interleaved samples with the given channel count
// from srcRate to dstRate using linear interpolation. If the rates match, the
// input is returned unchanged. The output holds
// floor(frames * dstRate / srcRate) sample frames.
func ResampleLinear(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// AppendFloat32LE serializes samples as little-endian IEEE-754 float32 values
// and appends them to dst.
func AppendFloat32LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// DecodeFloat32LE parses little-endian float32 samples. Trailing bytes that do
// not form a whole sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/BytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerSample:]))
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
