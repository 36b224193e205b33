package transport

import (
	"errors"
	"fmt"

	"github.com/MrWong99/groover/pkg/audio"
	"github.com/oov/audio/resampler"
)

// MaxQuality is the highest resampler quality accepted by [Config].
const MaxQuality = 10

// frameResampler converts interleaved frames of one source format to the target
// rate. Implementations are not safe for concurrent use; the Producer
// serializes access.
type frameResampler interface {
	resample(samples []float32, channels, srcRate int) ([]float32, error)
}

// linearResampler is stateless and interpolates each frame on its own.
type linearResampler struct {
	dstRate int
}

func (r *linearResampler) resample(samples []float32, channels, srcRate int) ([]float32, error) {
	return audio.ResampleLinear(samples, channels, srcRate, r.dstRate), nil
}

// polyphaseResampler wraps the speex-derived resampler. Its filter state
// carries across frames, so it is rebuilt whenever the source format changes.
type polyphaseResampler struct {
	dstRate int
	quality int

	r        *resampler.Resampler
	srcRate  int
	channels int

	planarIn  [][]float32
	planarOut [][]float32
}

func (p *polyphaseResampler) resample(samples []float32, channels, srcRate int) ([]float32, error) {
	if srcRate == p.dstRate {
		return samples, nil
	}
	if p.r == nil || p.srcRate != srcRate || p.channels != channels {
		p.r = resampler.New(channels, srcRate, p.dstRate, p.quality)
		p.srcRate = srcRate
		p.channels = channels
		p.planarIn = make([][]float32, channels)
		p.planarOut = make([][]float32, channels)
	}

	frames := len(samples) / channels
	// Leave headroom for the filter delay flushing out extra frames.
	outFrames := frames*p.dstRate/srcRate + 64

	written := -1
	for ch := range channels {
		in := grow(p.planarIn[ch], frames)
		for i := range frames {
			in[i] = samples[i*channels+ch]
		}
		out := grow(p.planarOut[ch], outFrames)
		p.planarIn[ch], p.planarOut[ch] = in, out

		read, n := p.r.ProcessFloat32(ch, in, out)
		if read != frames {
			return nil, fmt.Errorf("consumed %d of %d frames on channel %d", read, frames, ch)
		}
		if written >= 0 && n != written {
			return nil, errors.New("channel outputs diverged")
		}
		written = n
	}

	out := make([]float32, written*channels)
	for ch := range channels {
		for i := range written {
			out[i*channels+ch] = p.planarOut[ch][i]
		}
	}
	return out, nil
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func newResampler(dstRate, quality int) frameResampler {
	if quality == 0 {
		return &linearResampler{dstRate: dstRate}
	}
	return &polyphaseResampler{dstRate: dstRate, quality: quality}
}
