// Package mixer implements a lock-free software volume control that scales
// float32 sample blocks in place.
package mixer

import (
	"sync/atomic"

	"github.com/MrWong99/groover/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.VolumeControl = (*Mixer)(nil)

// MaxVolume is unity gain. Blocks pass through untouched at this level.
const MaxVolume uint16 = 0xFFFF

// Mixer scales every block it is applied to by Volume()/MaxVolume.
//
// All methods are safe for concurrent use. A SetVolume racing with Apply takes
// effect on the current or the next block.
type Mixer struct {
	volume atomic.Uint32
}

// New returns a Mixer at the given initial volume.
func New(initial uint16) *Mixer {
	m := &Mixer{}
	m.volume.Store(uint32(initial))
	return m
}

// Volume returns the current level.
func (m *Mixer) Volume() uint16 {
	return uint16(m.volume.Load())
}

// SetVolume changes the level used by subsequent calls to Apply.
func (m *Mixer) SetVolume(level uint16) {
	m.volume.Store(uint32(level))
}

// Apply scales samples in place.
func (m *Mixer) Apply(samples []float32) {
	v := m.Volume()
	if v == MaxVolume {
		return
	}
	gain := float32(v) / float32(MaxVolume)
	for i := range samples {
		samples[i] *= gain
	}
}

// FromPercent maps a 0–100 volume to a level. Values outside the range are
// clamped.
func FromPercent(p int) uint16 {
	switch {
	case p <= 0:
		return 0
	case p >= 100:
		return MaxVolume
	}
	return uint16(p * int(MaxVolume) / 100)
}

// Percent maps a level back to the 0–100 scale, rounding to nearest.
func Percent(level uint16) int {
	return (int(level)*100 + int(MaxVolume)/2) / int(MaxVolume)
}
