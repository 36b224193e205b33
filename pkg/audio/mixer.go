package audio

// Filter modifies a block of interleaved float32 samples in place before the
// block is handed to a sink. Filters are invoked once per decoded frame and
// must not block.
type Filter interface {
	Apply(samples []float32)
}

// VolumeControl is a [Filter] whose gain can be changed while frames are
// flowing. Volume is a linear level in [0, 0xFFFF].
//
// Implementations must be safe for concurrent use: SetVolume may be called
// from a control goroutine while Apply runs on the decode goroutine.
type VolumeControl interface {
	Filter
	Volume() uint16
	SetVolume(level uint16)
}
