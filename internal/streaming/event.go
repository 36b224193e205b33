package streaming

import "fmt"

// EventKind identifies the kind of an [Event].
type EventKind int

const (
	// EventStarted is emitted when playback starts or resumes.
	EventStarted EventKind = iota + 1
	// EventStopped is emitted when playback ends or the device goes away.
	EventStopped
	// EventPaused is emitted when playback is paused.
	EventPaused
	// EventTrackPlaying is emitted when a new track starts. TrackID is set.
	EventTrackPlaying
	// EventVolumeSet is emitted when the device volume changes. Volume is set.
	EventVolumeSet
	// EventFailed is emitted when the engine's audio pipeline dies. Err is set
	// and the engine emits nothing afterwards.
	EventFailed
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventPaused:
		return "paused"
	case EventTrackPlaying:
		return "track_playing"
	case EventVolumeSet:
		return "volume_set"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a playback event of a streaming engine.
type Event struct {
	Kind    EventKind
	TrackID string
	Volume  uint16
	Err     error
}

// String returns a compact description for logs.
func (e Event) String() string {
	switch e.Kind {
	case EventTrackPlaying:
		return e.Kind.String() + "(" + e.TrackID + ")"
	case EventVolumeSet:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Volume)
	case EventFailed:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}
