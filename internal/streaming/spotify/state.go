package spotify

import (
	"github.com/zmb3/spotify/v2"

	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/pkg/audio/mixer"
)

// snapshot is the part of the player state the engine reacts to.
type snapshot struct {
	active   bool
	playing  bool
	trackID  string
	preview  string
	deviceID spotify.ID
	volume   int
}

// snapshotOf reduces st to a snapshot. When device is non-empty, playback on
// any other device counts as inactive.
func snapshotOf(st *spotify.PlayerState, device string) snapshot {
	if st == nil || st.Device.ID == "" {
		return snapshot{}
	}
	if device != "" && st.Device.Name != device {
		return snapshot{}
	}
	s := snapshot{
		active:   true,
		playing:  st.Playing,
		deviceID: st.Device.ID,
		volume:   int(st.Device.Volume),
	}
	if st.Item != nil {
		s.trackID = string(st.Item.ID)
		s.preview = st.Item.PreviewURL
	}
	return s
}

// diff returns the events leading from prev to cur, in the order a listener
// expects them: playback state first, then track, then volume.
func diff(prev, cur snapshot) []streaming.Event {
	var evs []streaming.Event
	if !cur.active || cur.trackID == "" {
		if prev.active && prev.trackID != "" {
			evs = append(evs, streaming.Event{Kind: streaming.EventStopped})
		}
		return evs
	}

	switch {
	case cur.playing && (!prev.playing || !prev.active || prev.trackID == ""):
		evs = append(evs, streaming.Event{Kind: streaming.EventStarted})
	case !cur.playing && prev.playing:
		evs = append(evs, streaming.Event{Kind: streaming.EventPaused})
	}
	if cur.trackID != prev.trackID {
		evs = append(evs, streaming.Event{Kind: streaming.EventTrackPlaying, TrackID: cur.trackID})
	}
	if cur.volume != prev.volume || !prev.active {
		evs = append(evs, streaming.Event{Kind: streaming.EventVolumeSet, Volume: mixer.FromPercent(cur.volume)})
	}
	return evs
}
