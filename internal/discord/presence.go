package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// PresenceKind is the kind of a [PresenceEvent].
type PresenceKind int

const (
	// PresenceJoined means the tracked user connected to a voice channel.
	PresenceJoined PresenceKind = iota + 1
	// PresenceMoved means the tracked user switched voice channels.
	PresenceMoved
	// PresenceLeft means the tracked user disconnected from voice.
	PresenceLeft
)

// String returns the lowercase name of the kind.
func (k PresenceKind) String() string {
	switch k {
	case PresenceJoined:
		return "joined"
	case PresenceMoved:
		return "moved"
	case PresenceLeft:
		return "left"
	default:
		return fmt.Sprintf("PresenceKind(%d)", int(k))
	}
}

// PresenceEvent reports a voice presence change of the tracked user.
type PresenceEvent struct {
	Kind PresenceKind

	// ChannelID is the channel joined or moved to. Empty for PresenceLeft.
	ChannelID string
}

// presenceTracker turns voice states into presence changes of one user in
// one guild. Mute and deafen toggles produce no event.
type presenceTracker struct {
	guildID string
	userID  string

	mu      sync.Mutex
	channel string
}

func (t *presenceTracker) update(vs *discordgo.VoiceState) (PresenceEvent, bool) {
	if vs == nil || vs.UserID != t.userID || vs.GuildID != t.guildID {
		return PresenceEvent{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.channel
	t.channel = vs.ChannelID

	switch {
	case prev == vs.ChannelID:
		return PresenceEvent{}, false
	case vs.ChannelID == "":
		return PresenceEvent{Kind: PresenceLeft}, true
	case prev == "":
		return PresenceEvent{Kind: PresenceJoined, ChannelID: vs.ChannelID}, true
	default:
		return PresenceEvent{Kind: PresenceMoved, ChannelID: vs.ChannelID}, true
	}
}

// snapshot applies the voice states of a guild snapshot. A user absent from
// the snapshot is treated as having left.
func (t *presenceTracker) snapshot(g *discordgo.Guild) (PresenceEvent, bool) {
	if g == nil || g.ID != t.guildID {
		return PresenceEvent{}, false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == t.userID {
			if vs.GuildID == "" {
				cp := *vs
				cp.GuildID = g.ID
				vs = &cp
			}
			return t.update(vs)
		}
	}
	return t.update(&discordgo.VoiceState{GuildID: g.ID, UserID: t.userID})
}
