// Package audio defines the audio frame types, format helpers and the voice
// platform interfaces used by Groover.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice call described by a [ConnectionInfo] and
//     returns a [Call].
//   - [Call] is an active voice call that pulls outgoing audio from an
//     [io.Reader] attached with [Call.AttachSource].
//
// Implementations are provided by platform-specific adapter packages (e.g.,
// audio/discord).
package audio

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// ErrInvalidInfo is returned by [ConnectionInfo.Validate] when a required
// field is missing.
var ErrInvalidInfo = errors.New("audio: invalid connection info")

// ConnectionInfo describes the voice call to join. It arrives inside a Join
// control message and is copied into the connect operation.
type ConnectionInfo struct {
	// Endpoint is the voice server endpoint handed out by the gateway.
	Endpoint string `json:"endpoint"`

	// GuildID identifies the guild (server) that owns the voice channel.
	GuildID uint64 `json:"guild_id"`

	// SessionID is the gateway voice session identifier.
	SessionID string `json:"session_id"`

	// Token is the voice server token.
	Token string `json:"token"`

	// UserID is the user whose voice channel the bot should join.
	UserID uint64 `json:"user_id"`

	// ChannelID optionally pins the voice channel. When zero, the platform
	// resolves the channel UserID is currently connected to.
	ChannelID uint64 `json:"channel_id,omitempty"`
}

// Validate reports whether the fields required to join a call are present.
func (i ConnectionInfo) Validate() error {
	switch {
	case i.GuildID == 0:
		return errors.Join(ErrInvalidInfo, errors.New("guild_id is required"))
	case i.UserID == 0 && i.ChannelID == 0:
		return errors.Join(ErrInvalidInfo, errors.New("user_id or channel_id is required"))
	}
	return nil
}

// Guild returns GuildID as a decimal snowflake string.
func (i ConnectionInfo) Guild() string { return strconv.FormatUint(i.GuildID, 10) }

// User returns UserID as a decimal snowflake string.
func (i ConnectionInfo) User() string { return strconv.FormatUint(i.UserID, 10) }

// Channel returns ChannelID as a decimal snowflake string, or "" when unset.
func (i ConnectionInfo) Channel() string {
	if i.ChannelID == 0 {
		return ""
	}
	return strconv.FormatUint(i.ChannelID, 10)
}

// Bitrate selects the encoder bitrate of a [Call]. The zero value leaves the
// choice to the encoder.
type Bitrate int

// BitrateAuto lets the encoder pick the bitrate.
const BitrateAuto Bitrate = 0

// String returns the human-readable name of the bitrate.
func (b Bitrate) String() string {
	if b == BitrateAuto {
		return "auto"
	}
	return strconv.Itoa(int(b)) + "bps"
}

// Call is an active voice call.
//
// Implementations must be safe for concurrent use.
type Call interface {
	// AttachSource replaces the outgoing audio source. The call pulls
	// little-endian float32 PCM at 48 kHz stereo from r on a dedicated
	// goroutine until the call is left or another source is attached.
	AttachSource(r io.Reader) error

	// SetBitrate changes the encoder bitrate. Takes effect on the next
	// encoded frame.
	SetBitrate(b Bitrate) error

	// Leave terminates the call and stops pulling audio. It is safe to call
	// Leave more than once; subsequent calls are no-ops and return nil.
	Leave() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the call described by info and returns the active [Call].
	// The supplied ctx governs the connection attempt only.
	//
	// Returns an error if the endpoint is unreachable, the credentials are
	// rejected or the target channel cannot be resolved.
	Connect(ctx context.Context, info ConnectionInfo) (Call, error)
}

// ContextReader is implemented by sources whose blocking reads can be
// abandoned when ctx is cancelled. Calls prefer it over [io.Reader.Read] so a
// left call never keeps a reader parked on an empty source.
type ContextReader interface {
	io.Reader
	ReadContext(ctx context.Context, p []byte) (int, error)
}
