// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges the
// float32 PCM byte stream produced by the sample transport into Discord's
// Opus-based voice transport.
//
// The platform requires an active *discordgo.Session (owned by the gateway
// layer) and the guild it serves. Each call to [Platform.Connect] joins the
// voice channel described by the [audio.ConnectionInfo] and returns a [Call]
// that pulls outgoing audio from the attached source.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/groover/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// ErrUserNotInVoice is returned by [Platform.Connect] when no channel was
// given and the target user is not in a voice channel of the guild.
var ErrUserNotInVoice = errors.New("discord: user not in a voice channel")

// Platform implements [audio.Platform] using a discordgo voice connection.
// It requires an active *discordgo.Session (owned by the gateway layer).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string

	// join defaults to session.ChannelVoiceJoin; overridden in tests.
	join func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
		join:    session.ChannelVoiceJoin,
	}
}

// Connect joins the voice channel described by info and returns an active
// [audio.Call]. When info carries no channel, the channel the target user is
// currently connected to is used. The supplied ctx governs the setup phase
// only; once the Call is returned it lives until [Call.Leave] is called.
//
// The voice handshake runs over the bot's own gateway session, so the
// endpoint, session and token in info are only logged for correlation.
func (p *Platform) Connect(ctx context.Context, info audio.ConnectionInfo) (audio.Call, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("discord: connect: %w", err)
	}
	if info.Guild() != p.guildID {
		return nil, fmt.Errorf("discord: connect: guild %s is not served by this platform (want %s)", info.Guild(), p.guildID)
	}

	channelID, err := p.resolveChannel(info)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect: %w", err)
	}

	slog.Info("discord: joining voice channel",
		"guild", p.guildID,
		"channel", channelID,
		"endpoint", info.Endpoint,
		"voice_session", info.SessionID,
	)

	// mute=false (we send audio), deaf=true (incoming audio is never used).
	vc, err := p.join(p.guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newCall(vc, p.guildID, channelID), nil
}

func (p *Platform) resolveChannel(info audio.ConnectionInfo) (string, error) {
	if ch := info.Channel(); ch != "" {
		return ch, nil
	}
	if p.session == nil || p.session.State == nil {
		return "", fmt.Errorf("discord: resolve channel of user %s: %w", info.User(), ErrUserNotInVoice)
	}
	vs, err := p.session.State.VoiceState(p.guildID, info.User())
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", fmt.Errorf("discord: resolve channel of user %s: %w", info.User(), ErrUserNotInVoice)
	}
	return vs.ChannelID, nil
}
