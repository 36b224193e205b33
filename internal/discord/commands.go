package discord

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/groover/pkg/audio"
)

// CommandKind is the kind of a [Command].
type CommandKind int

const (
	// CommandJoin asks the bot to join the invoker's voice channel.
	CommandJoin CommandKind = iota + 1
	// CommandPausePlay toggles playback.
	CommandPausePlay
)

// String returns the lowercase name of the kind.
func (k CommandKind) String() string {
	switch k {
	case CommandJoin:
		return "join"
	case CommandPausePlay:
		return "pauseplay"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a control request issued through a slash command.
type Command struct {
	Kind CommandKind

	// Info describes the call to join. Set for CommandJoin.
	Info audio.ConnectionInfo
}

// voiceLookup returns the voice channel userID is connected to in guildID.
type voiceLookup func(guildID, userID string) (string, error)

// grooverCommand is the /groover slash command definition.
var grooverCommand = &discordgo.ApplicationCommand{
	Name:        "groover",
	Description: "Control the music bridge",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "join",
			Description: "Stream music into your voice channel",
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "pauseplay",
			Description: "Pause or resume playback",
		},
	},
}

// registerCommands wires the /groover subcommands to submit.
// submit reports false when the command could not be queued.
func registerCommands(r *CommandRouter, perms *PermissionChecker, lookup voiceLookup, submit func(Command) bool) {
	r.RegisterCommand("groover/join", grooverCommand, func(resp Responder, i *discordgo.InteractionCreate) {
		if !perms.Allowed(i) {
			RespondEphemeral(resp, i, "You are not allowed to control the bot.")
			return
		}
		info, err := joinInfo(i, lookup)
		if err != nil {
			RespondError(resp, i, err)
			return
		}
		if !submit(Command{Kind: CommandJoin, Info: info}) {
			RespondEphemeral(resp, i, "Busy, try again in a moment.")
			return
		}
		RespondEphemeral(resp, i, "Joining your voice channel.")
	})
	r.RegisterCommand("groover/pauseplay", grooverCommand, func(resp Responder, i *discordgo.InteractionCreate) {
		if !perms.Allowed(i) {
			RespondEphemeral(resp, i, "You are not allowed to control the bot.")
			return
		}
		if !submit(Command{Kind: CommandPausePlay}) {
			RespondEphemeral(resp, i, "Busy, try again in a moment.")
			return
		}
		RespondEphemeral(resp, i, "Toggling playback.")
	})
}

// joinInfo builds the connection info for the member invoking i.
func joinInfo(i *discordgo.InteractionCreate, lookup voiceLookup) (audio.ConnectionInfo, error) {
	if i.Member == nil || i.Member.User == nil {
		return audio.ConnectionInfo{}, fmt.Errorf("command must be used in a server")
	}
	channelID, err := lookup(i.GuildID, i.Member.User.ID)
	if err != nil || channelID == "" {
		slog.Debug("discord: invoker not in voice", "user", i.Member.User.ID, "err", err)
		return audio.ConnectionInfo{}, fmt.Errorf("you are not in a voice channel")
	}

	var info audio.ConnectionInfo
	if info.GuildID, err = strconv.ParseUint(i.GuildID, 10, 64); err != nil {
		return audio.ConnectionInfo{}, fmt.Errorf("invalid guild id %q", i.GuildID)
	}
	if info.UserID, err = strconv.ParseUint(i.Member.User.ID, 10, 64); err != nil {
		return audio.ConnectionInfo{}, fmt.Errorf("invalid user id %q", i.Member.User.ID)
	}
	if info.ChannelID, err = strconv.ParseUint(channelID, 10, 64); err != nil {
		return audio.ConnectionInfo{}, fmt.Errorf("invalid channel id %q", channelID)
	}
	return info, nil
}
