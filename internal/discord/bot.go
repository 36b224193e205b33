// Package discord provides the Discord gateway layer for Groover. It owns
// the discordgo.Session lifecycle, tracks the voice presence of the user the
// bot follows and turns /groover slash commands into control requests.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/groover/pkg/audio"
	discordaudio "github.com/MrWong99/groover/pkg/audio/discord"
)

// eventBuffer is the capacity of the presence and command channels.
const eventBuffer = 16

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the bot operates in.
	GuildID string

	// UserID is the user whose voice presence the bot follows.
	UserID string

	// ControlRoleID restricts slash commands to members with this role.
	// Empty allows every member.
	ControlRoleID string
}

// Bot owns the Discord gateway connection.
type Bot struct {
	mu         sync.RWMutex
	session    *discordgo.Session
	platform   *discordaudio.Platform
	router     *CommandRouter
	guildID    string
	tracker    *presenceTracker
	registered []*discordgo.ApplicationCommand

	presence  chan PresenceEvent
	commands  chan Command
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Bot, registers its event handlers and connects to Discord.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates
	// Presence changes must reach the tracker in gateway order.
	session.SyncEvents = true

	b := newBot(session, cfg)
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		b.onGuildCreate(g.Guild)
	})
	session.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		b.onVoiceStateUpdate(vs.VoiceState)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		// Interaction handlers respond over REST; keep the gateway reader free.
		go b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord: connected", "guild", cfg.GuildID, "follow_user", cfg.UserID)
	return b, nil
}

func newBot(session *discordgo.Session, cfg Config) *Bot {
	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, cfg.GuildID),
		router:   NewCommandRouter(),
		guildID:  cfg.GuildID,
		tracker:  &presenceTracker{guildID: cfg.GuildID, userID: cfg.UserID},
		presence: make(chan PresenceEvent, eventBuffer),
		commands: make(chan Command, eventBuffer),
		done:     make(chan struct{}),
	}
	registerCommands(b.router, NewPermissionChecker(cfg.ControlRoleID), b.lookupVoice, b.submit)
	return b
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Presence returns the voice presence changes of the followed user. When the
// user is already in voice at startup, the first event is a PresenceJoined.
func (b *Bot) Presence() <-chan PresenceEvent {
	return b.presence
}

// Commands returns the control requests issued through slash commands.
func (b *Bot) Commands() <-chan Command {
	return b.commands
}

// Connected reports whether the gateway connection is up.
func (b *Bot) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session != nil && b.session.DataReady
}

func (b *Bot) onGuildCreate(g *discordgo.Guild) {
	if ev, ok := b.tracker.snapshot(g); ok {
		b.publish(ev)
	}
}

func (b *Bot) onVoiceStateUpdate(vs *discordgo.VoiceState) {
	if ev, ok := b.tracker.update(vs); ok {
		b.publish(ev)
	}
}

func (b *Bot) publish(ev PresenceEvent) {
	slog.Debug("discord: presence changed", "kind", ev.Kind, "channel", ev.ChannelID)
	select {
	case b.presence <- ev:
	case <-b.done:
	}
}

// submit queues cmd without blocking the interaction handler.
func (b *Bot) submit(cmd Command) bool {
	select {
	case b.commands <- cmd:
		return true
	case <-b.done:
		return false
	default:
		slog.Warn("discord: command queue full", "command", cmd.Kind)
		return false
	}
}

func (b *Bot) lookupVoice(guildID, userID string) (string, error) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil {
		return "", err
	}
	return vs.ChannelID, nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	b.mu.Lock()
	b.registered = registered
	b.mu.Unlock()
	slog.Info("discord commands registered", "count", len(registered))

	<-ctx.Done()
	return nil
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.registered) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.registered {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
