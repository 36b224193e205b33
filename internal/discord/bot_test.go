package discord

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/groover/internal/discord/mock"
	"github.com/MrWong99/groover/pkg/audio"
)

func TestPermissionChecker_Allowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{
			name:   "member with control role",
			roleID: "role-123",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{Roles: []string{"role-456", "role-123"}},
				},
			},
			want: true,
		},
		{
			name:   "member without control role",
			roleID: "role-123",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{Roles: []string{"role-456"}},
				},
			},
			want: false,
		},
		{
			name:   "empty role allows members",
			roleID: "",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{Member: &discordgo.Member{}},
			},
			want: true,
		},
		{
			name:   "nil Member returns false",
			roleID: "",
			inter:  &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).Allowed(tt.inter); got != tt.want {
				t.Errorf("Allowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	cmd := &discordgo.ApplicationCommand{Name: "groover"}
	r.RegisterCommand("groover/join", cmd, func(Responder, *discordgo.InteractionCreate) {})
	r.RegisterCommand("groover/pauseplay", cmd, func(Responder, *discordgo.InteractionCreate) {})

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 || cmds[0].Name != "groover" {
		t.Fatalf("ApplicationCommands() = %v, want one groover command", cmds)
	}
}

// slashCommand builds a /groover <sub> interaction from user in guild.
func slashCommand(guild, user, sub string, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: guild,
		Member:  &discordgo.Member{User: &discordgo.User{ID: user}, Roles: roles},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "groover",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
	}}
}

func TestCommandRouter_UnknownCommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, slashCommand("1", "2", "nope"))
	if got := resp.LastContent(); got != "Unknown command." {
		t.Errorf("response = %q, want Unknown command.", got)
	}
}

func TestSlashCommands(t *testing.T) {
	t.Parallel()

	lookup := func(guildID, userID string) (string, error) {
		if guildID == "100" && userID == "200" {
			return "300", nil
		}
		return "", errors.New("not in voice")
	}

	tests := []struct {
		name     string
		inter    *discordgo.InteractionCreate
		full     bool
		wantCmd  *Command
		wantText string
	}{
		{
			name:     "join",
			inter:    slashCommand("100", "200", "join", "dj"),
			wantCmd:  &Command{Kind: CommandJoin, Info: audio.ConnectionInfo{GuildID: 100, UserID: 200, ChannelID: 300}},
			wantText: "Joining your voice channel.",
		},
		{
			name:     "join outside voice",
			inter:    slashCommand("100", "201", "join", "dj"),
			wantText: "Error: you are not in a voice channel",
		},
		{
			name:     "pauseplay",
			inter:    slashCommand("100", "200", "pauseplay", "dj"),
			wantCmd:  &Command{Kind: CommandPausePlay},
			wantText: "Toggling playback.",
		},
		{
			name:     "missing role",
			inter:    slashCommand("100", "200", "pauseplay"),
			wantText: "You are not allowed to control the bot.",
		},
		{
			name:     "queue full",
			inter:    slashCommand("100", "200", "pauseplay", "dj"),
			full:     true,
			wantText: "Busy, try again in a moment.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []Command
			r := NewCommandRouter()
			registerCommands(r, NewPermissionChecker("dj"), lookup, func(c Command) bool {
				if tt.full {
					return false
				}
				got = append(got, c)
				return true
			})
			resp := &mock.InteractionResponder{}
			r.Handle(resp, tt.inter)

			if text := resp.LastContent(); text != tt.wantText {
				t.Errorf("response = %q, want %q", text, tt.wantText)
			}
			switch {
			case tt.wantCmd == nil && len(got) != 0:
				t.Errorf("submitted %v, want nothing", got)
			case tt.wantCmd != nil && (len(got) != 1 || got[0] != *tt.wantCmd):
				t.Errorf("submitted %v, want %v", got, *tt.wantCmd)
			}
		})
	}
}

func TestPresenceTracker(t *testing.T) {
	t.Parallel()

	tr := &presenceTracker{guildID: "g", userID: "u"}
	vs := func(guild, user, channel string) *discordgo.VoiceState {
		return &discordgo.VoiceState{GuildID: guild, UserID: user, ChannelID: channel}
	}

	steps := []struct {
		name string
		vs   *discordgo.VoiceState
		want *PresenceEvent
	}{
		{name: "other user", vs: vs("g", "x", "c1")},
		{name: "other guild", vs: vs("h", "u", "c1")},
		{name: "join", vs: vs("g", "u", "c1"), want: &PresenceEvent{Kind: PresenceJoined, ChannelID: "c1"}},
		{name: "mute toggle", vs: &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "c1", SelfMute: true}},
		{name: "move", vs: vs("g", "u", "c2"), want: &PresenceEvent{Kind: PresenceMoved, ChannelID: "c2"}},
		{name: "leave", vs: vs("g", "u", ""), want: &PresenceEvent{Kind: PresenceLeft}},
		{name: "leave again", vs: vs("g", "u", "")},
	}
	// Steps depend on each other and must run in order.
	for _, step := range steps {
		ev, ok := tr.update(step.vs)
		switch {
		case step.want == nil && ok:
			t.Errorf("%s: got %v, want no event", step.name, ev)
		case step.want != nil && (!ok || ev != *step.want):
			t.Errorf("%s: got %v (%v), want %v", step.name, ev, ok, *step.want)
		}
	}
}

func TestPresenceTracker_Snapshot(t *testing.T) {
	t.Parallel()

	tr := &presenceTracker{guildID: "g", userID: "u"}
	ev, ok := tr.snapshot(&discordgo.Guild{
		ID:          "g",
		VoiceStates: []*discordgo.VoiceState{{UserID: "x", ChannelID: "c9"}, {UserID: "u", ChannelID: "c1"}},
	})
	if !ok || ev != (PresenceEvent{Kind: PresenceJoined, ChannelID: "c1"}) {
		t.Fatalf("snapshot = %v (%v), want joined(c1)", ev, ok)
	}

	// A later snapshot without the user, e.g. after a gateway resume.
	ev, ok = tr.snapshot(&discordgo.Guild{ID: "g"})
	if !ok || ev.Kind != PresenceLeft {
		t.Fatalf("snapshot = %v (%v), want left", ev, ok)
	}

	if _, ok := tr.snapshot(&discordgo.Guild{ID: "other"}); ok {
		t.Error("snapshot of a foreign guild produced an event")
	}
}

func TestBot_PublishesPresence(t *testing.T) {
	t.Parallel()

	b := newBot(&discordgo.Session{State: discordgo.NewState()}, Config{GuildID: "g", UserID: "u"})
	b.onGuildCreate(&discordgo.Guild{ID: "g", VoiceStates: []*discordgo.VoiceState{{UserID: "u", ChannelID: "c1"}}})
	b.onVoiceStateUpdate(&discordgo.VoiceState{GuildID: "g", UserID: "u"})

	for _, want := range []PresenceKind{PresenceJoined, PresenceLeft} {
		select {
		case ev := <-b.Presence():
			if ev.Kind != want {
				t.Errorf("presence = %v, want %v", ev.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %v event", want)
		}
	}
}

func TestBot_SubmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := newBot(&discordgo.Session{State: discordgo.NewState()}, Config{GuildID: "g", UserID: "u"})
	for i := range eventBuffer {
		if !b.submit(Command{Kind: CommandPausePlay}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	if b.submit(Command{Kind: CommandPausePlay}) {
		t.Error("submit on a full queue succeeded")
	}
	if got := len(b.Commands()); got != eventBuffer {
		t.Errorf("queued commands = %d, want %d", got, eventBuffer)
	}
}

func TestBot_LookupVoice(t *testing.T) {
	t.Parallel()

	state := discordgo.NewState()
	if err := state.GuildAdd(&discordgo.Guild{
		ID:          "g",
		VoiceStates: []*discordgo.VoiceState{{GuildID: "g", UserID: "u", ChannelID: "c1"}},
	}); err != nil {
		t.Fatal(err)
	}
	b := newBot(&discordgo.Session{State: state}, Config{GuildID: "g", UserID: "u"})

	ch, err := b.lookupVoice("g", "u")
	if err != nil || ch != "c1" {
		t.Errorf("lookupVoice = %q, %v; want c1", ch, err)
	}
	if _, err := b.lookupVoice("g", "nobody"); err == nil {
		t.Error("lookupVoice for absent user succeeded")
	}
}

func TestKinds_String(t *testing.T) {
	t.Parallel()

	if got := PresenceMoved.String(); got != "moved" {
		t.Errorf("PresenceMoved = %q", got)
	}
	if got := CommandPausePlay.String(); got != "pauseplay" {
		t.Errorf("CommandPausePlay = %q", got)
	}
	if got := PresenceKind(9).String(); got != "PresenceKind(9)" {
		t.Errorf("PresenceKind(9) = %q", got)
	}
}
