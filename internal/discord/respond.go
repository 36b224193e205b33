package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder answers interactions. *discordgo.Session implements it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var _ Responder = (*discordgo.Session)(nil)

// RespondEphemeral sends an ephemeral text response to an interaction.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: failed to send ephemeral response", "err", err)
	}
}

// RespondError sends a formatted error response (ephemeral).
func RespondError(r Responder, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(r, i, fmt.Sprintf("Error: %v", err))
}
