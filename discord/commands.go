package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/twitchalert/alert"
	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/twitchapi"
)

const commandName = "twitchalert"

// commandTimeout bounds the Twitch and store calls behind one command.
const commandTimeout = 15 * time.Second

// Slash command definitions
func commandDefinitions() []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	dm := false

	channelOpt := &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  "Channel for the alerts (defaults to this channel)",
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
	}
	messageOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "message",
		Description: "Custom text shown with the alert",
	}
	name := func(what string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "name",
			Description: "Twitch " + what + " name",
			Required:    true,
		}
	}
	sub := func(n, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        n,
			Description: desc,
			Options:     opts,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandName,
			Description:              "Manage Twitch live alerts",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				sub("add", "Post an alert when a streamer goes live", name("streamer"), channelOpt, messageOpt),
				sub("remove", "Stop alerting for a streamer", name("streamer"), channelOpt),
				sub("addteam", "Post alerts for every member of a Twitch team", name("team"), channelOpt, messageOpt),
				sub("removeteam", "Stop alerting for a team", name("team"), channelOpt),
				sub("message", "Set the default alert text for a channel", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "Default alert text; leave empty to clear",
				}, channelOpt),
				sub("list", "List tracked streamers and teams"),
				sub("enable", "Turn Twitch alerts on for this server"),
				sub("disable", "Turn Twitch alerts off for this server"),
			},
		},
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != commandName || len(data.Options) == 0 {
		return
	}
	if i.GuildID == "" {
		respondWithMessage(s, i, "This command only works in a server.")
		return
	}
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionManageServer == 0 {
		respondWithMessage(s, i, "You need the Manage Server permission to do that.")
		return
	}

	// Respond immediately; Twitch lookups may exceed the interaction deadline
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		b.log.Warn("failed to defer interaction", slog.Any("err", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sub := data.Options[0]
	b.log.Debug("received command", slog.String("subcommand", sub.Name), slog.String("guild", i.GuildID))
	editResponse(s, i, b.execute(ctx, i.GuildID, i.ChannelID, sub))
}

// execute runs one /twitchalert subcommand and returns the reply text.
func (b *Bot) execute(ctx context.Context, guildID, channelID string, sub *discordgo.ApplicationCommandInteractionDataOption) string {
	opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(sub.Options))
	for _, o := range sub.Options {
		opts[o.Name] = o
	}
	str := func(key string) string {
		if o, ok := opts[key]; ok {
			return o.StringValue()
		}
		return ""
	}
	if o, ok := opts["channel"]; ok {
		channelID = o.ChannelValue(nil).ID
	}
	target := store.Normalize(str("name"))

	switch sub.Name {
	case "add":
		user, err := b.svc.AddStreamer(ctx, guildID, channelID, target, str("message"))
		if err != nil {
			return b.errorText(err, "streamer", target, channelID)
		}
		return fmt.Sprintf("Now posting alerts for **%s** (%s) in <#%s>.", user.DisplayName, alert.ChannelURL(user.Login), channelID)
	case "remove":
		if err := b.svc.RemoveStreamer(ctx, channelID, target); err != nil {
			return b.errorText(err, "streamer", target, channelID)
		}
		return fmt.Sprintf("Stopped alerts for `%s` in <#%s>.", target, channelID)
	case "addteam":
		n, err := b.svc.AddTeam(ctx, guildID, channelID, target, str("message"))
		if err != nil {
			return b.errorText(err, "team", target, channelID)
		}
		return fmt.Sprintf("Now posting alerts for team `%s` (%d members) in <#%s>.", target, n, channelID)
	case "removeteam":
		if err := b.svc.RemoveTeam(ctx, channelID, target); err != nil {
			return b.errorText(err, "team", target, channelID)
		}
		return fmt.Sprintf("Stopped alerts for team `%s` in <#%s>.", target, channelID)
	case "message":
		text := str("text")
		if err := b.svc.SetDefaultMessage(ctx, guildID, channelID, text); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Sprintf("<#%s> has no Twitch alerts yet. Add a streamer or team there first.", channelID)
			}
			return b.errorText(err, "", "", channelID)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Sprintf("Cleared the default alert text for <#%s>.", channelID)
		}
		return fmt.Sprintf("Default alert text for <#%s> updated.", channelID)
	case "list":
		l, err := b.svc.List(ctx, guildID)
		if err != nil {
			return b.errorText(err, "", "", channelID)
		}
		return formatListing(l)
	case "enable":
		if err := b.svc.Enable(ctx, guildID); err != nil {
			return b.errorText(err, "", "", channelID)
		}
		return "Twitch alerts are now enabled for this server."
	case "disable":
		if err := b.svc.Disable(ctx, guildID); err != nil {
			return b.errorText(err, "", "", channelID)
		}
		return "Twitch alerts are now disabled for this server. Subscriptions are kept."
	default:
		b.log.Warn("unknown subcommand", slog.String("subcommand", sub.Name))
		return "Unknown command."
	}
}

func (b *Bot) errorText(err error, kind, name, channelID string) string {
	switch {
	case errors.Is(err, alert.ErrInvalidName):
		return fmt.Sprintf("Please give a %s name.", kind)
	case errors.Is(err, store.ErrDuplicateSubscription):
		return fmt.Sprintf("%s `%s` is already tracked in <#%s>.", capitalize(kind), name, channelID)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("%s `%s` is not tracked in <#%s>.", capitalize(kind), name, channelID)
	case errors.Is(err, twitchapi.ErrUserNotFound):
		return fmt.Sprintf("Twitch user `%s` does not exist.", name)
	case errors.Is(err, twitchapi.ErrTeamNotFound):
		return fmt.Sprintf("Twitch team `%s` does not exist.", name)
	default:
		b.log.Error("command failed", slog.String("kind", kind), slog.String("name", name), slog.Any("err", err))
		return "Something went wrong, please try again."
	}
}

func formatListing(l alert.Listing) string {
	if len(l.Channels) == 0 {
		return "No Twitch alerts are set up in this server.\nUse `/twitchalert add` to add one!"
	}
	var sb strings.Builder
	if !l.Enabled {
		sb.WriteString("*Alerts are disabled. Use `/twitchalert enable` to turn them on.*\n\n")
	}
	for _, ch := range l.Channels {
		sb.WriteString(fmt.Sprintf("**<#%s>**\n", ch.Channel.ChannelID))
		if ch.Channel.DefaultMessage != "" {
			sb.WriteString(fmt.Sprintf("  Default text: %s\n", ch.Channel.DefaultMessage))
		}
		for _, st := range ch.Streamers {
			line := fmt.Sprintf("  • `%s`", st.Username)
			if st.MessageID != "" {
				line += " 🔴 live"
			}
			sb.WriteString(line + "\n")
		}
		for _, t := range ch.Teams {
			sb.WriteString(fmt.Sprintf("  • team `%s` (%d members)\n", t.TeamName, t.Members))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return "Subscription"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Helper functions

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("failed to respond to interaction", slog.Any("err", err), slog.String("component", "discord"))
	}
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if r := []rune(content); len(r) > 2000 {
		content = string(r[:1997]) + "..."
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		slog.Warn("failed to edit interaction response", slog.Any("err", err), slog.String("component", "discord"))
	}
}
