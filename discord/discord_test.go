package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/twitchalert/alert"
	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/testutil"
	"github.com/onnwee/twitchalert/twitchapi"
)

func restErr(status, code int) error {
	e := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	if code != 0 {
		e.Message = &discordgo.APIErrorMessage{Code: code, Message: "error"}
	}
	return e
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound error
		want     error
	}{
		{"unknown channel", restErr(404, discordgo.ErrCodeUnknownChannel), alert.ErrMessageNotFound, alert.ErrChannelNotFound},
		{"unknown message", restErr(404, discordgo.ErrCodeUnknownMessage), alert.ErrChannelNotFound, alert.ErrMessageNotFound},
		{"missing access", restErr(403, discordgo.ErrCodeMissingAccess), nil, alert.ErrForbidden},
		{"missing permissions", restErr(403, discordgo.ErrCodeMissingPermissions), nil, alert.ErrForbidden},
		{"bare 403", restErr(403, 0), nil, alert.ErrForbidden},
		{"bare 404 on delete", restErr(404, 0), alert.ErrMessageNotFound, alert.ErrMessageNotFound},
		{"bare 404 on channel", restErr(404, 0), alert.ErrChannelNotFound, alert.ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, tt.notFound)
			if !errors.Is(got, tt.want) {
				t.Fatalf("mapError() = %v, want %v", got, tt.want)
			}
			var rest *discordgo.RESTError
			if !errors.As(got, &rest) {
				t.Error("original REST error should stay wrapped")
			}
		})
	}

	// server errors and transport failures pass through unchanged
	for _, err := range []error{restErr(500, 0), errors.New("dial tcp: timeout")} {
		got := mapError(err, alert.ErrChannelNotFound)
		if errors.Is(got, alert.ErrChannelNotFound) || errors.Is(got, alert.ErrForbidden) || errors.Is(got, alert.ErrMessageNotFound) {
			t.Errorf("mapError(%v) = %v, want passthrough", err, got)
		}
	}
}

func TestToEmbed(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := alert.Render(
		twitchapi.Stream{UserLogin: "alice", Title: "hi", StartedAt: started, ThumbnailURL: "https://p/{width}x{height}.jpg"},
		&twitchapi.User{Login: "alice", DisplayName: "Alice", ProfileImageURL: "https://img/a.png"},
		nil, "come hang out")
	e := toEmbed(p)
	if e.Title != "Alice is now streaming!" || e.URL != "https://twitch.tv/alice" || e.Description != "come hang out" {
		t.Errorf("embed header = %+v", e)
	}
	if e.Color != alert.TwitchPurple {
		t.Errorf("Color = %x", e.Color)
	}
	if len(e.Fields) != 2 || e.Fields[1].Value != alert.NoCategory {
		t.Errorf("Fields = %+v", e.Fields)
	}
	if e.Thumbnail == nil || e.Thumbnail.URL != "https://img/a.png" {
		t.Errorf("Thumbnail = %+v", e.Thumbnail)
	}
	if e.Image == nil || e.Image.URL != "https://p/1280x720.jpg" {
		t.Errorf("Image = %+v", e.Image)
	}
	if e.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}

	bare := toEmbed(alert.Payload{Title: "x"})
	if bare.Thumbnail != nil || bare.Image != nil || bare.Timestamp != "" {
		t.Errorf("empty payload fields should be omitted: %+v", bare)
	}
}

func TestCommandDefinitions(t *testing.T) {
	defs := commandDefinitions()
	if len(defs) != 1 || defs[0].Name != commandName {
		t.Fatalf("defs = %+v", defs)
	}
	cmd := defs[0]
	if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != int64(discordgo.PermissionManageServer) {
		t.Error("command should default to Manage Server")
	}
	var names []string
	for _, o := range cmd.Options {
		if o.Type != discordgo.ApplicationCommandOptionSubCommand {
			t.Errorf("option %s is not a subcommand", o.Name)
		}
		names = append(names, o.Name)
	}
	if got := strings.Join(names, ","); got != "add,remove,addteam,removeteam,message,list,enable,disable" {
		t.Errorf("subcommands = %s", got)
	}
}

// stubTwitch serves one user and one team.
type stubTwitch struct{}

func (stubTwitch) GetStreams(context.Context, []string) (twitchapi.LiveStatus, error) {
	return twitchapi.LiveStatus{}, nil
}

func (stubTwitch) GetUser(_ context.Context, login string) (*twitchapi.User, error) {
	if login != "alice" {
		return nil, twitchapi.ErrUserNotFound
	}
	return &twitchapi.User{Login: "alice", DisplayName: "Alice"}, nil
}

func (stubTwitch) GetGame(context.Context, string) (*twitchapi.Game, error) { return nil, nil }

func (stubTwitch) GetTeamMembers(_ context.Context, team string) ([]string, error) {
	if team != "koala" {
		return nil, twitchapi.ErrTeamNotFound
	}
	return []string{"alice", "bob", "carol"}, nil
}

// noChat resolves no channels.
type noChat struct{}

func (noChat) Channel(context.Context, string) (alert.Channel, error) {
	return nil, alert.ErrChannelNotFound
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func subcommand(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts}
}

func TestExecute(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	b := &Bot{svc: alert.NewService(st, stubTwitch{}, noChat{}, true), log: slog.Default()}
	ctx := context.Background()
	other := &discordgo.ApplicationCommandInteractionDataOption{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "C2"}

	steps := []struct {
		sub  *discordgo.ApplicationCommandInteractionDataOption
		want string
	}{
		{subcommand("list"), "No Twitch alerts are set up"},
		{subcommand("message", stringOpt("text", "early")), "<#C1> has no Twitch alerts yet."},
		{subcommand("add", stringOpt("name", "Alice")), "Now posting alerts for **Alice** (https://twitch.tv/alice) in <#C1>."},
		{subcommand("add", stringOpt("name", "alice")), "Streamer `alice` is already tracked in <#C1>."},
		{subcommand("add", stringOpt("name", "ghost")), "Twitch user `ghost` does not exist."},
		{subcommand("add", stringOpt("name", "alice"), other), "in <#C2>."},
		{subcommand("addteam", stringOpt("name", "koala")), "team `koala` (3 members)"},
		{subcommand("addteam", stringOpt("name", "nope")), "Twitch team `nope` does not exist."},
		{subcommand("message", stringOpt("text", "hi all")), "Default alert text for <#C1> updated."},
		{subcommand("list"), "team `koala` (3 members)"},
		{subcommand("remove", stringOpt("name", "bob")), "Streamer `bob` is not tracked in <#C1>."},
		{subcommand("remove", stringOpt("name", "alice")), "Stopped alerts for `alice` in <#C1>."},
		{subcommand("removeteam", stringOpt("name", "koala")), "Stopped alerts for team `koala`"},
		{subcommand("disable"), "disabled"},
		{subcommand("list"), "Alerts are disabled"},
		{subcommand("enable"), "enabled"},
		{subcommand("bogus"), "Unknown command."},
	}
	for _, step := range steps {
		got := b.execute(ctx, "G", "C1", step.sub)
		if !strings.Contains(got, step.want) {
			t.Errorf("%s: reply = %q, want it to contain %q", step.sub.Name, got, step.want)
		}
	}
}

func TestFormatListing(t *testing.T) {
	l := alert.Listing{
		Enabled: true,
		Channels: []alert.ChannelListing{{
			Channel:   store.AlertChannel{ChannelID: "C", DefaultMessage: "hey"},
			Streamers: []store.StreamerSubscription{{Username: "alice", MessageID: "m1"}, {Username: "bob"}},
		}},
	}
	got := formatListing(l)
	for _, want := range []string{"**<#C>**", "Default text: hey", "`alice` 🔴 live", "`bob`"} {
		if !strings.Contains(got, want) {
			t.Errorf("listing %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "disabled") {
		t.Errorf("enabled listing mentions disabled: %q", got)
	}
}
