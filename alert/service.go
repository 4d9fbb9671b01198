package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/twitchapi"
)

// ErrInvalidName is returned for an empty streamer or team name.
var ErrInvalidName = errors.New("name must not be empty")

// Service implements the subscription commands issued from chat. Errors from
// the store and the Twitch client (ErrDuplicateSubscription, ErrNotFound,
// ErrUserNotFound, ErrTeamNotFound) are returned unchanged for the caller to report.
type Service struct {
	store      *store.Store
	streams    Streams
	chat       Messenger
	autoEnable bool
	log        *slog.Logger
}

// NewService wires a Service. With autoEnable, adding a subscription turns the
// feature on for the guild.
func NewService(st *store.Store, streams Streams, chat Messenger, autoEnable bool) *Service {
	return &Service{
		store:      st,
		streams:    streams,
		chat:       chat,
		autoEnable: autoEnable,
		log:        slog.Default().With(slog.String("component", "alert_service")),
	}
}

// AddStreamer starts tracking a Twitch login in a channel. The login must exist.
func (s *Service) AddStreamer(ctx context.Context, guildID, channelID, login, customMessage string) (*twitchapi.User, error) {
	login = store.Normalize(login)
	if login == "" {
		return nil, ErrInvalidName
	}
	user, err := s.streams.GetUser(ctx, login)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddStreamer(ctx, guildID, channelID, login, strings.TrimSpace(customMessage)); err != nil {
		return nil, err
	}
	if err := s.maybeEnable(ctx, guildID); err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveStreamer stops tracking a login in a channel, deleting its live
// notification first.
func (s *Service) RemoveStreamer(ctx context.Context, channelID, login string) error {
	sub, err := s.store.Streamer(ctx, channelID, login)
	if err != nil {
		return err
	}
	if sub.MessageID != "" {
		s.deleteNotification(ctx, channelID, sub.MessageID)
	}
	return s.store.RemoveStreamer(ctx, channelID, login)
}

// AddTeam starts tracking a Twitch team in a channel and seeds its roster.
// It returns the roster size.
func (s *Service) AddTeam(ctx context.Context, guildID, channelID, team, customMessage string) (int, error) {
	team = store.Normalize(team)
	if team == "" {
		return 0, ErrInvalidName
	}
	members, err := s.streams.GetTeamMembers(ctx, team)
	if err != nil {
		return 0, err
	}
	sub, err := s.store.AddTeam(ctx, guildID, channelID, team, strings.TrimSpace(customMessage))
	if err != nil {
		return 0, err
	}
	if err := s.store.ReplaceTeamRoster(ctx, sub.ID, members); err != nil {
		return 0, fmt.Errorf("seed roster: %w", err)
	}
	if err := s.maybeEnable(ctx, guildID); err != nil {
		return 0, err
	}
	return len(members), nil
}

// RemoveTeam stops tracking a team in a channel, deleting any live member
// notifications first.
func (s *Service) RemoveTeam(ctx context.Context, channelID, team string) error {
	sub, err := s.store.Team(ctx, channelID, team)
	if err != nil {
		return err
	}
	members, err := s.store.TeamMembers(ctx, sub.ID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.MessageID != "" {
			s.deleteNotification(ctx, channelID, m.MessageID)
		}
	}
	return s.store.RemoveTeam(ctx, channelID, team)
}

// SetDefaultMessage sets the message used by subscriptions in a channel that
// have no custom message. The channel needs at least one subscription.
func (s *Service) SetDefaultMessage(ctx context.Context, guildID, channelID, message string) error {
	return s.store.SetDefaultMessage(ctx, guildID, channelID, strings.TrimSpace(message))
}

// Enable turns alerts on for a guild.
func (s *Service) Enable(ctx context.Context, guildID string) error {
	return s.store.EnableGuild(ctx, guildID)
}

// Disable turns alerts off for a guild and clears its live notifications, which
// would otherwise never be cleaned up while the guild is out of scope.
func (s *Service) Disable(ctx context.Context, guildID string) error {
	if err := s.store.DisableGuild(ctx, guildID); err != nil {
		return err
	}
	live, err := s.store.GuildLiveMessages(ctx, guildID)
	if err != nil {
		return err
	}
	for _, lm := range live {
		s.deleteNotification(ctx, lm.ChannelID, lm.MessageID)
		if err := s.store.MarkOffline(ctx, lm.Type, lm.EntityID); err != nil {
			return err
		}
	}
	return nil
}

// ChannelListing is one alert channel with its subscriptions.
type ChannelListing struct {
	Channel   store.AlertChannel
	Streamers []store.StreamerSubscription
	Teams     []TeamListing
}

// TeamListing is a team subscription with its roster size.
type TeamListing struct {
	store.TeamSubscription
	Members int
}

// Listing is everything tracked in a guild.
type Listing struct {
	Enabled  bool
	Channels []ChannelListing
}

// List returns the subscriptions of a guild, grouped by channel.
func (s *Service) List(ctx context.Context, guildID string) (Listing, error) {
	enabled, err := s.store.GuildEnabled(ctx, guildID)
	if err != nil {
		return Listing{}, err
	}
	channels, err := s.store.GuildChannels(ctx, guildID)
	if err != nil {
		return Listing{}, err
	}
	out := Listing{Enabled: enabled}
	for _, ch := range channels {
		cl := ChannelListing{Channel: ch}
		if cl.Streamers, err = s.store.ChannelStreamers(ctx, ch.ChannelID); err != nil {
			return Listing{}, err
		}
		teams, err := s.store.ChannelTeams(ctx, ch.ChannelID)
		if err != nil {
			return Listing{}, err
		}
		for _, t := range teams {
			members, err := s.store.TeamMembers(ctx, t.ID)
			if err != nil {
				return Listing{}, err
			}
			cl.Teams = append(cl.Teams, TeamListing{TeamSubscription: t, Members: len(members)})
		}
		out.Channels = append(out.Channels, cl)
	}
	return out, nil
}

func (s *Service) maybeEnable(ctx context.Context, guildID string) error {
	if !s.autoEnable {
		return nil
	}
	return s.store.EnableGuild(ctx, guildID)
}

// deleteNotification makes a best-effort attempt to remove a posted message.
// Gone messages and unreachable channels count as done.
func (s *Service) deleteNotification(ctx context.Context, channelID, messageID string) {
	ch, err := s.chat.Channel(ctx, channelID)
	if err == nil {
		err = ch.DeleteMessage(ctx, messageID)
	}
	if err == nil || errors.Is(err, ErrMessageNotFound) || isStale(err) {
		return
	}
	s.log.Warn("delete notification failed", slog.String("channel_id", channelID),
		slog.String("message_id", messageID), slog.Any("err", err))
}
