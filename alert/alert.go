// Package alert turns Twitch live status into chat notifications. An Engine
// reconciles the stored subscriptions against Helix on every tick, a Refresher
// keeps team rosters current, and a Scheduler drives both forever.
package alert

import (
	"context"
	"errors"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/twitchapi"
)

// Chat layer failures. Messenger implementations wrap their transport errors
// so these match with errors.Is.
var (
	ErrChannelNotFound = errors.New("chat channel not found")
	ErrForbidden       = errors.New("chat channel forbidden")
	ErrMessageNotFound = errors.New("chat message not found")
)

// isStale reports whether err means the bot can no longer post to the channel.
func isStale(err error) bool {
	return errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrForbidden)
}

// Streams is the Twitch side of alerting.
type Streams interface {
	GetStreams(ctx context.Context, logins []string) (twitchapi.LiveStatus, error)
	GetUser(ctx context.Context, login string) (*twitchapi.User, error)
	GetGame(ctx context.Context, id string) (*twitchapi.Game, error)
	GetTeamMembers(ctx context.Context, team string) ([]string, error)
}

// Messenger resolves chat channels by id.
type Messenger interface {
	// Channel returns ErrChannelNotFound or ErrForbidden when the channel is gone
	// or the bot lost access to it.
	Channel(ctx context.Context, channelID string) (Channel, error)
}

// Channel is a chat channel that notifications are posted to.
type Channel interface {
	// Send posts a notification and returns its message id.
	Send(ctx context.Context, p Payload) (string, error)
	// DeleteMessage removes a notification. A message that no longer exists
	// yields ErrMessageNotFound.
	DeleteMessage(ctx context.Context, messageID string) error
}

// Store is the subscription state the Engine reconciles.
type Store interface {
	PendingScope(ctx context.Context, t store.AlertType) ([]store.ScopeRow, error)
	MarkLive(ctx context.Context, t store.AlertType, entityID int64, messageID string) error
	MarkOffline(ctx context.Context, t store.AlertType, entityID int64) error
	RemoveChannel(ctx context.Context, channelID string) error
}

// RosterStore is the subset of the store the Refresher needs.
type RosterStore interface {
	Teams(ctx context.Context) ([]store.TeamSubscription, error)
	ReplaceTeamRoster(ctx context.Context, teamSubscriptionID int64, usernames []string) error
}
