// Package store persists twitch alert subscriptions and the notification-message
// bookkeeping the reconciliation engine relies on.
//
// Four tables back it: alert_channels, streamer_subscriptions, team_subscriptions
// and team_members, plus guild_features for the per-guild enable switch. A
// message_id column is non-NULL exactly while the row is believed live. All
// statements use $N placeholders in ascending order so they run unchanged on
// Postgres (pgx) and sqlite (modernc).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FeatureTwitchAlert is the guild_features key that gates reconciliation for a guild.
const FeatureTwitchAlert = "twitch_alert"

// AlertType selects which subscription pool a reconciliation tick works over.
type AlertType string

const (
	AlertStreamer AlertType = "streamer"
	AlertTeam     AlertType = "team"
)

func (t AlertType) table() (string, error) {
	switch t {
	case AlertStreamer:
		return "streamer_subscriptions", nil
	case AlertTeam:
		return "team_members", nil
	default:
		return "", fmt.Errorf("unknown alert type %q", string(t))
	}
}

var (
	// ErrDuplicateSubscription is returned when a channel already tracks the streamer or team.
	ErrDuplicateSubscription = errors.New("subscription already exists")
	// ErrNotFound is returned when the requested subscription does not exist.
	ErrNotFound = errors.New("subscription not found")
)

// AlertChannel is a chat channel alerts are posted to.
type AlertChannel struct {
	ChannelID      string
	GuildID        string
	DefaultMessage string
}

// StreamerSubscription is one tracked streamer in one AlertChannel.
type StreamerSubscription struct {
	ID            int64
	ChannelID     string
	Username      string
	CustomMessage string
	MessageID     string // empty while offline
}

// TeamSubscription is one tracked team in one AlertChannel.
type TeamSubscription struct {
	ID            int64
	ChannelID     string
	GuildID       string
	TeamName      string
	CustomMessage string
}

// TeamMember is one roster entry of a TeamSubscription.
type TeamMember struct {
	ID                 int64
	TeamSubscriptionID int64
	Username           string
	MessageID          string
	Departed           bool
}

// ScopeRow is one row of a reconciliation snapshot.
type ScopeRow struct {
	EntityID  int64
	Username  string
	ChannelID string
	GuildID   string
	MessageID string
	// Message is the custom message, else the channel default, else empty.
	Message string
	// Departed is set for team members that left the roster while holding a message.
	Departed bool
}

// Live reports whether the row currently holds a notification message.
func (r ScopeRow) Live() bool { return r.MessageID != "" }

// LiveMessage identifies a notification message recorded in the store.
type LiveMessage struct {
	Type      AlertType
	EntityID  int64
	ChannelID string
	MessageID string
}

// Stats summarises the store for the status endpoint.
type Stats struct {
	Channels     int `json:"channels"`
	Streamers    int `json:"streamers"`
	Teams        int `json:"teams"`
	TeamMembers  int `json:"team_members"`
	LiveStreamer int `json:"live_streamers"`
	LiveMembers  int `json:"live_team_members"`
}

// Store is the AlertStore over a database/sql handle.
type Store struct {
	db *sql.DB
}

// New wraps an already migrated database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Normalize lowercases and trims a Twitch login or team name.
func Normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback failed", slog.Any("err", rbErr), slog.String("component", "store"))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.Any("err", err), slog.String("component", "store"))
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Stats counts rows per table and live notifications.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM alert_channels),
		(SELECT COUNT(*) FROM streamer_subscriptions),
		(SELECT COUNT(*) FROM team_subscriptions),
		(SELECT COUNT(*) FROM team_members),
		(SELECT COUNT(*) FROM streamer_subscriptions WHERE message_id IS NOT NULL),
		(SELECT COUNT(*) FROM team_members WHERE message_id IS NOT NULL)`).
		Scan(&st.Channels, &st.Streamers, &st.Teams, &st.TeamMembers, &st.LiveStreamer, &st.LiveMembers)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
