package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnableGuild turns twitch alerts on for a guild. Enabling twice is a no-op.
func (s *Store) EnableGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_features (guild_id, feature) VALUES ($1, $2) ON CONFLICT (guild_id, feature) DO NOTHING`,
		guildID, FeatureTwitchAlert)
	if err != nil {
		return fmt.Errorf("enable guild %s: %w", guildID, err)
	}
	return nil
}

// DisableGuild turns twitch alerts off for a guild. Subscriptions are kept.
func (s *Store) DisableGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM guild_features WHERE guild_id = $1 AND feature = $2`,
		guildID, FeatureTwitchAlert)
	if err != nil {
		return fmt.Errorf("disable guild %s: %w", guildID, err)
	}
	return nil
}

// GuildEnabled reports whether twitch alerts are on for a guild.
func (s *Store) GuildEnabled(ctx context.Context, guildID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guild_features WHERE guild_id = $1 AND feature = $2`,
		guildID, FeatureTwitchAlert).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("guild enabled %s: %w", guildID, err)
	}
	return n > 0, nil
}

// Channel returns the AlertChannel row for a chat channel.
func (s *Store) Channel(ctx context.Context, channelID string) (AlertChannel, error) {
	var c AlertChannel
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, guild_id, default_message FROM alert_channels WHERE channel_id = $1`,
		channelID).Scan(&c.ChannelID, &c.GuildID, &c.DefaultMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertChannel{}, ErrNotFound
	}
	if err != nil {
		return AlertChannel{}, fmt.Errorf("channel %s: %w", channelID, err)
	}
	return c, nil
}

// GuildChannels lists the AlertChannels of a guild.
func (s *Store) GuildChannels(ctx context.Context, guildID string) ([]AlertChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, guild_id, default_message FROM alert_channels WHERE guild_id = $1 ORDER BY channel_id`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("guild channels %s: %w", guildID, err)
	}
	defer closeRows(rows)
	var out []AlertChannel
	for rows.Next() {
		var c AlertChannel
		if err := rows.Scan(&c.ChannelID, &c.GuildID, &c.DefaultMessage); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetDefaultMessage stores the default message of an existing AlertChannel.
// ErrNotFound means the channel has no subscriptions in guildID.
func (s *Store) SetDefaultMessage(ctx context.Context, guildID, channelID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_channels SET default_message = $1 WHERE channel_id = $2 AND guild_id = $3`,
		message, channelID, guildID)
	if err != nil {
		return fmt.Errorf("set default message %s: %w", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set default message %s: %w", channelID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveChannel deletes an AlertChannel and every subscription and roster row under it.
// Removing an absent channel is not an error.
func (s *Store) RemoveChannel(ctx context.Context, channelID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM team_members WHERE team_subscription_id IN (SELECT id FROM team_subscriptions WHERE channel_id = $1)`,
			`DELETE FROM team_subscriptions WHERE channel_id = $1`,
			`DELETE FROM streamer_subscriptions WHERE channel_id = $1`,
			`DELETE FROM alert_channels WHERE channel_id = $1`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q, channelID); err != nil {
				return fmt.Errorf("remove channel %s: %w", channelID, err)
			}
		}
		return nil
	})
}

// GuildLiveMessages lists every notification message currently recorded for a guild.
func (s *Store) GuildLiveMessages(ctx context.Context, guildID string) ([]LiveMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT 'streamer', s.id, s.channel_id, s.message_id
		 FROM streamer_subscriptions s JOIN alert_channels c ON c.channel_id = s.channel_id
		 WHERE c.guild_id = $1 AND s.message_id IS NOT NULL
		 UNION ALL
		 SELECT 'team', m.id, t.channel_id, m.message_id
		 FROM team_members m
		 JOIN team_subscriptions t ON t.id = m.team_subscription_id
		 JOIN alert_channels c ON c.channel_id = t.channel_id
		 WHERE c.guild_id = $1 AND m.message_id IS NOT NULL`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("guild live messages %s: %w", guildID, err)
	}
	defer closeRows(rows)
	var out []LiveMessage
	for rows.Next() {
		var lm LiveMessage
		var typ string
		if err := rows.Scan(&typ, &lm.EntityID, &lm.ChannelID, &lm.MessageID); err != nil {
			return nil, err
		}
		lm.Type = AlertType(typ)
		out = append(out, lm)
	}
	return out, rows.Err()
}

func ensureChannel(ctx context.Context, tx *sql.Tx, guildID, channelID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO alert_channels (channel_id, guild_id) VALUES ($1, $2) ON CONFLICT (channel_id) DO NOTHING`,
		channelID, guildID)
	if err != nil {
		return fmt.Errorf("ensure channel %s: %w", channelID, err)
	}
	return nil
}

// deleteChannelIfEmpty drops the AlertChannel once its last subscription is gone.
func deleteChannelIfEmpty(ctx context.Context, tx *sql.Tx, channelID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM alert_channels WHERE channel_id = $1
		 AND NOT EXISTS (SELECT 1 FROM streamer_subscriptions WHERE channel_id = $1)
		 AND NOT EXISTS (SELECT 1 FROM team_subscriptions WHERE channel_id = $1)`,
		channelID)
	if err != nil {
		return fmt.Errorf("delete empty channel %s: %w", channelID, err)
	}
	return nil
}
