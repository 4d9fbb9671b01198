package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddStreamer subscribes a channel to a streamer, creating the AlertChannel on
// first use. It fails with ErrDuplicateSubscription if the pair already exists.
func (s *Store) AddStreamer(ctx context.Context, guildID, channelID, username, customMessage string) error {
	username = Normalize(username)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureChannel(ctx, tx, guildID, channelID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO streamer_subscriptions (channel_id, streamer_username, custom_message) VALUES ($1, $2, $3)
			 ON CONFLICT (channel_id, streamer_username) DO NOTHING`,
			channelID, username, nullable(customMessage))
		if err != nil {
			return fmt.Errorf("add streamer %s: %w", username, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("add streamer %s: %w", username, err)
		}
		if n == 0 {
			return ErrDuplicateSubscription
		}
		return nil
	})
}

// Streamer returns one streamer subscription.
func (s *Store) Streamer(ctx context.Context, channelID, username string) (StreamerSubscription, error) {
	var sub StreamerSubscription
	var custom, msg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, streamer_username, custom_message, message_id
		 FROM streamer_subscriptions WHERE channel_id = $1 AND streamer_username = $2`,
		channelID, Normalize(username)).Scan(&sub.ID, &sub.ChannelID, &sub.Username, &custom, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return StreamerSubscription{}, ErrNotFound
	}
	if err != nil {
		return StreamerSubscription{}, fmt.Errorf("streamer %s: %w", username, err)
	}
	sub.CustomMessage = custom.String
	sub.MessageID = msg.String
	return sub, nil
}

// ChannelStreamers lists the streamers tracked in a channel.
func (s *Store) ChannelStreamers(ctx context.Context, channelID string) ([]StreamerSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, streamer_username, custom_message, message_id
		 FROM streamer_subscriptions WHERE channel_id = $1 ORDER BY streamer_username`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("channel streamers %s: %w", channelID, err)
	}
	defer closeRows(rows)
	var out []StreamerSubscription
	for rows.Next() {
		var sub StreamerSubscription
		var custom, msg sql.NullString
		if err := rows.Scan(&sub.ID, &sub.ChannelID, &sub.Username, &custom, &msg); err != nil {
			return nil, err
		}
		sub.CustomMessage = custom.String
		sub.MessageID = msg.String
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RemoveStreamer deletes a streamer subscription. Callers delete its live message
// first. The AlertChannel goes with its last subscription.
func (s *Store) RemoveStreamer(ctx context.Context, channelID, username string) error {
	username = Normalize(username)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM streamer_subscriptions WHERE channel_id = $1 AND streamer_username = $2`,
			channelID, username)
		if err != nil {
			return fmt.Errorf("remove streamer %s: %w", username, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove streamer %s: %w", username, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return deleteChannelIfEmpty(ctx, tx, channelID)
	})
}
