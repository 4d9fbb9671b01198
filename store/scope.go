package store

import (
	"context"
	"database/sql"
	"fmt"
)

const streamerScopeQuery = `SELECT s.id, s.streamer_username, s.channel_id, c.guild_id, s.message_id,
		COALESCE(NULLIF(s.custom_message, ''), c.default_message), FALSE
	FROM streamer_subscriptions s
	JOIN alert_channels c ON c.channel_id = s.channel_id
	JOIN guild_features g ON g.guild_id = c.guild_id AND g.feature = $1
	ORDER BY s.id`

// Departed members only stay in scope while they still hold a message.
const teamScopeQuery = `SELECT m.id, m.member_username, t.channel_id, c.guild_id, m.message_id,
		COALESCE(NULLIF(t.custom_message, ''), c.default_message), m.departed
	FROM team_members m
	JOIN team_subscriptions t ON t.id = m.team_subscription_id
	JOIN alert_channels c ON c.channel_id = t.channel_id
	JOIN guild_features g ON g.guild_id = c.guild_id AND g.feature = $1
	WHERE m.departed = FALSE OR m.message_id IS NOT NULL
	ORDER BY m.id`

// PendingScope returns the reconciliation snapshot for an alert type, limited to
// guilds with the feature enabled. The read runs in one transaction.
func (s *Store) PendingScope(ctx context.Context, t AlertType) ([]ScopeRow, error) {
	var q string
	switch t {
	case AlertStreamer:
		q = streamerScopeQuery
	case AlertTeam:
		q = teamScopeQuery
	default:
		return nil, fmt.Errorf("unknown alert type %q", string(t))
	}
	var out []ScopeRow
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, FeatureTwitchAlert)
		if err != nil {
			return fmt.Errorf("pending scope %s: %w", t, err)
		}
		defer closeRows(rows)
		for rows.Next() {
			var r ScopeRow
			var msgID, text sql.NullString
			if err := rows.Scan(&r.EntityID, &r.Username, &r.ChannelID, &r.GuildID, &msgID, &text, &r.Departed); err != nil {
				return err
			}
			r.MessageID = msgID.String
			r.Message = text.String
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkLive records the notification message of a row. ErrNotFound means the
// row was deleted after the scope was read.
func (s *Store) MarkLive(ctx context.Context, t AlertType, entityID int64, messageID string) error {
	table, err := t.table()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET message_id = $1 WHERE id = $2`, messageID, entityID)
	if err != nil {
		return fmt.Errorf("mark live %s %d: %w", t, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark live %s %d: %w", t, entityID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOffline clears the notification message of a row. A departed team member
// is deleted instead. A deleted row is a no-op.
func (s *Store) MarkOffline(ctx context.Context, t AlertType, entityID int64) error {
	table, err := t.table()
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET message_id = NULL WHERE id = $1`, entityID); err != nil {
			return fmt.Errorf("mark offline %s %d: %w", t, entityID, err)
		}
		if t == AlertTeam {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM team_members WHERE id = $1 AND departed = TRUE`, entityID); err != nil {
				return fmt.Errorf("purge departed member %d: %w", entityID, err)
			}
		}
		return nil
	})
}
