package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddTeam subscribes a channel to a team and returns the new subscription.
// It fails with ErrDuplicateSubscription if the channel already tracks the team.
func (s *Store) AddTeam(ctx context.Context, guildID, channelID, teamName, customMessage string) (TeamSubscription, error) {
	teamName = Normalize(teamName)
	sub := TeamSubscription{ChannelID: channelID, GuildID: guildID, TeamName: teamName, CustomMessage: customMessage}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureChannel(ctx, tx, guildID, channelID); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO team_subscriptions (channel_id, team_name, custom_message) VALUES ($1, $2, $3)
			 ON CONFLICT (channel_id, team_name) DO NOTHING RETURNING id`,
			channelID, teamName, nullable(customMessage)).Scan(&sub.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateSubscription
		}
		if err != nil {
			return fmt.Errorf("add team %s: %w", teamName, err)
		}
		return nil
	})
	if err != nil {
		return TeamSubscription{}, err
	}
	return sub, nil
}

const teamColumns = `t.id, t.channel_id, c.guild_id, t.team_name, t.custom_message
	FROM team_subscriptions t JOIN alert_channels c ON c.channel_id = t.channel_id`

func scanTeam(sc interface{ Scan(...any) error }) (TeamSubscription, error) {
	var t TeamSubscription
	var custom sql.NullString
	if err := sc.Scan(&t.ID, &t.ChannelID, &t.GuildID, &t.TeamName, &custom); err != nil {
		return TeamSubscription{}, err
	}
	t.CustomMessage = custom.String
	return t, nil
}

// Team returns one team subscription.
func (s *Store) Team(ctx context.Context, channelID, teamName string) (TeamSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` WHERE t.channel_id = $1 AND t.team_name = $2`,
		channelID, Normalize(teamName))
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TeamSubscription{}, ErrNotFound
	}
	if err != nil {
		return TeamSubscription{}, fmt.Errorf("team %s: %w", teamName, err)
	}
	return t, nil
}

// Teams lists every team subscription; the roster refresher walks this.
func (s *Store) Teams(ctx context.Context) ([]TeamSubscription, error) {
	return s.queryTeams(ctx, `SELECT `+teamColumns+` ORDER BY t.id`)
}

// ChannelTeams lists the teams tracked in a channel.
func (s *Store) ChannelTeams(ctx context.Context, channelID string) ([]TeamSubscription, error) {
	return s.queryTeams(ctx, `SELECT `+teamColumns+` WHERE t.channel_id = $1 ORDER BY t.team_name`, channelID)
}

func (s *Store) queryTeams(ctx context.Context, q string, args ...any) ([]TeamSubscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer closeRows(rows)
	var out []TeamSubscription
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TeamMembers lists the roster of a team subscription, departed members included.
func (s *Store) TeamMembers(ctx context.Context, teamSubscriptionID int64) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_subscription_id, member_username, message_id, departed
		 FROM team_members WHERE team_subscription_id = $1 ORDER BY member_username`,
		teamSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("team members %d: %w", teamSubscriptionID, err)
	}
	defer closeRows(rows)
	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		var msg sql.NullString
		if err := rows.Scan(&m.ID, &m.TeamSubscriptionID, &m.Username, &msg, &m.Departed); err != nil {
			return nil, err
		}
		m.MessageID = msg.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// RemoveTeam deletes a team subscription and its roster. Callers delete live
// member messages first. The AlertChannel goes with its last subscription.
func (s *Store) RemoveTeam(ctx context.Context, channelID, teamName string) error {
	teamName = Normalize(teamName)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM team_subscriptions WHERE channel_id = $1 AND team_name = $2`,
			channelID, teamName).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("remove team %s: %w", teamName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_subscription_id = $1`, id); err != nil {
			return fmt.Errorf("remove team %s members: %w", teamName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_subscriptions WHERE id = $1`, id); err != nil {
			return fmt.Errorf("remove team %s: %w", teamName, err)
		}
		return deleteChannelIfEmpty(ctx, tx, channelID)
	})
}

// ReplaceTeamRoster syncs a team's roster to usernames. New members are inserted
// offline, existing members keep their message id, and members missing from the
// new roster are deleted when they hold no message or flagged departed otherwise,
// leaving the message for the engine to clean up. A departed member that
// reappears is restored. ErrNotFound is returned if the team is gone.
func (s *Store) ReplaceTeamRoster(ctx context.Context, teamSubscriptionID int64, usernames []string) error {
	want := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		if u = Normalize(u); u != "" {
			want[u] = struct{}{}
		}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_subscriptions WHERE id = $1`, teamSubscriptionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("replace roster %d: %w", teamSubscriptionID, err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		type current struct {
			id       int64
			live     bool
			departed bool
		}
		have := map[string]current{}
		rows, err := tx.QueryContext(ctx,
			`SELECT id, member_username, message_id, departed FROM team_members WHERE team_subscription_id = $1`,
			teamSubscriptionID)
		if err != nil {
			return fmt.Errorf("replace roster %d: %w", teamSubscriptionID, err)
		}
		for rows.Next() {
			var c current
			var name string
			var msg sql.NullString
			if err := rows.Scan(&c.id, &name, &msg, &c.departed); err != nil {
				closeRows(rows)
				return err
			}
			c.live = msg.Valid
			have[name] = c
		}
		closeRows(rows)
		if err := rows.Err(); err != nil {
			return err
		}

		for name := range want {
			c, ok := have[name]
			switch {
			case !ok:
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO team_members (team_subscription_id, member_username) VALUES ($1, $2)
					 ON CONFLICT (team_subscription_id, member_username) DO NOTHING`,
					teamSubscriptionID, name); err != nil {
					return fmt.Errorf("insert member %s: %w", name, err)
				}
			case c.departed:
				if _, err := tx.ExecContext(ctx, `UPDATE team_members SET departed = FALSE WHERE id = $1`, c.id); err != nil {
					return fmt.Errorf("restore member %s: %w", name, err)
				}
			}
		}
		for name, c := range have {
			if _, ok := want[name]; ok {
				continue
			}
			if c.live {
				if !c.departed {
					if _, err := tx.ExecContext(ctx, `UPDATE team_members SET departed = TRUE WHERE id = $1`, c.id); err != nil {
						return fmt.Errorf("flag departed member %s: %w", name, err)
					}
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE id = $1`, c.id); err != nil {
				return fmt.Errorf("delete member %s: %w", name, err)
			}
		}
		return nil
	})
}
