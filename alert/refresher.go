package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/telemetry"
	"github.com/onnwee/twitchalert/twitchapi"
)

// RefreshResult summarises one roster refresh.
type RefreshResult struct {
	Teams    int
	Updated  int
	NotFound int
	Failed   int
}

// Refresher syncs team rosters from Twitch into the store.
type Refresher struct {
	store   RosterStore
	streams Streams
}

// NewRefresher wires a Refresher.
func NewRefresher(st RosterStore, streams Streams) *Refresher {
	telemetry.Init()
	return &Refresher{store: st, streams: streams}
}

// Refresh re-pulls the roster of every team subscription. Each team name is
// fetched once however many channels track it. A team Twitch cannot find keeps
// its current roster.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "team_refresh"))

	teams, err := r.store.Teams(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("list teams: %w", err)
	}
	res := RefreshResult{Teams: len(teams)}

	type roster struct {
		members []string
		err     error
	}
	fetched := map[string]roster{}
	for _, team := range teams {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		ro, ok := fetched[team.TeamName]
		if !ok {
			ro.members, ro.err = r.streams.GetTeamMembers(ctx, team.TeamName)
			fetched[team.TeamName] = ro
		}
		switch {
		case errors.Is(ro.err, twitchapi.ErrTeamNotFound):
			res.NotFound++
			telemetry.RosterRefreshes.WithLabelValues("not_found").Inc()
			log.Warn("team not found, keeping roster", slog.String("team", team.TeamName), slog.String("channel_id", team.ChannelID))
			continue
		case ro.err != nil:
			res.Failed++
			telemetry.RosterRefreshes.WithLabelValues("error").Inc()
			log.Warn("team lookup failed, keeping roster", slog.String("team", team.TeamName), slog.Any("err", ro.err))
			continue
		}
		if err := r.store.ReplaceTeamRoster(ctx, team.ID, ro.members); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// removed since Teams was read
				continue
			}
			res.Failed++
			telemetry.RosterRefreshes.WithLabelValues("error").Inc()
			log.Error("roster update failed", slog.String("team", team.TeamName), slog.Int64("team_subscription_id", team.ID), slog.Any("err", err))
			continue
		}
		res.Updated++
		telemetry.RosterRefreshes.WithLabelValues("ok").Inc()
	}
	log.Debug("roster refresh complete", slog.Int("teams", res.Teams), slog.Int("updated", res.Updated),
		slog.Int("not_found", res.NotFound), slog.Int("failed", res.Failed))
	return res, nil
}
