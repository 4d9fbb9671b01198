package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/telemetry"
	"github.com/onnwee/twitchalert/twitchapi"
)

// TickResult summarises one reconciliation pass.
type TickResult struct {
	Rows          int
	Sent          int
	Deleted       int
	StaleChannels int
	Failures      int
	Unknown       int
	Live          int
}

// Engine reconciles stored notifications against Twitch live status.
type Engine struct {
	store          Store
	streams        Streams
	chat           Messenger
	defaultMessage string
}

// NewEngine wires an Engine. defaultMessage is used when neither the
// subscription nor its channel sets one.
func NewEngine(st Store, streams Streams, chat Messenger, defaultMessage string) *Engine {
	telemetry.Init()
	return &Engine{store: st, streams: streams, chat: chat, defaultMessage: defaultMessage}
}

// enrichment is the per-login lookup data shared by every row of a tick.
type enrichment struct {
	user *twitchapi.User
	game *twitchapi.Game
}

// tick holds the state of one Reconcile call.
type tick struct {
	alertType store.AlertType
	log       *slog.Logger
	status    twitchapi.LiveStatus
	enriched  map[string]*enrichment
	channels  map[string]Channel
	removed   map[string]bool
	res       TickResult
}

// Reconcile runs one pass over every subscription of alertType: it posts a
// notification for rows that went live, deletes it for rows that went offline
// and drops channels the bot can no longer reach. Row failures are logged and
// counted, never returned; an error means the pass could not start.
func (e *Engine) Reconcile(ctx context.Context, alertType store.AlertType) (res TickResult, err error) {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	ctx, span := telemetry.StartSpan(ctx, "alert.reconcile", attribute.String("alert_type", string(alertType)))
	defer span.End()

	label := string(alertType)
	telemetry.Ticks.WithLabelValues(label).Inc()
	telemetry.TimeFunc(telemetry.TickDuration.WithLabelValues(label), func() {
		res, err = e.reconcile(ctx, span, alertType)
	})
	return res, err
}

func (e *Engine) reconcile(ctx context.Context, span trace.Span, alertType store.AlertType) (TickResult, error) {
	label := string(alertType)
	t := &tick{
		alertType: alertType,
		log:       telemetry.LoggerWithCorr(ctx).With(slog.String("component", "alert_engine"), slog.String("alert_type", label)),
		enriched:  map[string]*enrichment{},
		channels:  map[string]Channel{},
		removed:   map[string]bool{},
	}

	rows, err := e.store.PendingScope(ctx, alertType)
	if err != nil {
		telemetry.TickFailures.WithLabelValues(label).Inc()
		telemetry.RecordError(span, err)
		return TickResult{}, fmt.Errorf("load scope: %w", err)
	}
	t.res.Rows = len(rows)
	if len(rows) == 0 {
		telemetry.SetLiveNotifications(label, 0)
		telemetry.SetSpanSuccess(span)
		return t.res, nil
	}

	logins := make([]string, 0, len(rows))
	seen := map[string]struct{}{}
	for _, r := range rows {
		if _, ok := seen[r.Username]; !ok {
			seen[r.Username] = struct{}{}
			logins = append(logins, r.Username)
		}
	}
	t.status, err = e.streams.GetStreams(ctx, logins)
	if err != nil {
		telemetry.TickFailures.WithLabelValues(label).Inc()
		telemetry.RecordError(span, err)
		return TickResult{}, fmt.Errorf("get streams: %w", err)
	}
	if n := len(t.status.Unknown); n > 0 {
		telemetry.StreamLookupFailures.Add(float64(n))
	}

	stillLive := map[int64]string{}
	for _, row := range rows {
		if t.removed[row.ChannelID] {
			continue
		}
		live, err := e.reconcileRow(ctx, t, row)
		if err != nil {
			t.res.Failures++
			telemetry.RowFailures.WithLabelValues(label).Inc()
			t.log.Warn("row reconcile failed",
				slog.String("username", row.Username),
				slog.String("channel_id", row.ChannelID),
				slog.Int64("entity_id", row.EntityID),
				slog.Any("err", err))
		}
		if live {
			stillLive[row.EntityID] = row.ChannelID
		}
	}
	for _, ch := range stillLive {
		if !t.removed[ch] {
			t.res.Live++
		}
	}
	telemetry.SetLiveNotifications(label, t.res.Live)

	span.SetAttributes(
		attribute.Int("rows", t.res.Rows),
		attribute.Int("sent", t.res.Sent),
		attribute.Int("deleted", t.res.Deleted),
		attribute.Int("failures", t.res.Failures),
	)
	telemetry.SetSpanSuccess(span)
	if t.res.Sent > 0 || t.res.Deleted > 0 || t.res.StaleChannels > 0 || t.res.Failures > 0 {
		t.log.Info("reconcile complete",
			slog.Int("rows", t.res.Rows),
			slog.Int("sent", t.res.Sent),
			slog.Int("deleted", t.res.Deleted),
			slog.Int("stale_channels", t.res.StaleChannels),
			slog.Int("failures", t.res.Failures),
			slog.Int("unknown", t.res.Unknown))
	} else {
		t.log.Debug("reconcile complete", slog.Int("rows", t.res.Rows), slog.Int("unknown", t.res.Unknown))
	}
	return t.res, nil
}

// reconcileRow applies one row's transition and reports whether the row holds
// a notification afterwards.
func (e *Engine) reconcileRow(ctx context.Context, t *tick, row store.ScopeRow) (bool, error) {
	// departed members are offline whatever Twitch says
	if row.Departed {
		return false, e.retract(ctx, t, row)
	}
	if t.status.IsUnknown(row.Username) {
		t.res.Unknown++
		return row.Live(), nil
	}
	stream, live := t.status.Live[row.Username]
	switch {
	case live && !row.Live():
		return e.notify(ctx, t, row, stream)
	case !live && row.Live():
		return false, e.retract(ctx, t, row)
	default:
		return row.Live(), nil
	}
}

func (e *Engine) notify(ctx context.Context, t *tick, row store.ScopeRow, stream twitchapi.Stream) (bool, error) {
	ch, err := e.channel(ctx, t, row.ChannelID)
	if err != nil {
		return false, e.handleChatError(ctx, t, row.ChannelID, err)
	}

	info := e.enrich(ctx, t, row.Username, stream)
	message := row.Message
	if message == "" {
		message = e.defaultMessage
	}
	payload := Render(stream, info.user, info.game, message)

	msgID, err := ch.Send(ctx, payload)
	if err != nil {
		return false, e.handleChatError(ctx, t, row.ChannelID, fmt.Errorf("send: %w", err))
	}
	if err := e.store.MarkLive(ctx, t.alertType, row.EntityID, msgID); err != nil {
		// An unrecorded message would be posted again next tick, or never
		// retracted if the subscription is gone.
		if delErr := ch.DeleteMessage(ctx, msgID); delErr != nil && !errors.Is(delErr, ErrMessageNotFound) {
			t.log.Error("orphaned notification", slog.String("channel_id", row.ChannelID),
				slog.String("message_id", msgID), slog.Any("err", delErr))
		}
		if errors.Is(err, store.ErrNotFound) {
			t.log.Info("subscription removed during tick, withdrew notification",
				slog.String("username", row.Username), slog.String("channel_id", row.ChannelID))
			return false, nil
		}
		return false, fmt.Errorf("mark live: %w", err)
	}
	t.res.Sent++
	telemetry.MessagesSent.WithLabelValues(string(t.alertType)).Inc()
	t.log.Info("posted live notification", slog.String("username", row.Username),
		slog.String("channel_id", row.ChannelID), slog.String("message_id", msgID))
	return true, nil
}

func (e *Engine) retract(ctx context.Context, t *tick, row store.ScopeRow) error {
	ch, err := e.channel(ctx, t, row.ChannelID)
	if err != nil {
		return e.handleChatError(ctx, t, row.ChannelID, err)
	}
	err = ch.DeleteMessage(ctx, row.MessageID)
	switch {
	case err == nil:
		t.res.Deleted++
		telemetry.MessagesDeleted.WithLabelValues(string(t.alertType)).Inc()
	case errors.Is(err, ErrMessageNotFound):
		t.log.Debug("notification already gone", slog.String("message_id", row.MessageID))
	case isStale(err):
		return e.handleChatError(ctx, t, row.ChannelID, err)
	default:
		t.log.Warn("delete notification failed, clearing anyway",
			slog.String("channel_id", row.ChannelID), slog.String("message_id", row.MessageID), slog.Any("err", err))
	}
	if err := e.store.MarkOffline(ctx, t.alertType, row.EntityID); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// channel resolves a chat channel once per tick.
func (e *Engine) channel(ctx context.Context, t *tick, channelID string) (Channel, error) {
	if ch, ok := t.channels[channelID]; ok {
		return ch, nil
	}
	ch, err := e.chat.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	t.channels[channelID] = ch
	return ch, nil
}

// handleChatError drops the AlertChannel for stale-channel errors and passes
// anything else through as a row failure.
func (e *Engine) handleChatError(ctx context.Context, t *tick, channelID string, err error) error {
	if !isStale(err) {
		return err
	}
	t.removed[channelID] = true
	delete(t.channels, channelID)
	t.res.StaleChannels++
	telemetry.StaleChannels.WithLabelValues(string(t.alertType)).Inc()
	t.log.Warn("removing stale alert channel", slog.String("channel_id", channelID), slog.Any("reason", err))
	if rmErr := e.store.RemoveChannel(ctx, channelID); rmErr != nil {
		return fmt.Errorf("remove stale channel: %w", rmErr)
	}
	return nil
}

// enrich looks up user and game details once per login per tick. Lookup
// failures fall back to what the stream itself carries.
func (e *Engine) enrich(ctx context.Context, t *tick, login string, stream twitchapi.Stream) *enrichment {
	if info, ok := t.enriched[login]; ok {
		return info
	}
	info := &enrichment{}
	user, err := e.streams.GetUser(ctx, login)
	if err != nil {
		t.log.Warn("user lookup failed", slog.String("username", login), slog.Any("err", err))
	} else {
		info.user = user
	}
	if stream.GameID != "" {
		game, err := e.streams.GetGame(ctx, stream.GameID)
		switch {
		case err != nil:
			t.log.Warn("game lookup failed", slog.String("game_id", stream.GameID), slog.Any("err", err))
			if stream.GameName != "" {
				info.game = &twitchapi.Game{ID: stream.GameID, Name: stream.GameName}
			}
		case game != nil:
			info.game = game
		}
	}
	t.enriched[login] = info
	return info
}
