// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters, labelled by alert_type unless noted
	Ticks                *prometheus.CounterVec
	TickFailures         *prometheus.CounterVec
	MessagesSent         *prometheus.CounterVec
	MessagesDeleted      *prometheus.CounterVec
	StaleChannels        *prometheus.CounterVec
	RowFailures          *prometheus.CounterVec
	StreamLookupFailures prometheus.Counter
	RosterRefreshes      *prometheus.CounterVec // label: result

	// Histograms (seconds)
	TickDuration *prometheus.HistogramVec

	// Gauges
	LiveNotifications *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		byType := []string{"alert_type"}
		Ticks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_ticks_total", Help: "Reconciliation ticks run"}, byType)
		TickFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_tick_failures_total", Help: "Reconciliation ticks that could not complete"}, byType)
		MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_messages_sent_total", Help: "Live notifications posted"}, byType)
		MessagesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_messages_deleted_total", Help: "Live notifications removed after the stream ended"}, byType)
		StaleChannels = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_stale_channels_total", Help: "Alert channels dropped because they were deleted or forbidden"}, byType)
		RowFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_row_failures_total", Help: "Rows left unchanged after a failure, retried next tick"}, byType)
		StreamLookupFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "twitch_alert_stream_lookup_failures_total", Help: "Logins whose live status could not be fetched"})
		RosterRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitch_alert_roster_refresh_total", Help: "Team roster refreshes by result"}, []string{"result"})
		TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "twitch_alert_tick_duration_seconds", Help: "Reconciliation tick duration seconds", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}}, byType)
		LiveNotifications = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "twitch_alert_live_notifications", Help: "Live notifications held after the last tick"}, byType)
	})
}

// SetLiveNotifications records how many rows hold a message after a tick.
func SetLiveNotifications(alertType string, n int) {
	if LiveNotifications != nil {
		LiveNotifications.WithLabelValues(alertType).Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
