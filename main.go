// Command twitchalert runs the Discord bot that posts Twitch go-live alerts.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (or sqlite) and runs idempotent migrations.
//   - Starts the reconciliation loops for streamer and team subscriptions,
//     plus the periodic team roster refresh.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/twitchalert/alert"
	"github.com/onnwee/twitchalert/config"
	"github.com/onnwee/twitchalert/db"
	"github.com/onnwee/twitchalert/discord"
	"github.com/onnwee/twitchalert/server"
	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/telemetry"
	"github.com/onnwee/twitchalert/twitchapi"
)

const serviceVersion = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	setupLogging()

	rootCmd := &cobra.Command{
		Use:           "twitchalert",
		Short:         "Discord bot posting Twitch live alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.AddCommand(runCommand(), migrateCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot, alert loops and HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func migrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(database)

			if down {
				if cfg.DBDriver != config.DriverPostgres {
					return fmt.Errorf("migrate --down requires %s driver", config.DriverPostgres)
				}
				return db.MigrateDown(database)
			}
			if err := db.Setup(cmd.Context(), database, cfg.DBDriver); err != nil {
				return err
			}
			if cfg.DBDriver == config.DriverPostgres {
				v, dirty, err := db.GetMigrationVersion(database)
				if err != nil {
					return err
				}
				slog.Info("migrations applied", slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty), slog.String("component", "db_migrate"))
				return nil
			}
			slog.Info("migrations applied", slog.String("driver", cfg.DBDriver), slog.String("component", "db_migrate"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

// setupLogging configures the default logger (level + format). Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return database, nil
}

func closeDatabase(database *sql.DB) {
	if err := database.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	telemetry.Init()
	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "twitchalert", serviceVersion)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer shutdownTracing()

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(database)

	slog.Info("running database migrations", slog.String("driver", cfg.DBDriver), slog.String("component", "db_migrate"))
	if err := db.Setup(ctx, database, cfg.DBDriver); err != nil {
		return err
	}
	st := store.New(database)

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	messenger := discord.NewMessenger(session)
	svc := alert.NewService(st, helix, messenger, cfg.AutoEnable)
	bot := discord.NewBot(session, svc)
	if err := bot.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := bot.Stop(); err != nil {
			slog.Error("failed to close discord session", slog.Any("err", err))
		}
	}()

	engine := alert.NewEngine(st, helix, messenger, cfg.DefaultMessage)
	refresher := alert.NewRefresher(st, helix)
	sched := alert.NewScheduler(cfg.TickTimeout,
		alert.ReconcileTask(engine, store.AlertStreamer, cfg.UserInterval),
		alert.ReconcileTask(engine, store.AlertTeam, cfg.TeamInterval),
		alert.RefreshTask(refresher, cfg.RosterInterval),
	)
	sched.Start(ctx)

	deps := server.Deps{Store: st, GatewayReady: bot.Ready}
	httpDone := make(chan error, 1)
	go func() { httpDone <- server.Start(ctx, deps, cfg.HTTPAddr) }()

	// Block until shutdown signal or HTTP failure
	select {
	case <-ctx.Done():
	case err := <-httpDone:
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}
	slog.Info("shutting down")
	cancel()
	sched.Wait()
	return nil
}
