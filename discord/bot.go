package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/twitchalert/alert"
)

// NewSession creates a bot session with the intents alerting needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	return session, nil
}

// Bot owns the gateway connection and the slash command surface.
type Bot struct {
	session *discordgo.Session
	svc     *alert.Service
	ready   atomic.Bool
	log     *slog.Logger
}

// NewBot wires command handlers onto session.
func NewBot(session *discordgo.Session, svc *alert.Service) *Bot {
	b := &Bot{
		session: session,
		svc:     svc,
		log:     slog.Default().With(slog.String("component", "discord")),
	}
	b.registerHandlers()
	return b
}

// Start opens the gateway connection and registers slash commands.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	b.log.Info("connected to Discord", slog.String("user", b.session.State.User.Username))
	if err := b.registerCommands(ctx); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	return nil
}

// Stop closes the gateway connection. Commands stay registered.
func (b *Bot) Stop() error {
	b.ready.Store(false)
	if b.session != nil {
		return b.session.Close()
	}
	return nil
}

// Ready reports whether the gateway session is up.
func (b *Bot) Ready() bool { return b.ready.Load() }

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		b.log.Info("bot is ready", slog.Int("guilds", len(r.Guilds)))
	})
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})
	b.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		b.log.Warn("gateway disconnected")
	})
}

func (b *Bot) registerCommands(ctx context.Context) error {
	defs := commandDefinitions()
	for _, cmd := range defs {
		// empty guild id registers a global command
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", cmd, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	b.log.Info("slash commands registered", slog.Int("count", len(defs)))
	return nil
}
