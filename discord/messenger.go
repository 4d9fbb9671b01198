// Package discord connects the alert engine to Discord: a Messenger that posts
// and deletes notifications, and a Bot that serves the /twitchalert commands.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/twitchalert/alert"
)

// Messenger implements alert.Messenger over a discordgo session.
type Messenger struct {
	session *discordgo.Session
}

// NewMessenger wraps session.
func NewMessenger(session *discordgo.Session) *Messenger {
	return &Messenger{session: session}
}

// Channel resolves a text channel, from the gateway state when cached.
func (m *Messenger) Channel(ctx context.Context, channelID string) (alert.Channel, error) {
	if m.session.State != nil {
		if ch, err := m.session.State.Channel(channelID); err == nil && ch != nil {
			return &textChannel{session: m.session, id: ch.ID}, nil
		}
	}
	ch, err := m.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err, alert.ErrChannelNotFound)
	}
	return &textChannel{session: m.session, id: ch.ID}, nil
}

type textChannel struct {
	session *discordgo.Session
	id      string
}

func (c *textChannel) Send(ctx context.Context, p alert.Payload) (string, error) {
	msg, err := c.session.ChannelMessageSendEmbed(c.id, toEmbed(p), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err, alert.ErrChannelNotFound)
	}
	return msg.ID, nil
}

func (c *textChannel) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.session.ChannelMessageDelete(c.id, messageID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err, alert.ErrMessageNotFound)
	}
	return nil
}

// mapError translates Discord REST failures into alert chat errors. A bare 404
// without a JSON error code maps to notFound, which depends on the call.
func mapError(err error, notFound error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", alert.ErrChannelNotFound, err)
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %w", alert.ErrMessageNotFound, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %w", alert.ErrForbidden, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", alert.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", notFound, err)
		}
	}
	return err
}

func toEmbed(p alert.Payload) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       p.Title,
		URL:         p.URL,
		Description: p.Description,
		Color:       p.Color,
	}
	for _, f := range p.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if p.ThumbnailURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.ThumbnailURL}
	}
	if p.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: p.ImageURL}
	}
	if !p.Timestamp.IsZero() {
		e.Timestamp = p.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}
