package alert

import (
	"strings"
	"time"

	"github.com/onnwee/twitchalert/twitchapi"
)

// TwitchPurple is the embed accent colour.
const TwitchPurple = 0x9146FF

// NoCategory is shown when a stream has no game set or it could not be resolved.
const NoCategory = "No Category"

// Field is one name/value pair of a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is a rendered live notification, independent of the chat platform.
type Payload struct {
	Title        string
	URL          string
	Description  string
	Fields       []Field
	ThumbnailURL string
	ImageURL     string
	Color        int
	Timestamp    time.Time
}

// ChannelURL is the public Twitch URL of a login.
func ChannelURL(login string) string {
	return "https://twitch.tv/" + strings.ToLower(login)
}

// Render builds the notification for a live stream. user and game may be nil
// when the lookup failed or the stream has no category; message may be empty.
func Render(stream twitchapi.Stream, user *twitchapi.User, game *twitchapi.Game, message string) Payload {
	login := stream.UserLogin
	display := stream.UserName
	var thumb string
	if user != nil {
		if user.Login != "" {
			login = user.Login
		}
		if user.DisplayName != "" {
			display = user.DisplayName
		}
		thumb = user.ProfileImageURL
	}
	if display == "" {
		display = login
	}

	title := stream.Title
	if title == "" {
		title = "Untitled stream"
	}
	playing := NoCategory
	if game != nil && game.Name != "" {
		playing = game.Name
	}

	p := Payload{
		Title:       display + " is now streaming!",
		URL:         ChannelURL(login),
		Description: message,
		Fields: []Field{
			{Name: "Stream Title", Value: title},
			{Name: "Playing", Value: playing},
		},
		ThumbnailURL: thumb,
		Color:        TwitchPurple,
		Timestamp:    stream.StartedAt,
	}
	if stream.ThumbnailURL != "" {
		p.ImageURL = previewURL(stream.ThumbnailURL)
	}
	return p
}

// previewURL fills the {width}x{height} template of a Helix stream thumbnail.
func previewURL(tmpl string) string {
	return strings.NewReplacer("{width}", "1280", "{height}", "720").Replace(tmpl)
}
