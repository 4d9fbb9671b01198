// Package twitchapi is a small Twitch Helix client covering what live alerts
// need: stream status in batches, user profiles, game metadata and team
// rosters, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// MaxBatch is the most logins Helix accepts in one /streams request.
const MaxBatch = 100

var (
	// ErrTeamNotFound is returned when Twitch reports no such team.
	ErrTeamNotFound = errors.New("twitch team not found")
	// ErrUserNotFound is returned when a login does not resolve to a user.
	ErrUserNotFound = errors.New("twitch user not found")
)

// APIError is a non-2xx Helix response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.StatusCode, e.Body)
}

// Stream is a live stream as reported by /streams.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// User is a Twitch user profile.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Game is a Twitch category.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// LiveStatus is the outcome of GetStreams. Live is keyed by lowercase login.
// Unknown holds logins whose status could not be fetched this call; they are
// neither live nor offline.
type LiveStatus struct {
	Live    map[string]Stream
	Unknown map[string]struct{}
}

// IsUnknown reports whether the status of login could not be determined.
func (ls LiveStatus) IsUnknown(login string) bool {
	_, ok := ls.Unknown[login]
	return ok
}

// HelixClient provides the Helix calls used by live alerts.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// get issues an authenticated GET and decodes the JSON body into out. A 401
// drops the cached app token and retries once.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		err = decodeResponse(resp, out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			hc.AppTokenSource.Invalidate()
			continue
		}
		return err
	}
}

func decodeResponse(resp *http.Response, out any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode helix response: %w", err)
	}
	return nil
}

// GetStreams reports which of logins are live. Logins are split into batches
// of MaxBatch; a failed batch is retried one login at a time so a single bad
// login cannot hide the rest. Logins whose lookup still fails end up in
// Unknown. Errors are only returned for a cancelled context.
func (hc *HelixClient) GetStreams(ctx context.Context, logins []string) (LiveStatus, error) {
	status := LiveStatus{Live: map[string]Stream{}, Unknown: map[string]struct{}{}}
	uniq := make([]string, 0, len(logins))
	seen := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		uniq = append(uniq, l)
	}

	for start := 0; start < len(uniq); start += MaxBatch {
		end := min(start+MaxBatch, len(uniq))
		batch := uniq[start:end]
		streams, err := hc.streams(ctx, batch)
		if err == nil {
			addStreams(status.Live, streams)
			continue
		}
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		slog.Warn("helix streams batch failed, retrying per login",
			slog.Int("batch_size", len(batch)), slog.Any("err", err), slog.String("component", "helix"))
		for _, login := range batch {
			streams, err := hc.streams(ctx, []string{login})
			if err != nil {
				if ctx.Err() != nil {
					return status, ctx.Err()
				}
				slog.Warn("helix stream lookup failed",
					slog.String("login", login), slog.Any("err", err), slog.String("component", "helix"))
				status.Unknown[login] = struct{}{}
				continue
			}
			addStreams(status.Live, streams)
		}
	}
	return status, nil
}

func addStreams(live map[string]Stream, streams []Stream) {
	for _, s := range streams {
		live[strings.ToLower(s.UserLogin)] = s
	}
}

func (hc *HelixClient) streams(ctx context.Context, logins []string) ([]Stream, error) {
	q := url.Values{}
	for _, l := range logins {
		q.Add("user_login", l)
	}
	q.Set("first", fmt.Sprintf("%d", MaxBatch))
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUser resolves a login to its profile.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			// Helix rejects malformed logins with 400.
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &body.Data[0], nil
}

// GetGame looks up a category by id. An empty id (no category set) returns
// nil without a request, as does an id Twitch does not know.
func (hc *HelixClient) GetGame(ctx context.Context, id string) (*Game, error) {
	if id == "" {
		return nil, nil
	}
	var body struct {
		Data []Game `json:"data"`
	}
	if err := hc.get(ctx, "/games", url.Values{"id": {id}}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetTeamMembers returns the lowercase logins on a team's roster.
func (hc *HelixClient) GetTeamMembers(ctx context.Context, team string) ([]string, error) {
	team = strings.ToLower(strings.TrimSpace(team))
	if team == "" {
		return nil, ErrTeamNotFound
	}
	var body struct {
		Data []struct {
			TeamName string `json:"team_name"`
			Users    []struct {
				UserID    string `json:"user_id"`
				UserLogin string `json:"user_login"`
				UserName  string `json:"user_name"`
			} `json:"users"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/teams", url.Values{"name": {team}}, &body); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrTeamNotFound
	}
	out := make([]string, 0, len(body.Data[0].Users))
	for _, u := range body.Data[0].Users {
		if u.UserLogin != "" {
			out = append(out, strings.ToLower(u.UserLogin))
		}
	}
	return out, nil
}
