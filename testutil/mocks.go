package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.requests[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns how many requests hit path.
func (m *MockTwitchServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
}

// MockUsersResponse adds a handler for /helix/users that answers from users keyed by login.
func (m *MockTwitchServer) MockUsersResponse(users map[string]map[string]string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		out := []map[string]string{}
		for _, login := range r.URL.Query()["login"] {
			if u, ok := users[login]; ok {
				out = append(out, u)
			}
		}
		writeData(w, out)
	}
}

// MockStreamsResponse adds a handler for /helix/streams that reports the given
// logins as live and filters by the requested user_login values.
func (m *MockTwitchServer) MockStreamsResponse(streams map[string]map[string]any) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		out := []map[string]any{}
		for _, login := range r.URL.Query()["user_login"] {
			if s, ok := streams[login]; ok {
				out = append(out, s)
			}
		}
		writeData(w, out)
	}
}

// MockGamesResponse adds a handler for /helix/games keyed by game id.
func (m *MockTwitchServer) MockGamesResponse(games map[string]map[string]string) {
	m.Handlers["/helix/games"] = func(w http.ResponseWriter, r *http.Request) {
		out := []map[string]string{}
		if g, ok := games[r.URL.Query().Get("id")]; ok {
			out = append(out, g)
		}
		writeData(w, out)
	}
}

// MockTeamResponse adds a handler for /helix/teams returning members for a team name.
func (m *MockTwitchServer) MockTeamResponse(team string, members []string) {
	m.Handlers["/helix/teams"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != team {
			w.WriteHeader(http.StatusNotFound)
			writeData(w, []any{})
			return
		}
		users := make([]map[string]string, 0, len(members))
		for _, login := range members {
			users = append(users, map[string]string{"user_login": login, "user_name": login})
		}
		writeData(w, []map[string]any{{"team_name": team, "users": users}})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
