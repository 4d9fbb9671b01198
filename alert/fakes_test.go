package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/testutil"
	"github.com/onnwee/twitchalert/twitchapi"
)

// fakeStreams is an in-memory Twitch.
type fakeStreams struct {
	mu        sync.Mutex
	live      map[string]twitchapi.Stream
	unknown   map[string]struct{}
	users     map[string]twitchapi.User
	games     map[string]twitchapi.Game
	teams     map[string][]string
	streamErr error
	userErr   error
	gameErr   error
	teamErr   error

	userCalls   map[string]int
	streamCalls int
	teamCalls   map[string]int
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		live:      map[string]twitchapi.Stream{},
		unknown:   map[string]struct{}{},
		users:     map[string]twitchapi.User{},
		games:     map[string]twitchapi.Game{},
		teams:     map[string][]string{},
		userCalls: map[string]int{},
		teamCalls: map[string]int{},
	}
}

func (f *fakeStreams) goLive(login, title, gameID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[login] = twitchapi.Stream{UserLogin: login, UserName: strings.ToUpper(login[:1]) + login[1:], Title: title, GameID: gameID}
}

func (f *fakeStreams) goOffline(login string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, login)
}

func (f *fakeStreams) GetStreams(_ context.Context, logins []string) (twitchapi.LiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	if f.streamErr != nil {
		return twitchapi.LiveStatus{}, f.streamErr
	}
	out := twitchapi.LiveStatus{Live: map[string]twitchapi.Stream{}, Unknown: map[string]struct{}{}}
	for _, l := range logins {
		if _, ok := f.unknown[l]; ok {
			out.Unknown[l] = struct{}{}
			continue
		}
		if s, ok := f.live[l]; ok {
			out.Live[l] = s
		}
	}
	return out, nil
}

func (f *fakeStreams) GetUser(_ context.Context, login string) (*twitchapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls[login]++
	if f.userErr != nil {
		return nil, f.userErr
	}
	u, ok := f.users[login]
	if !ok {
		return nil, twitchapi.ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeStreams) GetGame(_ context.Context, id string) (*twitchapi.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gameErr != nil {
		return nil, f.gameErr
	}
	g, ok := f.games[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *fakeStreams) GetTeamMembers(_ context.Context, team string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teamCalls[team]++
	if f.teamErr != nil {
		return nil, f.teamErr
	}
	m, ok := f.teams[team]
	if !ok {
		return nil, twitchapi.ErrTeamNotFound
	}
	return m, nil
}

// fakeChat is an in-memory chat platform.
type fakeChat struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	// missing channels resolve to ErrChannelNotFound
	resolveErr map[string]error
	nextID     int
}

type fakeChannel struct {
	chat      *fakeChat
	id        string
	messages  map[string]Payload
	sendErr   error
	deleteErr error
	sent      int
	deleted   int
}

func newFakeChat(ids ...string) *fakeChat {
	c := &fakeChat{channels: map[string]*fakeChannel{}, resolveErr: map[string]error{}}
	for _, id := range ids {
		c.add(id)
	}
	return c
}

func (c *fakeChat) add(id string) *fakeChannel {
	ch := &fakeChannel{chat: c, id: id, messages: map[string]Payload{}}
	c.channels[id] = ch
	return ch
}

func (c *fakeChat) Channel(_ context.Context, id string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.resolveErr[id]; ok {
		return nil, err
	}
	ch, ok := c.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrChannelNotFound)
	}
	return ch, nil
}

func (c *fakeChat) totalMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ch := range c.channels {
		n += len(ch.messages)
	}
	return n
}

func (ch *fakeChannel) Send(_ context.Context, p Payload) (string, error) {
	ch.chat.mu.Lock()
	defer ch.chat.mu.Unlock()
	if ch.sendErr != nil {
		return "", ch.sendErr
	}
	ch.chat.nextID++
	id := fmt.Sprintf("m%d", ch.chat.nextID)
	ch.messages[id] = p
	ch.sent++
	return id, nil
}

func (ch *fakeChannel) DeleteMessage(_ context.Context, id string) error {
	ch.chat.mu.Lock()
	defer ch.chat.mu.Unlock()
	if ch.deleteErr != nil {
		return ch.deleteErr
	}
	if _, ok := ch.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(ch.messages, id)
	ch.deleted++
	return nil
}

// fixture bundles an Engine over a real store.
type fixture struct {
	store   *store.Store
	streams *fakeStreams
	chat    *fakeChat
	engine  *Engine
}

// backends lists the databases fixtures can run on. Postgres skips unless
// TEST_PG_DSN is set.
var backends = []struct {
	name string
	open func(t *testing.T) *sql.DB
}{
	{"sqlite", testutil.SetupTestDB},
	{"postgres", testutil.SetupPostgresDB},
}

func newFixture(t *testing.T, channels ...string) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.SetupTestDB, channels...)
}

func newFixtureOn(t *testing.T, open func(t *testing.T) *sql.DB, channels ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.New(open(t)),
		streams: newFakeStreams(),
		chat:    newFakeChat(channels...),
	}
	f.engine = NewEngine(f.store, f.streams, f.chat, "")
	return f
}

// forEachBackend runs fn with a fixture on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture), channels ...string) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixtureOn(t, b.open, channels...))
		})
	}
}

// hookStore runs beforeMarkLive ahead of every MarkLive.
type hookStore struct {
	*store.Store
	beforeMarkLive func()
}

func (h *hookStore) MarkLive(ctx context.Context, t store.AlertType, entityID int64, messageID string) error {
	if h.beforeMarkLive != nil {
		h.beforeMarkLive()
	}
	return h.Store.MarkLive(ctx, t, entityID, messageID)
}

func (f *fixture) addStreamer(t *testing.T, guild, channel, login, custom string) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.AddStreamer(ctx, guild, channel, login, custom); err != nil {
		t.Fatalf("AddStreamer(%s) error = %v", login, err)
	}
	if err := f.store.EnableGuild(ctx, guild); err != nil {
		t.Fatalf("EnableGuild() error = %v", err)
	}
}

func (f *fixture) reconcile(t *testing.T, at store.AlertType) TickResult {
	t.Helper()
	res, err := f.engine.Reconcile(context.Background(), at)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return res
}

func (f *fixture) streamer(t *testing.T, channel, login string) store.StreamerSubscription {
	t.Helper()
	sub, err := f.store.Streamer(context.Background(), channel, login)
	if err != nil {
		t.Fatalf("Streamer(%s, %s) error = %v", channel, login, err)
	}
	return sub
}

var errBoom = errors.New("boom")
