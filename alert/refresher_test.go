package alert

import (
	"context"
	"testing"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/testutil"
)

func seedTeam(t *testing.T, st *store.Store, channel, team string, members ...string) store.TeamSubscription {
	t.Helper()
	sub, err := st.AddTeam(context.Background(), "G", channel, team, "")
	if err != nil {
		t.Fatalf("AddTeam() error = %v", err)
	}
	if err := st.ReplaceTeamRoster(context.Background(), sub.ID, members); err != nil {
		t.Fatalf("ReplaceTeamRoster() error = %v", err)
	}
	return sub
}

func memberNames(t *testing.T, st *store.Store, id int64) map[string]string {
	t.Helper()
	members, err := st.TeamMembers(context.Background(), id)
	if err != nil {
		t.Fatalf("TeamMembers() error = %v", err)
	}
	out := map[string]string{}
	for _, m := range members {
		out[m.Username] = m.MessageID
	}
	return out
}

func TestRefreshUpdatesRosters(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	streams := newFakeStreams()
	a := seedTeam(t, st, "C1", "koala", "alice")
	b := seedTeam(t, st, "C2", "koala", "alice")
	streams.teams["koala"] = []string{"alice", "bob"}

	res, err := NewRefresher(st, streams).Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.Teams != 2 || res.Updated != 2 {
		t.Fatalf("res = %+v", res)
	}
	if streams.teamCalls["koala"] != 1 {
		t.Errorf("team fetched %d times, want once", streams.teamCalls["koala"])
	}
	for _, id := range []int64{a.ID, b.ID} {
		names := memberNames(t, st, id)
		if _, ok := names["bob"]; !ok || len(names) != 2 {
			t.Errorf("team %d roster = %v, want alice and bob", id, names)
		}
	}
}

func TestRefreshTeamNotFoundKeepsRoster(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	streams := newFakeStreams()
	sub := seedTeam(t, st, "C", "koala", "alice", "bob")
	members, _ := st.TeamMembers(context.Background(), sub.ID)
	if err := st.MarkLive(context.Background(), store.AlertTeam, members[0].ID, "m1"); err != nil {
		t.Fatalf("MarkLive() error = %v", err)
	}
	before := memberNames(t, st, sub.ID)

	// koala is absent from the fake, so Twitch reports it missing
	res, err := NewRefresher(st, streams).Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.NotFound != 1 || res.Updated != 0 {
		t.Fatalf("res = %+v", res)
	}
	after := memberNames(t, st, sub.ID)
	if len(after) != len(before) || after["alice"] != "m1" || after["bob"] != before["bob"] {
		t.Fatalf("roster changed: before %v after %v", before, after)
	}
}

func TestRefreshTransientErrorKeepsRoster(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	streams := newFakeStreams()
	sub := seedTeam(t, st, "C", "koala", "alice")
	streams.teamErr = errBoom

	res, err := NewRefresher(st, streams).Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("res = %+v, want one failure", res)
	}
	if names := memberNames(t, st, sub.ID); len(names) != 1 {
		t.Fatalf("roster = %v, want untouched", names)
	}
}
