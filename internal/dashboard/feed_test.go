package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *mockGauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

func (g *mockGauge) Add(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += v
}

func (g *mockGauge) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func startFeed(t *testing.T) (*Feed, *mockGauge, string) {
	t.Helper()
	gauge := &mockGauge{}
	feed := NewFeed(gauge)
	require.NoError(t, feed.Start())
	t.Cleanup(feed.Stop)

	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)
	return feed, gauge, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(UserHeader, user)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, feed *Feed, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return feed.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func testSnapshot() (snapshot.Account, snapshot.Snapshot, snapshot.Change) {
	acc := snapshot.Account{ID: 7, TwitterID: 42, ScreenName: "target", Owners: []string{"alice"}}
	s := snapshot.Snapshot{
		ID:        3,
		AccountID: 7,
		Name:      "Target",
		Features:  features.Features{FriendsCount: 12},
		BotScore:  0.4,
		IsActive:  true,
		TakenAt:   time.Date(2020, 6, 20, 10, 0, 0, 0, time.UTC),
	}
	change := snapshot.Change{"friends_count": snapshot.Up}
	return acc, s, change
}

func TestFeed_DeliversToOwners(t *testing.T) {
	feed, gauge, url := startFeed(t)

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	waitForClients(t, feed, 2)
	assert.Equal(t, float64(2), gauge.get())

	feed.PublishSnapshot(testSnapshot())

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := alice.ReadMessage()
	require.NoError(t, err)

	var event SnapshotEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "snapshot", event.Type)
	assert.Equal(t, uint64(7), event.AccountID)
	assert.Equal(t, "target", event.ScreenName)
	assert.Equal(t, uint64(3), event.Snapshot.ID)
	assert.Equal(t, snapshot.Up, event.Change["friends_count"])

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err, "bob does not own the account")
}

func TestFeed_UserQueryParam(t *testing.T) {
	feed, _, url := startFeed(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?user=alice", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, feed, 1)

	feed.PublishSnapshot(testSnapshot())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.NoError(t, err)
}

func TestFeed_RejectsAnonymous(t *testing.T) {
	_, _, url := startFeed(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeed_ClientDisconnect(t *testing.T) {
	feed, gauge, url := startFeed(t)

	conn := dial(t, url, "alice")
	waitForClients(t, feed, 1)

	conn.Close()
	waitForClients(t, feed, 0)
	assert.Equal(t, float64(0), gauge.get())
}

func TestFeed_DropsWhenQueueFull(t *testing.T) {
	feed := NewFeed(nil)

	// Not started: nothing drains the queue.
	for i := 0; i < broadcastBuffer+10; i++ {
		assert.NotPanics(t, func() { feed.PublishSnapshot(testSnapshot()) })
	}
	assert.Len(t, feed.broadcastChannel, broadcastBuffer)
}

func TestFeed_StartStop(t *testing.T) {
	feed := NewFeed(nil)

	require.NoError(t, feed.Start())
	assert.Error(t, feed.Start())

	feed.Stop()
	feed.Stop()

	require.NoError(t, feed.Start())
	feed.Stop()
}
