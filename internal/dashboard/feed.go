// Package dashboard streams newly collected snapshots to connected
// WebSocket clients. Each client only receives snapshots of accounts it owns.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bot-scorer/internal/metrics"
	"bot-scorer/internal/snapshot"
	"bot-scorer/internal/tracker"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// UserHeader identifies the subscriber. Browsers cannot set headers on
	// WebSocket requests, so the user query parameter is accepted as well.
	UserHeader = "X-User-ID"
	userParam  = "user"

	broadcastBuffer = 100
	writeTimeout    = 5 * time.Second
)

// SnapshotEvent is the message sent for every stored snapshot.
type SnapshotEvent struct {
	Type       string            `json:"type"`
	AccountID  uint64            `json:"account_id"`
	TwitterID  int64             `json:"twitter_id"`
	ScreenName string            `json:"screen_name"`
	Snapshot   snapshot.Snapshot `json:"snapshot"`
	Change     snapshot.Change   `json:"change"`
	SentAt     time.Time         `json:"sent_at"`

	owners []string
}

type client struct {
	conn *websocket.Conn
	user string
}

// Feed fans snapshot events out to WebSocket subscribers. It implements
// tracker.Publisher and http.Handler.
type Feed struct {
	upgrader         websocket.Upgrader
	clients          map[*client]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan SnapshotEvent
	stopChannel      chan struct{}
	isRunning        bool
	mu               sync.Mutex
	gauge            metrics.MetricsGauge
}

var _ tracker.Publisher = (*Feed)(nil)

// NewFeed creates a feed. gauge tracks the number of connected clients and
// may be nil.
func NewFeed(gauge metrics.MetricsGauge) *Feed {
	return &Feed{
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:          make(map[*client]bool),
		broadcastChannel: make(chan SnapshotEvent, broadcastBuffer),
		gauge:            gauge,
	}
}

// Start launches the broadcaster.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isRunning {
		return fmt.Errorf("snapshot feed is already running")
	}

	f.stopChannel = make(chan struct{})
	go f.clientBroadcaster(f.stopChannel)

	f.isRunning = true
	log.Info().Msg("Snapshot feed started")
	return nil
}

// Stop stops broadcasting and disconnects every client.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isRunning {
		return
	}

	close(f.stopChannel)

	f.clientsMu.Lock()
	for c := range f.clients {
		c.conn.Close()
	}
	f.clients = make(map[*client]bool)
	f.clientsMu.Unlock()
	f.setGauge(0)

	f.isRunning = false
	log.Info().Msg("Snapshot feed stopped")
}

// PublishSnapshot queues the snapshot for broadcast. The event is dropped if
// the queue is full.
func (f *Feed) PublishSnapshot(acc snapshot.Account, s snapshot.Snapshot, change snapshot.Change) {
	event := SnapshotEvent{
		Type:       "snapshot",
		AccountID:  acc.ID,
		TwitterID:  acc.TwitterID,
		ScreenName: acc.ScreenName,
		Snapshot:   s,
		Change:     change,
		SentAt:     time.Now().UTC(),
		owners:     append([]string(nil), acc.Owners...),
	}

	select {
	case f.broadcastChannel <- event:
	default:
		log.Warn().Uint64("account_id", acc.ID).Msg("Snapshot feed queue full, dropping event")
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

func (f *Feed) clientBroadcaster(stop <-chan struct{}) {
	for {
		select {
		case event := <-f.broadcastChannel:
			f.broadcastToClients(event)
		case <-stop:
			return
		}
	}
}

func (f *Feed) broadcastToClients(event SnapshotEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot event for broadcast")
		return
	}

	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	for c := range f.clients {
		if !owns(event.owners, c.user) {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("user", c.user).Msg("Failed to send message to WebSocket client")
			c.conn.Close()
			delete(f.clients, c)
		}
	}
	f.setGauge(float64(len(f.clients)))
}

func owns(owners []string, user string) bool {
	for _, o := range owners {
		if o == user {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		user = r.URL.Query().Get(userParam)
	}
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	c := &client{conn: conn, user: user}
	f.clientsMu.Lock()
	f.clients[c] = true
	f.setGauge(float64(len(f.clients)))
	f.clientsMu.Unlock()

	log.Debug().Str("user", user).Msg("Feed client connected")

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.clientsMu.Lock()
	delete(f.clients, c)
	f.setGauge(float64(len(f.clients)))
	f.clientsMu.Unlock()
}

func (f *Feed) setGauge(v float64) {
	if f.gauge != nil {
		f.gauge.Set(v)
	}
}
