package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dial spins up a test server that registers the client connection on
// the hub, then dials it.
func dial(t *testing.T, hub *Hub, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(userID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestSend_NoConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	delivered := hub.Send(context.Background(), uuid.New(), map[string]string{"hello": "world"})

	assert.False(t, delivered)
	assert.Equal(t, 0, hub.ConnectedUsers())
}

func TestSend_DeliversToRegisteredUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()

	client := dial(t, hub, userID)
	require.Equal(t, 1, hub.ConnectedUsers())

	delivered := hub.Send(context.Background(), userID, map[string]string{"kind": "accepted"})
	require.True(t, delivered)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "accepted", payload["kind"])
}

func TestSend_OtherUserGetsNothing(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()

	dial(t, hub, userID)

	delivered := hub.Send(context.Background(), uuid.New(), map[string]string{"kind": "rejected"})
	assert.False(t, delivered)
}

func TestUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(userID, conn)
		hub.Unregister(userID, conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ConnectedUsers() == 0
	}, time.Second, 10*time.Millisecond)

	assert.False(t, hub.Send(context.Background(), userID, "bye"))
}

// Two transitions committed back to back dispatch on separate
// goroutines, so Send must serialize writes to a shared connection.
func TestSend_ConcurrentSendsToOneConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	userID := uuid.New()

	client := dial(t, hub, userID)
	require.Equal(t, 1, hub.ConnectedUsers())

	const senders = 50
	var wg sync.WaitGroup
	wg.Add(senders)
	for i := 0; i < senders; i++ {
		go func(n int) {
			defer wg.Done()
			hub.Send(context.Background(), userID, map[string]int{"seq": n})
		}(i)
	}

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < senders; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var payload map[string]int
		require.NoError(t, json.Unmarshal(data, &payload))
	}
	wg.Wait()

	assert.Equal(t, 1, hub.ConnectedUsers())
}

func TestSend_UnmarshalablePayload(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	assert.False(t, hub.Send(context.Background(), uuid.New(), make(chan int)))
}
