package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"worldhost.ai/internal/events"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStreamDeliversEvents(t *testing.T) {
	hub := events.NewHub()
	s := NewServer(hub, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	id := uuid.New()
	hub.Notify(events.Event{Type: events.TypeActivated, WorldID: id, Name: "arena", Slot: 2})
	ev := readEvent(t, conn)
	require.Equal(t, events.TypeActivated, ev.Type)
	require.Equal(t, id, ev.WorldID)
	require.Equal(t, int32(2), ev.Slot)
	require.EqualValues(t, 1, s.Connections())
}

func TestStreamTypeFilter(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	defer srv.Close()

	conn := dial(t, srv, "?type=world.unloaded")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(events.Event{Type: events.TypeActivated, Name: "a"})
	hub.Notify(events.Event{Type: events.TypeUnloaded, Name: "b"})
	require.Equal(t, "b", readEvent(t, conn).Name)

	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: "SUBSCRIBE", Types: []string{events.TypeCreated}}))
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Notify(events.Event{Type: events.TypeCreated, Name: "c"})
			}
		}
	}()
	require.Equal(t, "c", readEvent(t, conn).Name)
}

func TestStreamClosesWithHub(t *testing.T) {
	hub := events.NewHub()
	s := NewServer(hub, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, func() bool { return s.Connections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestIsLoopbackRemote(t *testing.T) {
	require.True(t, IsLoopbackRemote("127.0.0.1:5555"))
	require.True(t, IsLoopbackRemote("[::1]:80"))
	require.True(t, IsLoopbackRemote("::1"))
	require.False(t, IsLoopbackRemote("10.0.0.4:80"))
	require.False(t, IsLoopbackRemote("not-an-addr"))
}
