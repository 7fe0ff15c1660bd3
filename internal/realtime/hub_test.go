package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(WithLogger(log.New(io.Discard, "", 0)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(EventTicketClosed, TicketClosed{TicketID: 42, Reason: "staff"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Event string       `json:"event"`
		Data  TicketClosed `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, EventTicketClosed, got.Event)
	assert.Equal(t, int64(42), got.Data.TicketID)
	assert.Equal(t, "staff", got.Data.Reason)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := &client{id: "slow", hub: h, send: make(chan []byte, 1)}
	h.register <- slow
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(EventUpdateTickets, TicketsUpdated{TicketID: 1})
	h.Broadcast(EventUpdateTickets, TicketsUpdated{TicketID: 2})

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	first, ok := <-slow.send
	assert.True(t, ok)
	assert.Contains(t, string(first), `"ticket_id":1`)
	_, ok = <-slow.send
	assert.False(t, ok, "send channel is closed when the client is dropped")
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := NewHub(WithLogger(log.New(io.Discard, "", 0)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &client{id: "c", hub: h, send: make(chan []byte, 1)}
	h.register <- c
	cancel()

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on shutdown")
	}
	<-h.done
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Broadcast(EventNewMessage, NewMessage{MessageID: 1})
	r.Broadcast(EventUpdateTickets, TicketsUpdated{TicketID: 1, IsNew: true})
	r.Broadcast(EventNewMessage, NewMessage{MessageID: 2})

	assert.Equal(t, []string{EventNewMessage, EventUpdateTickets, EventNewMessage}, r.Names())
	assert.Equal(t, 2, r.Count(EventNewMessage))
	assert.Equal(t, int64(2), r.Find(EventNewMessage)[1].(NewMessage).MessageID)

	r.Reset()
	assert.Empty(t, r.Events())
}
