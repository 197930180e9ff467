package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
)

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}

func TestBroadcasterDeliversEventsInSequence(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	b := NewBroadcaster(zerolog.Nop())
	b.Subscribe("sub-1", serverConn)

	require.NoError(t, b.Record(context.Background(), orchestrator.Event{
		RunID: "run-1",
		Type:  orchestrator.EventRunCreated,
	}))
	require.NoError(t, b.Record(context.Background(), orchestrator.Event{
		RunID:   "run-1",
		Type:    orchestrator.EventStepStarted,
		Payload: map[string]interface{}{"step_id": "step-1"},
	}))

	var first Envelope
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&first))

	var second Envelope
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&second))

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, orchestrator.EventRunCreated, first.Event.Type)
	assert.Equal(t, "run-1", first.Event.RunID)
	assert.NotZero(t, first.Seq)

	assert.Equal(t, orchestrator.EventStepStarted, second.Event.Type)
	assert.Equal(t, "step-1", second.Event.Payload["step_id"])
	assert.Greater(t, second.Seq, first.Seq)
}

func TestBroadcasterNoSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	assert.NoError(t, b.Record(context.Background(), orchestrator.Event{RunID: "run-1", Type: "run.created"}))
}

func TestBroadcasterDropsBrokenSubscriber(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	b := NewBroadcaster(zerolog.Nop())
	b.Subscribe("sub-1", serverConn)
	require.Equal(t, 1, b.SubscriberCount())

	// kill the transport, then record: the sink must still report success
	_ = clientConn.Close()
	_ = serverConn.Close()

	require.NoError(t, b.Record(context.Background(), orchestrator.Event{RunID: "run-1", Type: "run.created"}))
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	serverConn, _, cleanup := websocketConnPair(t)
	defer cleanup()

	b := NewBroadcaster(zerolog.Nop())
	b.Subscribe("sub-1", serverConn)
	b.Unsubscribe("sub-1")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestServerRequiresValidConfig(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	_, err := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Broadcaster: b, Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Host: "127.0.0.1", Port: 8099, Logger: zerolog.Nop()})
	assert.Error(t, err)
}
