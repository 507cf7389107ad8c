package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/downloader"
)

type fakeCommands struct {
	mu        sync.Mutex
	enqueued  []downloader.Task
	cancelled []string
}

func (f *fakeCommands) Enqueue(task downloader.Task) downloader.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, task)
	return downloader.Ack{Success: true, Queued: true}
}

func (f *fakeCommands) Cancel(id string) downloader.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return downloader.Ack{Success: true}
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub, conn := startHub(t)

	ev := downloader.Event{ID: "a", Progress: 50, Speed: "1.0 MB/s", Status: downloader.StatusDownloading}
	require.NoError(t, hub.Broadcast("download:progress", ev))

	msg := readMessage(t, conn)
	assert.Equal(t, "download:progress", msg.Type)

	var got downloader.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, ev, got)
}

func TestHub_EnqueueCommand(t *testing.T) {
	hub, conn := startHub(t)
	cmds := &fakeCommands{}
	hub.SetCommands(cmds)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeEnqueue,
		"payload": map[string]string{"url": "http://h/video.mp4", "name": "My Movie", "profileId": "p1"},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, TypeAck, msg.Type)

	var ack AckPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ack))
	assert.Equal(t, TypeEnqueue, ack.Request)
	assert.True(t, ack.Success)
	assert.True(t, ack.Queued)
	assert.NotEmpty(t, ack.ID, "id is generated when omitted")

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	require.Len(t, cmds.enqueued, 1)
	assert.Equal(t, ack.ID, cmds.enqueued[0].ID)
	assert.Equal(t, "p1", cmds.enqueued[0].ProfileID)
}

func TestHub_CancelCommand(t *testing.T) {
	hub, conn := startHub(t)
	cmds := &fakeCommands{}
	hub.SetCommands(cmds)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeCancel,
		"payload": map[string]string{"id": "a"},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, TypeAck, msg.Type)

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	assert.Equal(t, []string{"a"}, cmds.cancelled)
}

func TestHub_InvalidCommands(t *testing.T) {
	hub, conn := startHub(t)
	hub.SetCommands(&fakeCommands{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, TypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": TypeEnqueue, "payload": map[string]string{}}))
	assert.Equal(t, TypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": TypeCancel, "payload": map[string]string{}}))
	assert.Equal(t, TypeError, readMessage(t, conn).Type)
}

func TestHub_BroadcastAfterStop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	for i := 0; i < sendBuffer+1; i++ {
		if err := hub.Broadcast("x", nil); err != nil {
			assert.ErrorIs(t, err, ErrHubStopped)
			return
		}
	}
	t.Fatal("Broadcast never reported the stopped hub")
}

// burstCommands broadcasts more events than the hub buffer holds before
// acknowledging, the way a cancel reports through the hub emitter.
type burstCommands struct {
	fakeCommands
	hub *Hub
}

func (b *burstCommands) Cancel(id string) downloader.Ack {
	for i := 0; i < sendBuffer+1; i++ {
		_ = b.hub.Broadcast("download:progress", downloader.Event{ID: id, Status: downloader.StatusCancelled})
	}
	return b.fakeCommands.Cancel(id)
}

func TestHub_CommandMayBroadcastPastBuffer(t *testing.T) {
	hub, conn := startHub(t)
	hub.SetCommands(&burstCommands{hub: hub})

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeCancel,
		"payload": map[string]string{"id": "a"},
	}))

	for {
		msg := readMessage(t, conn)
		if msg.Type == TypeAck {
			var ack AckPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &ack))
			assert.Equal(t, "a", ack.ID)
			return
		}
		require.Equal(t, "download:progress", msg.Type)
	}
}
