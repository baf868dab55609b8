package hosting

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSServer runs a scripted websocket endpoint and returns its ws:// URL.
func newWSServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSessionLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSession_DeliversEvents(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"room":"smw-a-1","type":"race.status","status":"in_progress"}`,
			`{"type":"race.entrant_finish","entrants":[{"name":"runner1","finish_rank":1}]}`,
		}
		for _, f := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		// Wait for the peer's close response before tearing down.
		_, _, _ = conn.ReadMessage()
	})

	sess, err := dialSession(context.Background(), url, nil, "smw-a-1", testSessionLogger())
	require.NoError(t, err)
	defer sess.Close()

	ev1, ok := <-sess.Events()
	require.True(t, ok)
	assert.Equal(t, EventRaceStatus, ev1.Type)
	assert.Equal(t, StatusInProgress, ev1.Status)
	assert.Equal(t, "smw-a-1", ev1.Room)

	ev2, ok := <-sess.Events()
	require.True(t, ok)
	assert.Equal(t, EventEntrantFinish, ev2.Type)
	require.Len(t, ev2.Entrants, 1)
	assert.Equal(t, "runner1", ev2.Entrants[0].Name)
	require.NotNil(t, ev2.Entrants[0].FinishRank)
	assert.Equal(t, 1, *ev2.Entrants[0].FinishRank)
	// Frames without a room field inherit the session's slug.
	assert.Equal(t, "smw-a-1", ev2.Room)

	_, ok = <-sess.Events()
	assert.False(t, ok, "events channel should close when the server closes")
}

func TestSession_SkipsMalformedFrames(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"race.status","status":"finished"}`))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_, _, _ = conn.ReadMessage()
	})

	sess, err := dialSession(context.Background(), url, nil, "smw-b-2", testSessionLogger())
	require.NoError(t, err)
	defer sess.Close()

	ev, ok := <-sess.Events()
	require.True(t, ok)
	assert.Equal(t, StatusFinished, ev.Status)
}

func TestSession_SendMessage(t *testing.T) {
	received := make(chan outbound, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		var frame outbound
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
		_, _, _ = conn.ReadMessage()
	})

	sess, err := dialSession(context.Background(), url, nil, "smw-c-3", testSessionLogger())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SendMessage(context.Background(), "Welcome, racers!"))

	select {
	case frame := <-received:
		assert.Equal(t, "message", frame.Action)
		assert.Equal(t, "Welcome, racers!", frame.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestSession_CloseStopsEvents(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	})

	sess, err := dialSession(context.Background(), url, nil, "smw-d-4", testSessionLogger())
	require.NoError(t, err)

	require.NoError(t, sess.Close())

	select {
	case _, ok := <-sess.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close after Close")
	}
}

func TestDialSession_Refused(t *testing.T) {
	// Nothing listens on port 1.
	_, err := dialSession(context.Background(), "ws://127.0.0.1:1/ws/o/smw-e-5", nil, "smw-e-5", testSessionLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dialing room smw-e-5")
}
