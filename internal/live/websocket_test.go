package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketStreamsUpdates(t *testing.T) {
	hub := NewHub(8)
	h := NewWebSocketHandler(hub, "https://sagent.app", false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, "t1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, ws, clientMessage{Type: "ping"}))
	var pong Update
	require.NoError(t, wsjson.Read(ctx, ws, &pong))
	assert.Equal(t, "pong", pong.Type)

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(&domain.Message{ID: "m1", ThreadID: "t1", Status: domain.StatusProcessing})

	var u Update
	require.NoError(t, wsjson.Read(ctx, ws, &u))
	assert.Equal(t, UpdateMessage, u.Type)
	assert.Equal(t, "m1", u.Message.ID)
	assert.Equal(t, domain.StatusProcessing, u.Message.Status)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	h := NewWebSocketHandler(NewHub(1), "https://sagent.app", false)
	req := httptest.NewRequest(http.MethodGet, "/api/threads/t1/live", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.Serve(rec, req, "t1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
