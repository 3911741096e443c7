package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

func newFeed(t *testing.T, maxConns int) (*Hub, string) {
	t.Helper()
	hub := NewHub(logging.Discard(), maxConns)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, r.URL.Query().Get("zone")); err == ErrTooManyConnections {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestPublishReachesZoneAndWildcardSubscribers(t *testing.T) {
	hub, url := newFeed(t, 0)
	zoneSub := dial(t, url+"?zone=zone_1")
	allSub := dial(t, url)
	otherSub := dial(t, url+"?zone=zone_2")
	require.Eventually(t, func() bool {
		return hub.Count("zone_1") == 1 && hub.Count("*") == 1 && hub.Count("zone_2") == 1
	}, time.Second, 5*time.Millisecond)

	hub.PublishAlert(models.Alert{ID: "a1", ZoneID: "zone_1", Severity: models.SeverityCritical, Status: models.StatusAwaitingAck})

	for _, ws := range []*websocket.Conn{zoneSub, allSub} {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, "alert", ev.Type)
		assert.Equal(t, "a1", ev.Alert.ID)
		assert.Equal(t, models.StatusAwaitingAck, ev.Alert.Status)
	}

	require.NoError(t, otherSub.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := otherSub.ReadMessage()
	assert.Error(t, err, "other zones see nothing")
}

func TestConnectionLimit(t *testing.T) {
	hub, url := newFeed(t, 1)
	dial(t, url+"?zone=zone_1")
	require.Eventually(t, func() bool { return hub.Count("zone_1") == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?zone=zone_1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, url := newFeed(t, 0)
	ws := dial(t, url+"?zone=zone_1")
	require.Eventually(t, func() bool { return hub.Count("zone_1") == 1 }, time.Second, 5*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool { return hub.Count("zone_1") == 0 }, time.Second, 5*time.Millisecond)
	hub.PublishAlert(models.Alert{ID: "a1", ZoneID: "zone_1"})
}
