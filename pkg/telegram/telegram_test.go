package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("123456:TEST", bot.WithServerURL(srv.URL))
}

func TestSend(t *testing.T) {
	var gotPath, gotBody string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 42,
				"date":       1736154000,
				"chat":       map[string]any{"id": 1001, "type": "private"},
			},
		})
	})

	id, err := c.Send(context.Background(), 1001, "[CRITICAL] seismic in Highway 101")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.True(t, strings.HasSuffix(gotPath, "/sendMessage"), gotPath)
	assert.Contains(t, gotBody, "1001")
	assert.Contains(t, gotBody, "Highway 101")
}

func TestBlockedBotIsPermanent(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	})

	_, err := c.Send(context.Background(), 1001, "x")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  502,
			"description": "Bad Gateway",
		})
	})

	_, err := c.Send(context.Background(), 1001, "x")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestParseChat(t *testing.T) {
	id, err := ParseChat("-100200300")
	require.NoError(t, err)
	assert.Equal(t, int64(-100200300), id)

	for _, bad := range []string{"", "0", "@channel"} {
		_, err := ParseChat(bad)
		assert.ErrorIs(t, err, ErrInvalidChat, bad)
	}
	_, err = New("123456:TEST").Send(context.Background(), 0, "x")
	assert.True(t, IsPermanent(err))
}
