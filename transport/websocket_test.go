package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwire/blip"
	"github.com/coldwire/blip/websocket"
)

func TestDialUpgradeEchoRoundTrip(t *testing.T) {
	var server *blip.Connection
	serverReady := make(chan struct{})

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := Upgrade(w, r, WithUpgrader(upgrader))
		if err != nil {
			close(serverReady)
			return
		}
		conn.HandleProfile("echo", func(req *blip.Request) {
			_ = req.Reply(req.Body())
		})
		server = conn
		close(serverReady)
	}))
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	client, err := Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer client.Close()

	req := blip.NewRequest()
	require.NoError(t, req.SetProfile("echo"))
	require.NoError(t, req.SetBody([]byte("ping")))
	require.NoError(t, client.SendRequest(req))

	resp, err := req.Response()
	require.NoError(t, err)
	assert.False(t, resp.IsError())
	assert.Equal(t, []byte("ping"), resp.Body())

	<-serverReady
	require.NotNil(t, server)
}

func TestDialRejectsPeerThatDidNotAcceptBLIPSubprotocol(t *testing.T) {
	// A plain (non-BLIP-aware) WebSocket server: it negotiates only its
	// own subprotocol, never "BLIP", even though the client offers it.
	upgrader := &websocket.Upgrader{
		CheckOrigin:  func(*http.Request) bool { return true },
		Subprotocols: []string{"not-blip"},
	}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
	}))
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	_, err := Dial(context.Background(), wsURL)
	assert.Error(t, err)
}
