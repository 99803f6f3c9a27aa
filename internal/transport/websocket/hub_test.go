package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/minigolf/internal/config"
	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/transport"
)

func testConfig(envelope string) config.TransportConfig {
	return config.TransportConfig{
		Host:         "127.0.0.1",
		Port:         0,
		Path:         "/minigolf",
		Envelope:     envelope,
		SendBuffer:   8,
		ReadLimit:    1 << 16,
		WriteTimeout: time.Second,
	}
}

func startHub(t *testing.T, envelope string) (*Hub, string) {
	t.Helper()
	hub := NewHub(testConfig(envelope), zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForPeers(t *testing.T, hub *Hub, n int) []transport.PeerID {
	t.Helper()
	require.Eventually(t, func() bool { return len(hub.ConnectedPeers()) == n }, 2*time.Second, 5*time.Millisecond)
	return hub.ConnectedPeers()
}

func TestHub_ConnectReceiveDisconnect(t *testing.T) {
	hub, url := startHub(t, "text")
	conn := dial(t, url)

	peers := waitForPeers(t, hub, 1)
	events := hub.UpdatePeers()
	require.Len(t, events, 1)
	assert.Equal(t, transport.PeerConnected, events[0].State)
	assert.Equal(t, peers[0], events[0].Peer)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("StateGameConnection::Online")))
	var packets []transport.Packet
	require.Eventually(t, func() bool {
		packets = append(packets, hub.Receive()...)
		return len(packets) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, peers[0], packets[0].Peer)
	assert.Equal(t, "StateGameConnection::Online", string(packets[0].Data))
	assert.Empty(t, hub.Receive())

	conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
	conn.Close()
	waitForPeers(t, hub, 0)
	events = hub.UpdatePeers()
	require.Len(t, events, 1)
	assert.Equal(t, transport.PeerDisconnected, events[0].State)
}

func TestHub_SendUsesEnvelopeFrameType(t *testing.T) {
	for _, tc := range []struct {
		envelope string
		frame    int
	}{
		{"text", gws.TextMessage},
		{"binary", gws.BinaryMessage},
	} {
		t.Run(tc.envelope, func(t *testing.T) {
			hub, url := startHub(t, tc.envelope)
			conn := dial(t, url)
			peers := waitForPeers(t, hub, 1)

			codec, err := protocol.NewCodec(protocol.Envelope(tc.envelope))
			require.NoError(t, err)
			data, err := codec.Encode(protocol.RunTrigger("abc-123", "game_handler_game_start"))
			require.NoError(t, err)
			require.NoError(t, hub.Send(peers[0], data))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			frame, got, err := conn.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tc.frame, frame)

			msg, err := codec.Decode(got)
			require.NoError(t, err)
			assert.Equal(t, protocol.TagRunTrigger, msg.Tag)
		})
	}
}

func TestHub_SendUnknownPeer(t *testing.T) {
	hub, _ := startHub(t, "text")
	err := hub.Send("nobody", []byte("x"))
	assert.ErrorIs(t, err, transport.ErrUnknownPeer)
}

func TestHub_BroadcastReachesAllPeers(t *testing.T) {
	hub, url := startHub(t, "text")
	a := dial(t, url)
	b := dial(t, url)
	waitForPeers(t, hub, 2)

	n, err := transport.Broadcast(hub, []byte("network_get_client_state_game"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*gws.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, got, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "network_get_client_state_game", string(got))
	}
}

func TestHub_StopWithoutStartIsNoop(t *testing.T) {
	hub := NewHub(testConfig("text"), zaptest.NewLogger(t))
	hub.Stop()
	assert.Empty(t, hub.Addr())
}

func TestHub_ListenAndServeStop(t *testing.T) {
	hub := NewHub(testConfig("text"), zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- hub.ListenAndServe() }()
	require.Eventually(t, func() bool { return hub.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	conn := dial(t, "ws://"+hub.Addr()+"/minigolf")
	waitForPeers(t, hub, 1)

	hub.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
