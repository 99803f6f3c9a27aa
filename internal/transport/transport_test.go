package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/minigolf/internal/transport"
	"github.com/cory-johannsen/minigolf/internal/transport/transporttest"
)

func TestBroadcast_SendsToEveryPeer(t *testing.T) {
	tr := transporttest.New()
	tr.Connect("a")
	tr.Connect("b")

	n, err := transport.Broadcast(tr, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{[]byte("hello")}, tr.Sent("a"))
	assert.Equal(t, [][]byte{[]byte("hello")}, tr.Sent("b"))
}

func TestBroadcast_CollectsErrors(t *testing.T) {
	tr := transporttest.New()
	tr.Connect("a")
	tr.Connect("b")
	tr.FailSend("b")

	n, err := transport.Broadcast(tr, []byte("x"))
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnknownPeer)
}

func TestBroadcast_NoPeers(t *testing.T) {
	n, err := transport.Broadcast(transporttest.New(), []byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPeerState_String(t *testing.T) {
	assert.Equal(t, "connected", transport.PeerConnected.String())
	assert.Equal(t, "disconnected", transport.PeerDisconnected.String())
	assert.Equal(t, "peer_state(9)", transport.PeerState(9).String())
}
