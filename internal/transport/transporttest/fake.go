// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"sort"
	"sync"

	"github.com/cory-johannsen/minigolf/internal/transport"
)

// Fake is a scripted Transport. Tests inject inbound packets and peer events and read
// back what was sent.
type Fake struct {
	mu      sync.Mutex
	peers   map[transport.PeerID]bool
	inbox   []transport.Packet
	events  []transport.PeerEvent
	sent    map[transport.PeerID][][]byte
	failing map[transport.PeerID]bool
}

// New creates a Fake with no peers.
func New() *Fake {
	return &Fake{
		peers:   make(map[transport.PeerID]bool),
		sent:    make(map[transport.PeerID][][]byte),
		failing: make(map[transport.PeerID]bool),
	}
}

var _ transport.Transport = (*Fake)(nil)

// Connect adds peer and queues a connected event.
func (f *Fake) Connect(peer transport.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[peer] = true
	f.events = append(f.events, transport.PeerEvent{Peer: peer, State: transport.PeerConnected})
}

// Disconnect removes peer and queues a disconnected event.
func (f *Fake) Disconnect(peer transport.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, peer)
	f.events = append(f.events, transport.PeerEvent{Peer: peer, State: transport.PeerDisconnected})
}

// Deliver queues data as received from peer.
func (f *Fake) Deliver(peer transport.PeerID, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, transport.Packet{Peer: peer, Data: data})
}

// FailSend makes every Send to peer fail with ErrUnknownPeer.
func (f *Fake) FailSend(peer transport.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[peer] = true
}

// Sent returns the messages sent to peer.
func (f *Fake) Sent(peer transport.PeerID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent[peer]))
	copy(out, f.sent[peer])
	return out
}

// Reset forgets everything sent so far.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = make(map[transport.PeerID][][]byte)
}

func (f *Fake) ConnectedPeers() []transport.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.PeerID, 0, len(f.peers))
	for p := range f.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *Fake) Send(peer transport.PeerID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.peers[peer] || f.failing[peer] {
		return transport.ErrUnknownPeer
	}
	f.sent[peer] = append(f.sent[peer], append([]byte(nil), data...))
	return nil
}

func (f *Fake) Receive() []transport.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.inbox
	f.inbox = nil
	return out
}

func (f *Fake) UpdatePeers() []transport.PeerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}
