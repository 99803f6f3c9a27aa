// Package transport defines the peer-connection contract consumed by the host loop.
package transport

import (
	"errors"
	"fmt"
)

// PeerID identifies an established logical peer connection.
type PeerID string

// PeerState is the connection state reported by UpdatePeers.
type PeerState int

const (
	// PeerConnected reports a newly established peer.
	PeerConnected PeerState = iota
	// PeerDisconnected reports a peer that has gone away.
	PeerDisconnected
)

// String returns the state's log name.
func (s PeerState) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("peer_state(%d)", int(s))
	}
}

// Packet is one inbound message.
type Packet struct {
	Peer PeerID
	Data []byte
}

// PeerEvent is one connection state change.
type PeerEvent struct {
	Peer  PeerID
	State PeerState
}

// ErrUnknownPeer is returned by Send for a peer that is not connected.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// Transport delivers established peer connections and raw byte messages.
//
// Receive and UpdatePeers drain everything buffered since the previous call and never
// block. Implementations must be safe to call from a single polling goroutine while
// their own connection goroutines run.
type Transport interface {
	ConnectedPeers() []PeerID
	Send(peer PeerID, data []byte) error
	Receive() []Packet
	UpdatePeers() []PeerEvent
}

// Broadcast sends data to every connected peer. It returns the number of peers the
// message was queued for and the joined send errors.
func Broadcast(t Transport, data []byte) (int, error) {
	var errs []error
	sent := 0
	for _, p := range t.ConnectedPeers() {
		if err := t.Send(p, data); err != nil {
			errs = append(errs, fmt.Errorf("sending to %s: %w", p, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
