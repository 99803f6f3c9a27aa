// Package websocket implements transport.Transport over gorilla/websocket connections.
package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/config"
	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/transport"
)

// ErrSendBufferFull is returned when a peer's outbound queue is full.
var ErrSendBufferFull = errors.New("websocket: send buffer full")

type peer struct {
	id   transport.PeerID
	conn *gws.Conn
	send chan []byte
}

// Hub accepts WebSocket peers and buffers their traffic for a polling consumer.
type Hub struct {
	cfg         config.TransportConfig
	logger      *zap.Logger
	upgrader    gws.Upgrader
	messageType int

	mu      sync.Mutex
	peers   map[transport.PeerID]*peer
	inbox   []transport.Packet
	events  []transport.PeerEvent
	running bool

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

var _ transport.Transport = (*Hub)(nil)

// NewHub creates a Hub. Outbound frames are binary for the CBOR envelope and text
// otherwise.
//
// Precondition: cfg must pass config validation; logger must be non-nil.
// Postcondition: Returns a Hub ready to be started with ListenAndServe or mounted via ServeHTTP.
func NewHub(cfg config.TransportConfig, logger *zap.Logger) *Hub {
	mt := gws.TextMessage
	if protocol.Envelope(cfg.Envelope) == protocol.EnvelopeBinary {
		mt = gws.BinaryMessage
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		messageType: mt,
		peers:       make(map[transport.PeerID]*peer),
	}
}

// ListenAndServe accepts peers on cfg.Path until Stop is called. It blocks.
//
// Precondition: The hub must not already be running.
// Postcondition: The listener is closed when this method returns.
func (h *Hub) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.Handle(h.cfg.Path, h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	h.mu.Lock()
	h.listener = listener
	h.server = srv
	h.running = true
	h.mu.Unlock()

	h.logger.Info("websocket transport listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", h.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket transport: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request and runs the peer until its connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	p := &peer{
		id:   transport.PeerID(uuid.NewString()),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	h.register(p)

	h.wg.Add(1)
	go h.writeLoop(p)
	h.readLoop(p, r.RemoteAddr)
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
	h.events = append(h.events, transport.PeerEvent{Peer: p.id, State: transport.PeerConnected})
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	delete(h.peers, p.id)
	close(p.send)
	h.events = append(h.events, transport.PeerEvent{Peer: p.id, State: transport.PeerDisconnected})
}

func (h *Hub) readLoop(p *peer, remote string) {
	start := time.Now()
	h.logger.Info("peer connected",
		zap.String("peer_id", string(p.id)),
		zap.String("remote_addr", remote),
	)
	defer func() {
		h.unregister(p)
		p.conn.Close()
		h.logger.Info("peer disconnected",
			zap.String("peer_id", string(p.id)),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				h.logger.Debug("peer read ended", zap.String("peer_id", string(p.id)), zap.Error(err))
			}
			return
		}
		h.mu.Lock()
		h.inbox = append(h.inbox, transport.Packet{Peer: p.id, Data: data})
		h.mu.Unlock()
	}
}

func (h *Hub) writeLoop(p *peer) {
	defer h.wg.Done()
	for data := range p.send {
		if h.cfg.WriteTimeout > 0 {
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		}
		if err := p.conn.WriteMessage(h.messageType, data); err != nil {
			h.logger.Debug("peer write failed", zap.String("peer_id", string(p.id)), zap.Error(err))
			p.conn.Close()
			for range p.send {
			}
			return
		}
	}
	p.conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// ConnectedPeers returns the connected peer ids in sorted order.
func (h *Hub) ConnectedPeers() []transport.PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.PeerID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send queues data for peer without blocking.
func (h *Hub) Send(id transport.PeerID, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[id]
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, id)
	}
	select {
	case p.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, id)
	}
}

// Receive drains the inbound packets buffered since the previous call.
func (h *Hub) Receive() []transport.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.inbox
	h.inbox = nil
	return out
}

// UpdatePeers drains the connection events buffered since the previous call.
func (h *Hub) UpdatePeers() []transport.PeerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// Stop closes the listener and every peer connection, then waits for the writers.
//
// Postcondition: All connections are closed and writer goroutines have exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	srv := h.server
	conns := make([]*gws.Conn, 0, len(h.peers))
	for _, p := range h.peers {
		conns = append(conns, p.conn)
	}
	h.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	h.wg.Wait()

	h.logger.Info("websocket transport stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return ""
}
