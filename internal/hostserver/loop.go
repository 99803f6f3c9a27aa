// Package hostserver runs the host control loop: it drains the transport, feeds the
// reconciliation worker, sweeps stale players, and flushes outbound broadcasts.
package hostserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/mapset"
	"github.com/cory-johannsen/minigolf/internal/player"
	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/reconcile"
	"github.com/cory-johannsen/minigolf/internal/transport"
	"github.com/cory-johannsen/minigolf/internal/trigger"
)

// Options tunes loop timing and the reconciliation retry policy.
type Options struct {
	TickInterval     time.Duration
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	// MaxAttempts bounds how many times an identity is reconciled after fetch failures.
	MaxAttempts int
	// StoreTimeout bounds background map-set fetches; zero means no bound.
	StoreTimeout time.Duration
	// CommandBuffer is the operator command queue length.
	CommandBuffer int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		TickInterval:     50 * time.Millisecond,
		SweepInterval:    5 * time.Second,
		HeartbeatTimeout: 15 * time.Second,
		MaxAttempts:      3,
		StoreTimeout:     5 * time.Second,
		CommandBuffer:    64,
	}
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Transport transport.Transport
	Codec     *protocol.Codec
	Registry  *player.Registry
	Pending   *player.PendingQueue
	Worker    *reconcile.Worker
	Catalog   *trigger.Catalog
	MapSets   mapset.Store
}

type outbound struct {
	// peer is empty for broadcasts.
	peer transport.PeerID
	msg  protocol.Message
}

type mapSetReply struct {
	peer     transport.PeerID
	playerID string
	full     bool
	sets     []protocol.MapSet
	err      error
}

// Loop is the single-goroutine host control loop.
//
// Invariant: catalog, latches, outbox, bindings and transport writes are touched only
// from the goroutine calling Tick.
type Loop struct {
	opts       Options
	deps       Deps
	dispatcher *trigger.Dispatcher
	logger     *zap.Logger

	playerInit  *trigger.Latch
	clientState *trigger.Latch

	commands chan Command
	replies  chan mapSetReply
	done     chan struct{}
	stopOnce sync.Once

	outbox    []outbound
	bindings  map[transport.PeerID]string
	retries   map[string]int
	lastSweep time.Time

	statesMu sync.RWMutex
	states   map[string]protocol.AllStates
}

// New creates a Loop.
//
// Precondition: every field of deps must be non-nil; opts intervals must be positive.
func New(deps Deps, opts Options, logger *zap.Logger) (*Loop, error) {
	if deps.Transport == nil || deps.Codec == nil || deps.Registry == nil || deps.Pending == nil ||
		deps.Worker == nil || deps.Catalog == nil || deps.MapSets == nil {
		return nil, errors.New("hostserver: missing dependency")
	}
	if opts.TickInterval <= 0 || opts.SweepInterval <= 0 || opts.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("hostserver: intervals must be positive: %+v", opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.CommandBuffer < 1 {
		opts.CommandBuffer = 1
	}
	l := &Loop{
		opts:        opts,
		deps:        deps,
		logger:      logger,
		playerInit:  trigger.NewLatch(trigger.LatchPlayerInit),
		clientState: trigger.NewLatch(trigger.LatchClientState),
		commands:    make(chan Command, opts.CommandBuffer),
		replies:     make(chan mapSetReply, 16),
		done:        make(chan struct{}),
		bindings:    make(map[transport.PeerID]string),
		retries:     make(map[string]int),
		states:      make(map[string]protocol.AllStates),
	}
	l.dispatcher = trigger.NewDispatcher(deps.Catalog, l.broadcast, logger.Named("dispatcher"))
	return l, nil
}

// Run drives Tick from a ticker until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()

	l.logger.Info("host loop running",
		zap.Duration("tick_interval", l.opts.TickInterval),
		zap.Duration("sweep_interval", l.opts.SweepInterval),
		zap.Duration("heartbeat_timeout", l.opts.HeartbeatTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case now := <-ticker.C:
			l.Tick(ctx, now)
		}
	}
}

// Start runs the loop until Stop, satisfying server.Service.
func (l *Loop) Start() error {
	return l.Run(context.Background())
}

// Stop ends Run. It is safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Tick runs one pass of the loop.
//
// Order: peer events and inbound messages, registry sweep, reconciliation results and
// the reconcile latch, operator commands, map-set replies, the client-state latch,
// outbox flush.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	l.drainPeerEvents()
	l.drainInbound(ctx)
	l.maybeSweep(now)
	l.drainResults()
	l.maybeReconcile()
	l.drainCommands()
	l.drainReplies()
	if l.clientState.Take() {
		l.broadcast(protocol.Status(protocol.TagGetClientState))
	}
	l.flush()
}

func (l *Loop) drainPeerEvents() {
	for _, ev := range l.deps.Transport.UpdatePeers() {
		l.logger.Info("peer state changed",
			zap.String("peer_id", string(ev.Peer)),
			zap.Stringer("state", ev.State),
		)
		if ev.State != transport.PeerDisconnected {
			continue
		}
		id, ok := l.bindings[ev.Peer]
		if !ok {
			continue
		}
		delete(l.bindings, ev.Peer)
		if l.bound(id) {
			l.logger.Debug("player still bound to another peer",
				zap.String("peer_id", string(ev.Peer)),
				zap.String("player_id", id),
			)
			continue
		}
		if l.deps.Registry.Remove(id) {
			l.logger.Info("removed player on disconnect",
				zap.String("peer_id", string(ev.Peer)),
				zap.String("player_id", id),
			)
		}
	}
}

// bind attaches playerID to peer, detaching it from any peer it was bound to before so
// a later disconnect of the old peer cannot evict the player.
func (l *Loop) bind(peer transport.PeerID, playerID string) {
	for p, id := range l.bindings {
		if id == playerID && p != peer {
			delete(l.bindings, p)
			l.logger.Info("rebinding player to new peer",
				zap.String("player_id", playerID),
				zap.String("old_peer_id", string(p)),
				zap.String("peer_id", string(peer)),
			)
		}
	}
	l.bindings[peer] = playerID
}

func (l *Loop) bound(playerID string) bool {
	for _, id := range l.bindings {
		if id == playerID {
			return true
		}
	}
	return false
}

// rekey moves a registered player from the id the client announced to the id the host
// store keeps, so heartbeats under the host id refresh the live entry.
func (l *Loop) rekey(client, host string) {
	if client == host {
		return
	}
	if l.deps.Registry.Remove(client) {
		l.deps.Registry.Register(host)
	}
	for p, id := range l.bindings {
		if id == client {
			l.bindings[p] = host
		}
	}
	l.statesMu.Lock()
	delete(l.states, client)
	l.statesMu.Unlock()
	l.logger.Info("rekeyed player to host id",
		zap.String("player_id_client", client),
		zap.String("player_id_host", host),
	)
}

func (l *Loop) drainInbound(ctx context.Context) {
	received := false
	for _, pkt := range l.deps.Transport.Receive() {
		received = true
		msg, err := l.deps.Codec.Decode(pkt.Data)
		if err != nil {
			l.logger.Warn("dropping undecodable message",
				zap.String("peer_id", string(pkt.Peer)),
				zap.Int("bytes", len(pkt.Data)),
				zap.Error(err),
			)
			continue
		}
		l.handle(ctx, pkt.Peer, msg)
	}
	if received {
		l.broadcast(protocol.Status(protocol.TagStateOnline))
	}
}

func (l *Loop) handle(ctx context.Context, peer transport.PeerID, msg protocol.Message) {
	log := l.logger.With(zap.String("peer_id", string(peer)), zap.String("tag", string(msg.Tag)))

	switch msg.Tag {
	case protocol.TagInitPlayerConnection:
		id := player.NewIdentity(msg.Fields[0], msg.Fields[1], msg.Fields[2])
		if id.ID == "" {
			log.Warn("dropping init with empty player id")
			return
		}
		l.deps.Registry.Register(id.ID)
		l.bind(peer, id.ID)
		l.deps.Pending.Push(id)
		l.playerInit.Request()
		log.Info("player init queued",
			zap.String("player_id", id.ID),
			zap.String("username", id.Username),
			zap.Int("pending", l.deps.Pending.Len()),
		)
		l.fetchMapSets(ctx, peer, id.ID, false)

	case protocol.TagPacketHeartBeat:
		hb, err := msg.HeartBeat()
		if err != nil {
			log.Warn("dropping heartbeat", zap.Error(err))
			return
		}
		id := player.CanonicalID(hb.PlayerID)
		if !l.deps.Registry.Touch(id) {
			log.Debug("heartbeat for unregistered player", zap.String("player_id", id))
		}

	case protocol.TagPacketAllStates:
		st, err := msg.AllStates()
		if err != nil {
			log.Warn("dropping client state", zap.Error(err))
			return
		}
		id := player.CanonicalID(st.PlayerID)
		l.statesMu.Lock()
		l.states[id] = st
		l.statesMu.Unlock()
		l.deps.Registry.Touch(id)
		log.Debug("client state received", zap.String("player_id", id), zap.String("state_game", st.StateGame))

	case protocol.TagRequestFullMapSets:
		l.fetchMapSets(ctx, peer, player.CanonicalID(msg.Sender), true)

	default:
		log.Debug("ignoring message")
	}
}

// fetchMapSets loads the catalog off the loop goroutine. A full request is answered to
// peer alone; otherwise the summary is broadcast.
func (l *Loop) fetchMapSets(ctx context.Context, peer transport.PeerID, playerID string, full bool) {
	go func() {
		fctx := ctx
		if l.opts.StoreTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, l.opts.StoreTimeout)
			defer cancel()
		}
		sets, err := l.deps.MapSets.FetchAllMapSets(fctx)
		select {
		case l.replies <- mapSetReply{peer: peer, playerID: playerID, full: full, sets: sets, err: err}:
		case <-l.done:
		}
	}()
}

func (l *Loop) drainReplies() {
	for {
		select {
		case r := <-l.replies:
			l.handleReply(r)
		default:
			return
		}
	}
}

func (l *Loop) handleReply(r mapSetReply) {
	if r.err != nil {
		l.logger.Error("fetching map sets",
			zap.String("peer_id", string(r.peer)),
			zap.String("player_id", r.playerID),
			zap.Error(r.err),
		)
		return
	}
	if !r.full {
		l.broadcast(protocol.Summary(mapset.Summarize(r.sets)))
		return
	}
	msg, err := protocol.FullMapSets(r.playerID, r.sets)
	if err != nil {
		l.logger.Error("encoding map sets", zap.String("player_id", r.playerID), zap.Error(err))
		return
	}
	l.outbox = append(l.outbox, outbound{peer: r.peer, msg: msg})
}

func (l *Loop) maybeSweep(now time.Time) {
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	if now.Sub(l.lastSweep) < l.opts.SweepInterval {
		return
	}
	l.lastSweep = now
	evicted := l.deps.Registry.Sweep(l.opts.HeartbeatTimeout)
	if len(evicted) == 0 {
		return
	}
	l.statesMu.Lock()
	for _, id := range evicted {
		delete(l.states, id)
	}
	l.statesMu.Unlock()
}

func (l *Loop) drainResults() {
	for {
		select {
		case res := <-l.deps.Worker.Results():
			l.handleResult(res)
		default:
			return
		}
	}
}

func (l *Loop) handleResult(res reconcile.Result) {
	log := l.logger.With(
		zap.String("player_id", res.Identity.ID),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("attempt", res.Attempt),
		zap.Duration("duration", res.Duration),
	)
	switch res.Outcome {
	case reconcile.OutcomeSynced:
		log.Info("broadcasting player id sync", zap.String("player_id_host", res.Sync.PlayerIDHost))
		l.broadcast(protocol.SyncExistingPlayerID(res.Sync.PlayerIDClient, res.Sync.PlayerIDHost))
		l.rekey(player.CanonicalID(res.Sync.PlayerIDClient), player.CanonicalID(res.Sync.PlayerIDHost))
	case reconcile.OutcomeFetchFailed:
		if res.Attempt < l.opts.MaxAttempts {
			l.retries[res.Identity.ID] = res.Attempt
			l.deps.Pending.Push(res.Identity)
			log.Warn("requeueing identity after fetch failure", zap.Error(res.Err))
		} else {
			log.Error("dropping identity after fetch failures", zap.Error(res.Err))
		}
	case reconcile.OutcomeFailed:
		log.Error("reconciliation failed", zap.Error(res.Err))
	default:
		log.Info("reconciliation complete")
	}
	if l.deps.Pending.Len() > 0 {
		l.playerInit.Request()
	}
}

// maybeReconcile starts at most one reconciliation per activation of the init latch.
// While the worker is busy the latch stays requested.
func (l *Loop) maybeReconcile() {
	if !l.playerInit.Requested() || l.deps.Worker.Busy() {
		return
	}
	l.playerInit.Take()
	id, ok := l.deps.Pending.Pop()
	if !ok {
		return
	}
	attempt := l.retries[id.ID] + 1
	delete(l.retries, id.ID)
	if !l.deps.Worker.TryStart(reconcile.Job{Identity: id, Attempt: attempt}) {
		l.deps.Pending.Push(id)
		l.retries[id.ID] = attempt - 1
		l.playerInit.Request()
		return
	}
	l.logger.Debug("reconciliation started",
		zap.String("player_id", id.ID),
		zap.Int("attempt", attempt),
		zap.Int("pending", l.deps.Pending.Len()),
	)
}

func (l *Loop) broadcast(msg protocol.Message) {
	l.outbox = append(l.outbox, outbound{msg: msg})
}

func (l *Loop) flush() {
	for _, out := range l.outbox {
		data, err := l.deps.Codec.Encode(out.msg)
		if err != nil {
			l.logger.Error("encoding outbound message", zap.String("tag", string(out.msg.Tag)), zap.Error(err))
			continue
		}
		if out.peer != "" {
			if err := l.deps.Transport.Send(out.peer, data); err != nil {
				l.logger.Warn("sending message",
					zap.String("peer_id", string(out.peer)),
					zap.String("tag", string(out.msg.Tag)),
					zap.Error(err),
				)
			}
			continue
		}
		if _, err := transport.Broadcast(l.deps.Transport, data); err != nil {
			l.logger.Warn("broadcast incomplete", zap.String("tag", string(out.msg.Tag)), zap.Error(err))
		}
	}
	l.outbox = l.outbox[:0]
}

// ClientState returns the last state packet received for playerID.
func (l *Loop) ClientState(playerID string) (protocol.AllStates, bool) {
	l.statesMu.RLock()
	defer l.statesMu.RUnlock()
	st, ok := l.states[player.CanonicalID(playerID)]
	return st, ok
}

// Latches returns the reconcile and client-state latches for inspection.
func (l *Loop) Latches() (playerInit, clientState *trigger.Latch) {
	return l.playerInit, l.clientState
}
