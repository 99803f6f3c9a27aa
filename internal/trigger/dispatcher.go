package trigger

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/protocol"
)

// Sink accepts a message for broadcast to every connected peer.
type Sink func(msg protocol.Message)

// Dispatcher queues the trigger under the catalog cursor for broadcast.
type Dispatcher struct {
	catalog *Catalog
	sink    Sink
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: all arguments must be non-nil.
func NewDispatcher(catalog *Catalog, sink Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{catalog: catalog, sink: sink, logger: logger}
}

// Dispatch queues "(playerID, RunTrigger(<current>))" on the sink. The embedded player
// id selects which client acts on it; delivery is a broadcast.
//
// Postcondition: returns the name of the queued trigger.
func (d *Dispatcher) Dispatch(playerID string) string {
	name := d.catalog.Current()
	d.sink(protocol.RunTrigger(playerID, name))
	d.logger.Info("dispatched trigger",
		zap.String("trigger", name),
		zap.Int("trigger_idx", d.catalog.Index()),
		zap.String("player_id", playerID),
	)
	return name
}
