// Package reconcile resolves identities presented by clients against the persistent
// player store.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/player"
)

// StoredPlayer is the (id, email) projection of a persisted player. ID is nil when the
// row has no id.
type StoredPlayer struct {
	ID    *string
	Email string
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	// FetchIDEmailPairs returns the id and email of every persisted player.
	FetchIDEmailPairs(ctx context.Context) ([]StoredPlayer, error)
	// InsertPlayer persists a new player with created/updated set to now.
	InsertPlayer(ctx context.Context, id, username, email string) error
	// UpdatePlayerIDByEmail rewrites the id of the player owning email.
	UpdatePlayerIDByEmail(ctx context.Context, id, email string) error
}

// EmailMatchPolicy decides what happens when the email is known but the id is not.
type EmailMatchPolicy string

const (
	// PolicySync leaves the store untouched and tells the client to adopt the stored id.
	PolicySync EmailMatchPolicy = "sync"
	// PolicyAdopt rewrites the stored id to the one the client sent.
	PolicyAdopt EmailMatchPolicy = "adopt"
)

// Valid reports whether p is a known policy.
func (p EmailMatchPolicy) Valid() bool {
	return p == PolicySync || p == PolicyAdopt
}

// Outcome classifies a reconciliation.
type Outcome int

const (
	// OutcomeExists means the id is already persisted.
	OutcomeExists Outcome = iota
	// OutcomeSynced means the email matched another id and a sync event was emitted.
	OutcomeSynced
	// OutcomeAdopted means the email matched and the stored id was replaced.
	OutcomeAdopted
	// OutcomeInserted means a new player row was written.
	OutcomeInserted
	// OutcomeFetchFailed means the store could not be read; nothing was evaluated.
	OutcomeFetchFailed
	// OutcomeFailed means evaluation finished but the write or sync could not happen.
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeExists:      "exists",
	OutcomeSynced:      "synced",
	OutcomeAdopted:     "adopted",
	OutcomeInserted:    "inserted",
	OutcomeFetchFailed: "fetch_failed",
	OutcomeFailed:      "failed",
}

// String returns the outcome's log name.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// SyncPlayerIDEvent asks the client that sent PlayerIDClient to adopt PlayerIDHost.
type SyncPlayerIDEvent struct {
	PlayerIDHost   string
	PlayerIDClient string
}

// Result reports one reconciliation back to the control loop.
type Result struct {
	Identity player.Identity
	Outcome  Outcome
	// Sync is set only for OutcomeSynced.
	Sync *SyncPlayerIDEvent
	Err  error
	// Attempt is the 1-based attempt number of this identity.
	Attempt  int
	Duration time.Duration
}

// Pipeline converges a presented identity with the persisted players.
type Pipeline struct {
	store  Store
	policy EmailMatchPolicy
	logger *zap.Logger
}

// NewPipeline creates a Pipeline.
//
// Precondition: store and logger must be non-nil; policy must be valid.
func NewPipeline(store Store, policy EmailMatchPolicy, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: store, policy: policy, logger: logger}
}

// Reconcile runs the fetch → id match → email match → insert sequence for id.
//
// Postcondition: the store is mutated at most once; a sync event is returned only
// for OutcomeSynced. Errors are logged and reported in the Result, never retried here.
func (p *Pipeline) Reconcile(ctx context.Context, id player.Identity) Result {
	start := time.Now()
	res := p.reconcile(ctx, id)
	res.Identity = id
	res.Duration = time.Since(start)
	return res
}

func (p *Pipeline) reconcile(ctx context.Context, id player.Identity) Result {
	log := p.logger.With(zap.String("player_id", id.ID), zap.String("email", id.Email))

	stored, err := p.store.FetchIDEmailPairs(ctx)
	if err != nil {
		log.Error("fetching player ids and emails", zap.Error(err))
		return Result{Outcome: OutcomeFetchFailed, Err: fmt.Errorf("fetching players: %w", err)}
	}

	for _, s := range stored {
		if s.ID != nil && player.SameID(*s.ID, id.ID) {
			log.Debug("player exists")
			return Result{Outcome: OutcomeExists}
		}
	}

	for _, s := range stored {
		if s.Email != id.Email {
			continue
		}
		return p.emailMatch(ctx, log, id, s)
	}

	if err := p.store.InsertPlayer(ctx, id.ID, id.Username, id.Email); err != nil {
		log.Error("inserting new player", zap.String("username", id.Username), zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("inserting player %s: %w", id.ID, err)}
	}
	log.Info("inserted new player")
	return Result{Outcome: OutcomeInserted}
}

func (p *Pipeline) emailMatch(ctx context.Context, log *zap.Logger, id player.Identity, s StoredPlayer) Result {
	if p.policy == PolicyAdopt {
		if err := p.store.UpdatePlayerIDByEmail(ctx, id.ID, id.Email); err != nil {
			log.Error("updating player id by email", zap.Error(err))
			return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("updating player id for %s: %w", id.Email, err)}
		}
		log.Info("stored player id replaced by client id")
		return Result{Outcome: OutcomeAdopted}
	}

	if s.ID == nil {
		log.Error("stored player matching email has no id")
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("stored player %s has no id", id.Email)}
	}
	host := player.CanonicalID(*s.ID)
	log.Info("email matches existing player, syncing client id", zap.String("player_id_host", host))
	return Result{
		Outcome: OutcomeSynced,
		Sync:    &SyncPlayerIDEvent{PlayerIDHost: host, PlayerIDClient: id.ID},
	}
}
