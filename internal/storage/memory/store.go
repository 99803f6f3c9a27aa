// Package memory provides an in-process implementation of the player and map-set
// stores, used by the development server and by tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/minigolf/internal/mapset"
	"github.com/cory-johannsen/minigolf/internal/player"
	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/reconcile"
)

// ErrPlayerExists mirrors the unique-id constraint of the SQL schema.
var ErrPlayerExists = errors.New("player already exists")

// ErrPlayerNotFound is returned when an update matches no row.
var ErrPlayerNotFound = errors.New("player not found")

// ErrMapSetExists mirrors the map_set_id primary key.
var ErrMapSetExists = errors.New("map set already exists")

// Op names a store operation for failure injection.
type Op string

const (
	OpFetchPlayers Op = "fetch_players"
	OpInsertPlayer Op = "insert_player"
	OpUpdatePlayer Op = "update_player"
	OpCountMapSets Op = "count_map_sets"
	OpFetchMapSets Op = "fetch_map_sets"
	OpInsertMapSet Op = "insert_map_set"
)

// Player is a stored player row.
type Player struct {
	ID       *string
	Username string
	Email    string
	Created  time.Time
	Updated  time.Time
}

// Store is an in-memory player and map-set store.
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	players  []Player
	mapSets  []protocol.MapSet
	failures map[Op]error
	now      func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		failures: make(map[Op]error),
		now:      time.Now,
	}
}

// Ensure Store implements the store interfaces
var (
	_ reconcile.Store = (*Store)(nil)
	_ mapset.Store    = (*Store)(nil)
)

// Fail makes every subsequent call of op return err; a nil err clears the failure.
func (s *Store) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Seed adds a player row directly. A nil id stores a row without an id.
func (s *Store) Seed(id *string, username, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.players = append(s.players, Player{ID: id, Username: username, Email: email, Created: now, Updated: now})
}

// Players returns a copy of all player rows in insertion order.
func (s *Store) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, len(s.players))
	copy(out, s.players)
	return out
}

// Player operations

// FetchIDEmailPairs returns the id and email of every stored player.
func (s *Store) FetchIDEmailPairs(ctx context.Context) ([]reconcile.StoredPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpFetchPlayers]; err != nil {
		return nil, err
	}
	out := make([]reconcile.StoredPlayer, len(s.players))
	for i, p := range s.players {
		out[i] = reconcile.StoredPlayer{ID: p.ID, Email: p.Email}
	}
	return out, nil
}

// InsertPlayer adds a player row, returning ErrPlayerExists when the id is taken.
func (s *Store) InsertPlayer(ctx context.Context, id, username, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpInsertPlayer]; err != nil {
		return err
	}
	for _, p := range s.players {
		if p.ID != nil && player.SameID(*p.ID, id) {
			return ErrPlayerExists
		}
	}
	now := s.now()
	s.players = append(s.players, Player{ID: &id, Username: username, Email: email, Created: now, Updated: now})
	return nil
}

// UpdatePlayerIDByEmail rewrites the id of the player with email, returning
// ErrPlayerNotFound when no row matches.
func (s *Store) UpdatePlayerIDByEmail(ctx context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpUpdatePlayer]; err != nil {
		return err
	}
	updated := false
	for i := range s.players {
		if s.players[i].Email == email {
			newID := id
			s.players[i].ID = &newID
			s.players[i].Updated = s.now()
			updated = true
		}
	}
	if !updated {
		return ErrPlayerNotFound
	}
	return nil
}

// Map-set operations

// CountMapSets returns the number of stored map sets.
func (s *Store) CountMapSets(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpCountMapSets]; err != nil {
		return 0, err
	}
	return len(s.mapSets), nil
}

// FetchAllMapSets returns a copy of every stored map set, oldest first.
func (s *Store) FetchAllMapSets(ctx context.Context) ([]protocol.MapSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpFetchMapSets]; err != nil {
		return nil, err
	}
	out := make([]protocol.MapSet, len(s.mapSets))
	copy(out, s.mapSets)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// InsertMapSet adds a map set, returning ErrMapSetExists on a duplicate id.
func (s *Store) InsertMapSet(ctx context.Context, set protocol.MapSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpInsertMapSet]; err != nil {
		return err
	}
	if set.ID == uuid.Nil {
		return errors.New("map set id must not be nil")
	}
	for _, existing := range s.mapSets {
		if existing.ID == set.ID {
			return ErrMapSetExists
		}
	}
	now := s.now()
	if set.Created.IsZero() {
		set.Created = now
	}
	if set.Updated.IsZero() {
		set.Updated = now
	}
	s.mapSets = append(s.mapSets, set)
	return nil
}
