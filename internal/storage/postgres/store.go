package postgres

import (
	"github.com/cory-johannsen/minigolf/internal/mapset"
	"github.com/cory-johannsen/minigolf/internal/reconcile"
)

// Store combines the player and map-set repositories behind one value.
type Store struct {
	*PlayerRepository
	*MapSetRepository
}

// Ensure Store implements the store interfaces
var (
	_ reconcile.Store = (*Store)(nil)
	_ mapset.Store    = (*Store)(nil)
)

// NewStore creates a Store over pool.
//
// Precondition: pool must be connected.
func NewStore(pool *Pool) *Store {
	return &Store{
		PlayerRepository: NewPlayerRepository(pool.DB()),
		MapSetRepository: NewMapSetRepository(pool.DB()),
	}
}
