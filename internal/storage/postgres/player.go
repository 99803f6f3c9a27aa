package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/minigolf/internal/reconcile"
)

// ErrPlayerExists is returned when inserting a player id that is already stored.
var ErrPlayerExists = errors.New("player already exists")

// ErrPlayerNotFound is returned when an update matches no player.
var ErrPlayerNotFound = errors.New("player not found")

// PlayerRepository provides player persistence operations.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// FetchIDEmailPairs returns the id and email of every stored player.
//
// Postcondition: rows with a NULL player_id have a nil ID.
func (r *PlayerRepository) FetchIDEmailPairs(ctx context.Context) ([]reconcile.StoredPlayer, error) {
	rows, err := r.db.Query(ctx, `SELECT player_id, email FROM player_table ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer rows.Close()

	var out []reconcile.StoredPlayer
	for rows.Next() {
		var p reconcile.StoredPlayer
		if err := rows.Scan(&p.ID, &p.Email); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating players: %w", err)
	}
	return out, nil
}

// InsertPlayer stores a new player with created and updated set to now.
//
// Postcondition: returns ErrPlayerExists if id is already stored.
func (r *PlayerRepository) InsertPlayer(ctx context.Context, id, username, email string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO player_table (player_id, username, email, created, updated)
		 VALUES ($1, $2, $3, NOW(), NOW())`,
		id, username, email,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrPlayerExists
		}
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

// UpdatePlayerIDByEmail sets the id of the player owning email.
//
// Postcondition: returns ErrPlayerNotFound if no row has email, or ErrPlayerExists if
// id belongs to another row.
func (r *PlayerRepository) UpdatePlayerIDByEmail(ctx context.Context, id, email string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE player_table SET player_id = $1, updated = NOW() WHERE email = $2`,
		id, email,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrPlayerExists
		}
		return fmt.Errorf("updating player id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
