package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/minigolf/internal/protocol"
)

// ErrMapSetExists is returned when inserting a map set id that is already stored.
var ErrMapSetExists = errors.New("map set already exists")

// MapSetRepository provides map-set persistence operations.
type MapSetRepository struct {
	db *pgxpool.Pool
}

// NewMapSetRepository creates a MapSetRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMapSetRepository(db *pgxpool.Pool) *MapSetRepository {
	return &MapSetRepository{db: db}
}

// CountMapSets returns the number of stored map sets.
func (r *MapSetRepository) CountMapSets(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM map_set_table`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting map sets: %w", err)
	}
	return n, nil
}

// FetchAllMapSets returns every map set ordered by creation time.
func (r *MapSetRepository) FetchAllMapSets(ctx context.Context) ([]protocol.MapSet, error) {
	rows, err := r.db.Query(ctx,
		`SELECT map_set_id, map_set_name, created, last_updated,
		        hole_range_start, hole_range_end, level_paths
		 FROM map_set_table ORDER BY created, map_set_id`)
	if err != nil {
		return nil, fmt.Errorf("querying map sets: %w", err)
	}
	defer rows.Close()

	var out []protocol.MapSet
	for rows.Next() {
		var (
			s     protocol.MapSet
			paths []*string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Created, &s.Updated,
			&s.HoleRange.Start, &s.HoleRange.End, &paths); err != nil {
			return nil, fmt.Errorf("scanning map set: %w", err)
		}
		copy(s.LevelPaths[:], paths)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating map sets: %w", err)
	}
	return out, nil
}

// InsertMapSet stores set. Zero timestamps default to now.
//
// Postcondition: returns ErrMapSetExists if set.ID is already stored.
func (r *MapSetRepository) InsertMapSet(ctx context.Context, set protocol.MapSet) error {
	var created, updated any
	if !set.Created.IsZero() {
		created = set.Created
	}
	if !set.Updated.IsZero() {
		updated = set.Updated
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO map_set_table (map_set_id, map_set_name, created, last_updated,
		                            hole_range_start, hole_range_end, level_paths)
		 VALUES ($1, $2, COALESCE($3::timestamptz, NOW()), COALESCE($4::timestamptz, NOW()), $5, $6, $7)`,
		set.ID, set.Name, created, updated,
		set.HoleRange.Start, set.HoleRange.End, set.LevelPaths[:],
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrMapSetExists
		}
		return fmt.Errorf("inserting map set %s: %w", set.ID, err)
	}
	return nil
}
