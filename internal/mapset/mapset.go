// Package mapset manages the persisted catalog of map sets: first-boot seeding, YAML
// seed definitions, and the summary broadcast to clients.
package mapset

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/minigolf/internal/protocol"
)

// Store is the persistence surface for map sets.
type Store interface {
	CountMapSets(ctx context.Context) (int, error)
	FetchAllMapSets(ctx context.Context) ([]protocol.MapSet, error)
	InsertMapSet(ctx context.Context, set protocol.MapSet) error
}

// Definition describes a map set to seed.
type Definition struct {
	Name       string   `yaml:"name"`
	HoleStart  int      `yaml:"hole_start"`
	HoleEnd    int      `yaml:"hole_end"`
	LevelPaths []string `yaml:"level_paths"`
}

type definitionFile struct {
	MapSets []Definition `yaml:"map_sets"`
}

// Validate checks the hole range and the level path count.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("map set name must not be empty")
	}
	if d.HoleStart < 1 || d.HoleEnd > protocol.LevelCount || d.HoleStart > d.HoleEnd {
		return fmt.Errorf("map set %q: hole range %d-%d outside 1-%d", d.Name, d.HoleStart, d.HoleEnd, protocol.LevelCount)
	}
	if len(d.LevelPaths) > protocol.LevelCount {
		return fmt.Errorf("map set %q: %d level paths, max %d", d.Name, len(d.LevelPaths), protocol.LevelCount)
	}
	return nil
}

func levelPath(n int) string {
	return fmt.Sprintf("glb/map/level_%d.glb", n)
}

func standard(name string, start, end int) Definition {
	paths := make([]string, protocol.LevelCount)
	for n := start; n <= end; n++ {
		paths[n-1] = levelPath(n)
	}
	return Definition{Name: name, HoleStart: start, HoleEnd: end, LevelPaths: paths}
}

// Standard returns the built-in map sets seeded on first boot.
func Standard() []Definition {
	return []Definition{
		standard("Standard Maps: Whole Course", 1, 18),
		standard("Standard Maps: Front Nine", 1, 9),
		standard("Standard Maps: Back Nine", 10, 18),
	}
}

// LoadDefinitions reads seed definitions from a YAML file with a top-level map_sets list.
//
// Postcondition: every returned definition passes Validate.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map set definitions: %w", err)
	}
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing map set definitions %s: %w", path, err)
	}
	if len(f.MapSets) == 0 {
		return nil, fmt.Errorf("map set definitions %s: no map_sets", path)
	}
	for _, d := range f.MapSets {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return f.MapSets, nil
}

// Build turns d into a MapSet with a fresh time-ordered id. Empty paths become nil
// level slots.
func Build(d Definition, now time.Time) (protocol.MapSet, error) {
	if err := d.Validate(); err != nil {
		return protocol.MapSet{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return protocol.MapSet{}, fmt.Errorf("generating map set id: %w", err)
	}
	set := protocol.MapSet{
		ID:        id,
		Name:      d.Name,
		Created:   now,
		Updated:   now,
		HoleRange: protocol.HoleRange{Start: d.HoleStart, End: d.HoleEnd},
	}
	for i, p := range d.LevelPaths {
		if p == "" {
			continue
		}
		path := p
		set.LevelPaths[i] = &path
	}
	return set, nil
}

// Seed inserts defs when the store holds no map sets. It returns the number of sets
// inserted. Individual insert failures are logged and skipped.
func Seed(ctx context.Context, store Store, defs []Definition, logger *zap.Logger) (int, error) {
	count, err := store.CountMapSets(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting map sets: %w", err)
	}
	if count > 0 {
		logger.Debug("map sets present, skipping seed", zap.Int("count", count))
		return 0, nil
	}

	inserted := 0
	for _, d := range defs {
		set, err := Build(d, time.Now().UTC())
		if err != nil {
			logger.Error("building map set", zap.String("name", d.Name), zap.Error(err))
			continue
		}
		if err := store.InsertMapSet(ctx, set); err != nil {
			logger.Error("inserting map set",
				zap.String("map_set_id", set.ID.String()),
				zap.String("name", set.Name),
				zap.Error(err),
			)
			continue
		}
		logger.Info("inserted map set",
			zap.String("map_set_id", set.ID.String()),
			zap.String("name", set.Name),
		)
		inserted++
	}
	return inserted, nil
}

// Summarize projects sets onto the (id, last updated) pairs clients use to validate
// their cached catalog.
func Summarize(sets []protocol.MapSet) []protocol.MapSetStamp {
	stamps := make([]protocol.MapSetStamp, len(sets))
	for i, s := range sets {
		stamps[i] = protocol.MapSetStamp{ID: s.ID, LastUpdated: s.Updated}
	}
	return stamps
}
