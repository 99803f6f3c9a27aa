// Package trigger holds the operator-facing trigger catalog, its cursor, the one-shot
// latches driving the host loop, and the dispatcher that queues the selected trigger.
package trigger

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when a catalog would have no triggers.
var ErrEmptyCatalog = errors.New("trigger catalog is empty")

var defaultNames = []string{
	"camera_handler_cycle_state_camera",
	"game_handler_game_start",
	"game_handler_game_state_change_routines",
	"game_handler_update_players_ref_ball_locations",
	"game_handler_update_players_reset_ref_ball_locations",
	"game_handler_update_players_store_current_ball_locations_to_ref",
	"leader_board_log_game",
	"leader_board_review_last_game",
	"level_handler_set_state_next_level",
	"level_handler_set_state_next_map_set",
	"network_get_client_state_game",
	"party_handler_active_player_add_bonk",
	"party_handler_active_player_set_ball_location",
	"party_handler_active_player_set_hole_completion_state_true",
	"party_handler_cycle_active_player",
	"party_handler_new_player_ai",
	"party_handler_new_player_local",
	"party_handler_new_player_remote",
	"party_handler_remove_ai",
	"party_handler_remove_last_player",
	"turn_handler_set_turn_next",
}

// DefaultNames returns a copy of the built-in trigger list.
func DefaultNames() []string {
	out := make([]string, len(defaultNames))
	copy(out, defaultNames)
	return out
}

// Catalog is an ordered, fixed list of trigger names with a wrapping cursor.
//
// A Catalog is owned by the host loop and is not safe for concurrent use.
type Catalog struct {
	names []string
	idx   int
}

// NewCatalog builds a catalog from names. Names are trimmed; blank names are rejected.
//
// Postcondition: the cursor is at index 0.
func NewCatalog(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return nil, ErrEmptyCatalog
	}
	trimmed := make([]string, len(names))
	for i, n := range names {
		trimmed[i] = strings.TrimSpace(n)
		if trimmed[i] == "" {
			return nil, fmt.Errorf("trigger %d has an empty name", i)
		}
	}
	return &Catalog{names: trimmed}, nil
}

type catalogFile struct {
	Triggers []string `yaml:"triggers"`
}

// LoadCatalog reads a YAML file with a top-level triggers list.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trigger catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing trigger catalog %s: %w", path, err)
	}
	c, err := NewCatalog(f.Triggers)
	if err != nil {
		return nil, fmt.Errorf("trigger catalog %s: %w", path, err)
	}
	return c, nil
}

// Len returns the number of triggers.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Names returns a copy of the trigger names in order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Index returns the cursor position.
func (c *Catalog) Index() int {
	return c.idx
}

// SetIndex moves the cursor to i modulo the catalog length. Negative values count back
// from the end.
func (c *Catalog) SetIndex(i int) {
	n := len(c.names)
	c.idx = ((i % n) + n) % n
}

// Current returns the name under the cursor.
func (c *Catalog) Current() string {
	return c.names[c.idx]
}

// Advance moves the cursor forward, wrapping from the last index to 0.
func (c *Catalog) Advance() {
	c.SetIndex(c.idx + 1)
}

// Retreat moves the cursor back, wrapping from 0 to the last index.
func (c *Catalog) Retreat() {
	c.SetIndex(c.idx - 1)
}
