package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/storage/memory"
)

func TestStore_InsertAndFetch(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.InsertPlayer(ctx, "abc-123", "alice", "alice@example.com"))
	pairs, err := s.FetchIDEmailPairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "abc-123", *pairs[0].ID)
	assert.Equal(t, "alice@example.com", pairs[0].Email)

	assert.ErrorIs(t, s.InsertPlayer(ctx, "abc-123", "bob", "bob@example.com"), memory.ErrPlayerExists)
}

func TestStore_InsertDetectsUUIDCaseVariants(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, s.InsertPlayer(ctx, id, "alice", "alice@example.com"))
	err := s.InsertPlayer(ctx, "  "+strings.ToUpper(id)+" ", "alice", "alice@example.com")
	assert.ErrorIs(t, err, memory.ErrPlayerExists)
}

func TestStore_UpdatePlayerIDByEmail(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.Seed(nil, "legacy", "legacy@example.com")

	require.NoError(t, s.UpdatePlayerIDByEmail(ctx, "new-id", "legacy@example.com"))
	players := s.Players()
	require.Len(t, players, 1)
	require.NotNil(t, players[0].ID)
	assert.Equal(t, "new-id", *players[0].ID)

	assert.ErrorIs(t, s.UpdatePlayerIDByEmail(ctx, "x", "nobody@example.com"), memory.ErrPlayerNotFound)
}

func TestStore_FailInjection(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	boom := errors.New("connection reset")

	s.Fail(memory.OpFetchPlayers, boom)
	_, err := s.FetchIDEmailPairs(ctx)
	assert.ErrorIs(t, err, boom)

	s.Fail(memory.OpFetchPlayers, nil)
	_, err = s.FetchIDEmailPairs(ctx)
	assert.NoError(t, err)

	s.Fail(memory.OpCountMapSets, boom)
	_, err = s.CountMapSets(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestStore_MapSets(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	early := protocol.MapSet{ID: uuid.New(), Name: "b", Created: time.Unix(200, 0)}
	late := protocol.MapSet{ID: uuid.New(), Name: "a", Created: time.Unix(100, 0)}
	require.NoError(t, s.InsertMapSet(ctx, early))
	require.NoError(t, s.InsertMapSet(ctx, late))
	assert.ErrorIs(t, s.InsertMapSet(ctx, early), memory.ErrMapSetExists)
	assert.Error(t, s.InsertMapSet(ctx, protocol.MapSet{}))

	n, err := s.CountMapSets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sets, err := s.FetchAllMapSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, late.ID, sets[0].ID, "fetch orders by creation time")
	assert.False(t, sets[0].Updated.IsZero(), "zero updated defaults to now")
}

func TestProperty_FetchReturnsEveryInsert(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := memory.New()
		ctx := context.Background()
		ids := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z0-9]{1,12}`), 0, 20, rapid.ID[string]).Draw(t, "ids")
		for _, id := range ids {
			if err := s.InsertPlayer(ctx, id, "u", id+"@example.com"); err != nil {
				t.Fatalf("insert %q: %v", id, err)
			}
		}
		pairs, err := s.FetchIDEmailPairs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(pairs) != len(ids) {
			t.Fatalf("got %d rows, want %d", len(pairs), len(ids))
		}
		for i, p := range pairs {
			if *p.ID != ids[i] {
				t.Fatalf("row %d: got %q, want %q", i, *p.ID, ids[i])
			}
		}
	})
}
