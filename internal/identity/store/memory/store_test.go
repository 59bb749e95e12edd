package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchd/internal/identity"
	"stitchd/pkg/platform/sentinel"
)

func TestStore_InsertAssignsSerialIDs(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.Insert(ctx, identity.Identity{MCID: []string{"a"}})
	require.NoError(t, err)
	second, err := store.Insert(ctx, identity.Identity{MCID: []string{"b"}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestStore_FindIntersecting(t *testing.T) {
	store := New()
	ctx := context.Background()

	a, err := store.Insert(ctx, identity.Identity{MCID: []string{"m1"}})
	require.NoError(t, err)
	b, err := store.Insert(ctx, identity.Identity{SSOGUID: []string{"s1"}})
	require.NoError(t, err)
	_, err = store.Insert(ctx, identity.Identity{DomainUserID: []string{"unrelated"}})
	require.NoError(t, err)

	probe := identity.Identity{MCID: []string{"m1"}, SSOGUID: []string{"s1"}}
	matches, err := store.FindIntersecting(ctx, probe)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	// Ascending id order is part of the contract.
	assert.Equal(t, a.ID, matches[0].ID)
	assert.Equal(t, b.ID, matches[1].ID)
}

func TestStore_MergeUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()

	survivor, err := store.Insert(ctx, identity.Identity{MCID: []string{"m1"}})
	require.NoError(t, err)
	absorbed, err := store.Insert(ctx, identity.Identity{MCID: []string{"m2"}})
	require.NoError(t, err)

	sets := identity.Identity{MCID: []string{"m1", "m2", "m3"}}
	merged, err := store.MergeUpdate(ctx, survivor.ID, sets, []int64{absorbed.ID})
	require.NoError(t, err)

	assert.Equal(t, survivor.ID, merged.ID)
	assert.Equal(t, []string{"m1", "m2", "m3"}, merged.MCID)

	_, ok := store.Get(absorbed.ID)
	assert.False(t, ok, "absorbed identity should be removed")
}

func TestStore_MergeUpdate_UnknownSurvivor(t *testing.T) {
	store := New()

	_, err := store.MergeUpdate(context.Background(), 42, identity.Identity{}, nil)

	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStore_FailNext(t *testing.T) {
	store := New()
	ctx := context.Background()
	scripted := errors.New("boom")
	store.FailNext(scripted)

	_, err := store.Insert(ctx, identity.Identity{MCID: []string{"m"}})
	assert.ErrorIs(t, err, scripted)

	// Script consumed; next call succeeds.
	_, err = store.Insert(ctx, identity.Identity{MCID: []string{"m"}})
	assert.NoError(t, err)
}
