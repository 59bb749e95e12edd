package stitch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchd/internal/event"
	"stitchd/internal/identity"
	"stitchd/internal/identity/store/memory"
	"stitchd/pkg/platform/sentinel"
)

func newStitcher(t *testing.T, store identity.Store) *Stitcher {
	t.Helper()
	s, err := New(store)
	require.NoError(t, err)
	return s
}

func eventWith(ids identity.Identity) event.Event {
	return event.Event{
		ID:          uuid.New(),
		URI:         "https://example.org/page",
		Identifiers: ids.Normalize(),
		OccurredAt:  time.Now().UTC(),
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestStitch_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestStitch_UnknownUser(t *testing.T) {
	s := newStitcher(t, memory.New())

	_, _, err := s.Stitch(context.Background(), eventWith(identity.Identity{}))

	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestStitch_NoMatchesCreatesIdentity(t *testing.T) {
	store := memory.New()
	s := newStitcher(t, store)

	ev := eventWith(identity.Identity{MCID: []string{"m1"}, DomainUserID: []string{"d1"}})
	ident, resolved, err := s.Stitch(context.Background(), ev)
	require.NoError(t, err)

	assert.NotZero(t, ident.ID)
	assert.Equal(t, ident.ID, resolved.UserID)
	assert.Zero(t, ev.UserID, "input event is not mutated")

	stored, ok := store.Get(ident.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, stored.MCID)
}

func TestStitch_OneMatchMerges(t *testing.T) {
	store := memory.New()
	existing, err := store.Insert(context.Background(), identity.Identity{
		MCID:            []string{"m1"},
		DomainUserID:    []string{"d1"},
		UserFingerprint: []string{"f-old"},
	})
	require.NoError(t, err)

	s := newStitcher(t, store)
	ev := eventWith(identity.Identity{
		DomainUserID:    []string{"d1"},
		MCID:            []string{"m2"},
		UserFingerprint: []string{"f-new"},
	})

	ident, resolved, err := s.Stitch(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, existing.ID, ident.ID)
	assert.Equal(t, existing.ID, resolved.UserID)
	assert.Equal(t, []string{"m1", "m2"}, ident.MCID)
	assert.Equal(t, []string{"f-new", "f-old"}, ident.UserFingerprint)
	assert.Equal(t, 1, store.Len())
}

func TestStitch_FalsePositiveCreatesDistinctIdentity(t *testing.T) {
	store := memory.New()
	authenticated, err := store.Insert(context.Background(), identity.Identity{
		MCID:           []string{"shared-mcid"},
		SSOGUID:        []string{"sso-other"},
		MasterPersonID: []string{"gr-other"},
	})
	require.NoError(t, err)

	s := newStitcher(t, store)
	ev := eventWith(identity.Identity{MCID: []string{"shared-mcid"}})

	ident, _, err := s.Stitch(context.Background(), ev)
	require.NoError(t, err)

	assert.NotEqual(t, authenticated.ID, ident.ID)
	assert.Empty(t, ident.MasterPersonID)

	// The authenticated identity is untouched.
	stored, ok := store.Get(authenticated.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"gr-other"}, stored.MasterPersonID)
}

func TestStitch_MultiMatchConvergesOnLowestID(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	byMaster, err := store.Insert(ctx, identity.Identity{
		MCID: []string{"m-a"}, MasterPersonID: []string{"gr1"},
	})
	require.NoError(t, err)
	_, err = store.Insert(ctx, identity.Identity{MCID: []string{"m-event", "m-b"}})
	require.NoError(t, err)
	_, err = store.Insert(ctx, identity.Identity{
		MCID: []string{"m-c"}, SSOGUID: []string{"sso1"},
	})
	require.NoError(t, err)

	s := newStitcher(t, store)
	ev := eventWith(identity.Identity{
		MCID:           []string{"m-event"},
		SSOGUID:        []string{"sso1"},
		MasterPersonID: []string{"gr1"},
	})

	ident, resolved, err := s.Stitch(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, byMaster.ID, ident.ID)
	assert.Equal(t, byMaster.ID, resolved.UserID)
	assert.Equal(t, []string{"m-a", "m-b", "m-c", "m-event"}, ident.MCID)
	// Absorbed records are gone; only the survivor remains.
	assert.Equal(t, 1, store.Len())
}

func TestStitch_AmbiguousCreatesNewIdentity(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a, err := store.Insert(ctx, identity.Identity{
		DomainUserID: []string{"1234567890"}, SSOGUID: []string{"sso-a"},
	})
	require.NoError(t, err)
	b, err := store.Insert(ctx, identity.Identity{
		DomainUserID: []string{"1234567890"}, SSOGUID: []string{"sso-b"},
	})
	require.NoError(t, err)

	s := newStitcher(t, store)
	ev := eventWith(identity.Identity{DomainUserID: []string{"1234567890"}})

	ident, _, err := s.Stitch(ctx, ev)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, ident.ID)
	assert.NotEqual(t, b.ID, ident.ID)
	assert.Equal(t, 3, store.Len(), "both existing identities survive unmerged")
}

func TestStitch_Commutative(t *testing.T) {
	// Stitching E1 then E2 into the same identity yields the same final
	// sets as E2 then E1.
	e1 := identity.Identity{DomainUserID: []string{"d"}, MCID: []string{"m1"}}
	e2 := identity.Identity{DomainUserID: []string{"d"}, MCID: []string{"m2"}}

	run := func(first, second identity.Identity) identity.Identity {
		store := memory.New()
		s := newStitcher(t, store)
		ctx := context.Background()

		_, _, err := s.Stitch(ctx, eventWith(first))
		require.NoError(t, err)
		ident, _, err := s.Stitch(ctx, eventWith(second))
		require.NoError(t, err)
		return identity.Identity{MCID: ident.MCID, DomainUserID: ident.DomainUserID}
	}

	assert.Equal(t, run(e1, e2), run(e2, e1))
}

func TestStitch_Idempotent(t *testing.T) {
	store := memory.New()
	s := newStitcher(t, store)
	ctx := context.Background()

	ids := identity.Identity{DomainUserID: []string{"d"}, MCID: []string{"m1"}}
	first, _, err := s.Stitch(ctx, eventWith(ids))
	require.NoError(t, err)
	second, _, err := s.Stitch(ctx, eventWith(ids))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.MCID, second.MCID)
	assert.Equal(t, first.DomainUserID, second.DomainUserID)
}

func TestStitch_WithRetryRecoversFromConflict(t *testing.T) {
	store := memory.New()
	store.FailNext(sentinel.ErrTransientConflict, sentinel.ErrTransientConflict)

	s := newStitcher(t, store)
	policy := RetryPolicy{Retries: 3, MinBackoff: time.Millisecond}

	var ident identity.Identity
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		var err error
		ident, _, err = s.Stitch(ctx, eventWith(identity.Identity{MCID: []string{"m"}}))
		return err
	})

	require.NoError(t, err)
	assert.NotZero(t, ident.ID)
}
