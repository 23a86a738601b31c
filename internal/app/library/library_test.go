package library

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/catalog/catalogtest"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

func testTrack(id string) track.Track {
	return track.Track{ID: id, Title: "Title " + id, AudioURL: "https://storage.test/audio/" + id + ".mp3", Duration: time.Minute}
}

func newTestReconciler(t *testing.T, rollback bool) (*Reconciler, *Store, *catalogtest.Gateway) {
	t.Helper()
	store := NewStore(0)
	gw := catalogtest.New()
	r := NewReconciler(store, gw, ReconcilerConfig{RollbackOnFailure: rollback, Timeout: time.Second})
	t.Cleanup(r.Close)
	return r, store, gw
}

func ops(calls []catalogtest.Call) []catalog.Op {
	out := make([]catalog.Op, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Op)
	}
	return out
}

func TestStore_LikeDerivedOnRead(t *testing.T) {
	s := NewStore(0)
	s.SetView(ViewTrending, []track.Track{testTrack("a"), testTrack("b")})

	// liked songs arriving after trending still mark the trending entry
	liked := testTrack("b")
	liked.IsLiked = true
	s.SetLikedSongs([]track.Track{liked})

	view := s.View(ViewTrending)
	require.Len(t, view, 2)
	assert.False(t, view[0].IsLiked)
	assert.True(t, view[1].IsLiked)

	// the like flag of stored values is ignored
	stale := testTrack("a")
	stale.IsLiked = true
	s.Put(stale)
	got, ok := s.Track("a")
	require.True(t, ok)
	assert.False(t, got.IsLiked)
}

func TestStore_PushRecent(t *testing.T) {
	s := NewStore(3)
	for _, id := range []string{"a", "b", "c", "b", "d"} {
		s.PushRecent(id)
	}
	assert.Equal(t, []string{"d", "b", "c"}, s.ViewIDs(ViewRecentlyPlayed))
}

func TestStore_PushRecentDefaultCap(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 30; i++ {
		s.PushRecent(fmt.Sprintf("t%d", i))
	}
	ids := s.ViewIDs(ViewRecentlyPlayed)
	assert.Len(t, ids, DefaultRecentLimit)
	assert.Equal(t, "t29", ids[0])
}

func TestStore_Playlists(t *testing.T) {
	s := NewStore(0)
	s.SetPlaylists([]playlist.Playlist{{ID: "p1", TrackIDs: []string{"a"}}}, []track.Track{testTrack("a")})

	added, err := s.AddToPlaylist("p1", "b")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddToPlaylist("p1", "b")
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := s.RemoveFromPlaylist("p1", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.AddToPlaylist("nope", "a")
	assert.ErrorIs(t, err, ErrUnknownPlaylist)

	p, ok := s.Playlist("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, p.TrackIDs)

	s.PutPlaylist(playlist.Playlist{ID: "p2"})
	pls := s.Playlists()
	require.Len(t, pls, 2)
	assert.Equal(t, "p2", pls[1].ID)
}

func TestReconciler_ToggleLikeFanOut(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)

	x := testTrack("x")
	store.SetView(ViewTrending, []track.Track{x, testTrack("y")})
	store.SetView(ViewNewReleases, []track.Track{x})
	store.SetPlaylists([]playlist.Playlist{{ID: "p1", TrackIDs: []string{"y", "x"}}}, nil)

	liked, err := r.ToggleLike(context.Background(), "u1", "x")
	require.NoError(t, err)
	assert.True(t, liked)

	// every view sees the change immediately
	got, _ := store.Track("x")
	assert.True(t, got.IsLiked)
	assert.True(t, store.View(ViewTrending)[0].IsLiked)
	assert.False(t, store.View(ViewTrending)[1].IsLiked)
	assert.True(t, store.View(ViewNewReleases)[0].IsLiked)
	assert.True(t, store.PlaylistTracks("p1")[1].IsLiked)
	assert.Equal(t, []string{"x"}, store.ViewIDs(ViewLikedSongs))

	r.Wait()
	calls := gw.Calls("MutateLike")
	require.Len(t, calls, 1)
	assert.Equal(t, catalogtest.Call{Method: "MutateLike", Subject: "u1", TrackID: "x", Op: catalog.OpAdd}, calls[0])
	assert.NoError(t, r.Err())
}

func TestReconciler_RapidToggleIsOrdered(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)
	store.Put(testTrack("x"))
	gw.Block("MutateLike")

	liked, err := r.ToggleLike(context.Background(), "u1", "x")
	require.NoError(t, err)
	require.True(t, liked)

	// the add is in flight
	require.Eventually(t, func() bool { return len(gw.Calls("MutateLike")) == 1 }, time.Second, 5*time.Millisecond)

	liked, err = r.ToggleLike(context.Background(), "u1", "x")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.False(t, store.IsLiked("x"))

	gw.Unblock("MutateLike")
	r.Wait()

	assert.Equal(t, []catalog.Op{catalog.OpAdd, catalog.OpRemove}, ops(gw.Calls("MutateLike")))
	assert.False(t, store.IsLiked("x"))
	assert.Empty(t, store.ViewIDs(ViewLikedSongs))
}

func TestReconciler_ManyTogglesNeverRepeatAnOp(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)
	store.Put(testTrack("x"))

	for i := 0; i < 25; i++ {
		_, err := r.ToggleLike(context.Background(), "u1", "x")
		require.NoError(t, err)
	}
	r.Wait()

	got := ops(gw.Calls("MutateLike"))
	require.NotEmpty(t, got)
	assert.Equal(t, catalog.OpAdd, got[0])
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1], got[i], "consecutive %s at %d", got[i], i)
	}
	// odd number of toggles: the catalog ends liked
	assert.Equal(t, catalog.OpAdd, got[len(got)-1])
	assert.True(t, store.IsLiked("x"))
}

func TestReconciler_Rollback(t *testing.T) {
	tests := []struct {
		name      string
		rollback  bool
		wantLiked bool
	}{
		{name: "rollback enabled", rollback: true, wantLiked: false},
		{name: "rollback disabled", rollback: false, wantLiked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, gw := newTestReconciler(t, tt.rollback)
			store.Put(testTrack("x"))
			gw.SetErr("MutateLike", errors.New("network down"))

			changed := make(chan struct{}, 1)
			r.OnChange(func() { changed <- struct{}{} })

			liked, err := r.ToggleLike(context.Background(), "u1", "x")
			require.NoError(t, err)
			assert.True(t, liked)

			r.Wait()
			assert.Equal(t, tt.wantLiked, store.IsLiked("x"))
			assert.Error(t, r.Err())
			assert.Len(t, changed, 1)
			assert.Len(t, gw.Calls("MutateLike"), 1)

			r.ClearErr()
			assert.NoError(t, r.Err())
		})
	}
}

func TestReconciler_FailedSyncRemembersCatalogState(t *testing.T) {
	r, store, gw := newTestReconciler(t, false)
	store.Put(testTrack("x"))
	gw.SetErr("MutateLike", errors.New("network down"))
	ctx := context.Background()

	liked, err := r.ToggleLike(ctx, "u1", "x")
	require.NoError(t, err)
	require.True(t, liked)
	r.Wait()
	require.Error(t, r.Err())

	gw.SetErr("MutateLike", nil)

	// the insert never reached the catalog, so unliking needs no delete
	liked, err = r.ToggleLike(ctx, "u1", "x")
	require.NoError(t, err)
	require.False(t, liked)
	r.Wait()
	assert.Equal(t, []catalog.Op{catalog.OpAdd}, ops(gw.Calls("MutateLike")))

	liked, err = r.ToggleLike(ctx, "u1", "x")
	require.NoError(t, err)
	require.True(t, liked)
	r.Wait()
	assert.Equal(t, []catalog.Op{catalog.OpAdd, catalog.OpAdd}, ops(gw.Calls("MutateLike")))
	assert.True(t, store.IsLiked("x"))
}

func TestStore_SetLikedSongsKeepsPendingLikes(t *testing.T) {
	s := NewStore(0)
	s.SetView(ViewTrending, []track.Track{testTrack("a"), testTrack("b")})
	s.SetLikedSongs([]track.Track{testTrack("b")})

	liked, err := s.ToggleLike("a")
	require.NoError(t, err)
	require.True(t, liked)
	liked, err = s.ToggleLike("b")
	require.NoError(t, err)
	require.False(t, liked)

	// a refresh that has not seen either change
	s.SetLikedSongs([]track.Track{testTrack("b")})
	assert.Equal(t, []string{"a"}, s.ViewIDs(ViewLikedSongs))

	s.SettleLike("a")
	s.RevertLike("b", true)
	s.SetLikedSongs([]track.Track{testTrack("b")})
	assert.Equal(t, []string{"b"}, s.ViewIDs(ViewLikedSongs))
}

func TestReconciler_RollbackSkippedWhenSuperseded(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)
	store.Put(testTrack("x"))
	gw.Block("MutateLike")
	gw.SetErr("MutateLike", errors.New("network down"))

	_, err := r.ToggleLike(context.Background(), "u1", "x")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(gw.Calls("MutateLike")) == 1 }, time.Second, 5*time.Millisecond)

	// a newer toggle back to the confirmed state wins over the failed add
	_, err = r.ToggleLike(context.Background(), "u1", "x")
	require.NoError(t, err)

	gw.Unblock("MutateLike")
	r.Wait()

	assert.False(t, store.IsLiked("x"))
	assert.Len(t, gw.Calls("MutateLike"), 1)
}

func TestReconciler_ToggleLikeErrors(t *testing.T) {
	r, store, _ := newTestReconciler(t, true)
	store.Put(testTrack("x"))

	_, err := r.ToggleLike(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = r.ToggleLike(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestReconciler_PlaylistMembership(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)
	store.SetPlaylists([]playlist.Playlist{{ID: "p1", TrackIDs: []string{}}}, nil)
	ctx := context.Background()

	added, err := r.AddToPlaylist(ctx, "p1", testTrack("x"))
	require.NoError(t, err)
	assert.True(t, added)

	// already a member: no change, no remote call
	added, err = r.AddToPlaylist(ctx, "p1", testTrack("x"))
	require.NoError(t, err)
	assert.False(t, added)
	r.Wait()
	assert.Len(t, gw.Calls("MutatePlaylistTrack"), 1)

	removed, err := r.RemoveFromPlaylist(ctx, "p1", "x")
	require.NoError(t, err)
	assert.True(t, removed)
	r.Wait()

	assert.Equal(t, []catalog.Op{catalog.OpAdd, catalog.OpRemove}, ops(gw.Calls("MutatePlaylistTrack")))
	p, _ := store.Playlist("p1")
	assert.Empty(t, p.TrackIDs)

	_, err = r.AddToPlaylist(ctx, "nope", testTrack("x"))
	assert.ErrorIs(t, err, ErrUnknownPlaylist)
}

func TestReconciler_PlaylistAddRollback(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)
	store.SetPlaylists([]playlist.Playlist{{ID: "p1", TrackIDs: []string{"a"}}}, []track.Track{testTrack("a")})
	gw.SetErr("MutatePlaylistTrack", errors.New("forbidden"))

	added, err := r.AddToPlaylist(context.Background(), "p1", testTrack("x"))
	require.NoError(t, err)
	require.True(t, added)
	r.Wait()

	p, _ := store.Playlist("p1")
	assert.Equal(t, []string{"a"}, p.TrackIDs)
	assert.Error(t, r.Err())
}

func TestReconciler_CreatePlaylist(t *testing.T) {
	r, store, gw := newTestReconciler(t, true)

	p, err := r.CreatePlaylist(context.Background(), "u1", "Road trip", "long drives")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "u1", p.OwnerID)

	got, ok := store.Playlist(p.ID)
	require.True(t, ok)
	assert.Equal(t, "Road trip", got.Title)
	assert.Len(t, gw.Calls("CreatePlaylist"), 1)

	_, err = r.CreatePlaylist(context.Background(), "", "x", "")
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = r.CreatePlaylist(context.Background(), "u1", "", "")
	assert.Error(t, err)
}
