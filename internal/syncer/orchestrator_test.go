package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dirsync/internal/idp"
	"dirsync/pkg/config"
	"dirsync/pkg/directories"
	"dirsync/pkg/faults"
	"dirsync/pkg/graph"
)

// sliceStream yields a fixed slice, optionally ending in an error.
type sliceStream[T any] struct {
	items []T
	err   error
	pos   int
}

func (s *sliceStream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if s.pos < len(s.items) {
		v := s.items[s.pos]
		s.pos++
		return v, true, nil
	}
	if s.err != nil {
		return zero, false, s.err
	}
	return zero, false, nil
}

// fakeProvider serves a canned remote snapshot.
type fakeProvider struct {
	apps           []idp.Application
	usersByApp     map[string][]idp.User
	groupsByApp    map[string][]idp.Group
	membersByGroup map[string][]idp.User
	tokenErr       error
	listErr        error // terminal error on the application stream
}

func (f *fakeProvider) FetchToken(ctx context.Context) error { return f.tokenErr }

func (f *fakeProvider) ListApplications(ctx context.Context) idp.Stream[idp.Application] {
	return &sliceStream[idp.Application]{items: f.apps, err: f.listErr}
}
func (f *fakeProvider) StreamUsers(ctx context.Context, appID string) idp.Stream[idp.User] {
	return &sliceStream[idp.User]{items: f.usersByApp[appID]}
}
func (f *fakeProvider) StreamGroups(ctx context.Context, appID string) idp.Stream[idp.Group] {
	return &sliceStream[idp.Group]{items: f.groupsByApp[appID]}
}
func (f *fakeProvider) StreamGroupMembers(ctx context.Context, groupID string) idp.Stream[idp.User] {
	return &sliceStream[idp.User]{items: f.membersByGroup[groupID]}
}

func testSettings() config.SyncSettings {
	return config.SyncSettings{
		HTTPTimeout:     5 * time.Second,
		RetryAttempts:   1,
		PageSize:        100,
		MaxDeleteRatio:  0.90,
		MinGuardRecords: 10,
	}
}

type fixture struct {
	dirs  *directories.MemoryProvider
	store *graph.MemoryStore
	orch  *Orchestrator
}

func newFixture(t *testing.T, fp idp.Provider, dir directories.Directory) *fixture {
	t.Helper()
	dirs := directories.NewMemoryProvider(zap.NewNop().Sugar())
	dirs.Put(dir)
	store := graph.NewMemoryStore()
	reg := idp.NewRegistry()
	reg.Register("okta", func(cfg idp.ProviderConfig) (idp.Provider, error) { return fp, nil })
	orch, err := New(dirs, store, reg, testSettings(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return &fixture{dirs: dirs, store: store, orch: orch}
}

func user(n int) idp.User {
	return idp.User{ID: fmt.Sprintf("00u%03d", n), Email: fmt.Sprintf("user%d@acme.example", n), DisplayName: fmt.Sprintf("User %d", n)}
}

func seedIdentities(store *graph.MemoryStore, directoryID string, n int, at time.Time) {
	var ids []graph.Identity
	for i := 1; i <= n; i++ {
		u := user(i)
		ids = append(ids, graph.Identity{IdpID: u.ID, Email: u.Email, DisplayName: u.DisplayName, LastSyncedAt: at})
	}
	store.Seed(directoryID, ids, nil, nil)
}

func syncedDir(id string) directories.Directory {
	past := time.Now().Add(-24 * time.Hour)
	return directories.Directory{ID: id, AccountID: "acct-1", ProviderType: "okta", SyncedAt: &past}
}

func remoteUsers(n int) *fakeProvider {
	var us []idp.User
	for i := 1; i <= n; i++ {
		us = append(us, user(i))
	}
	return &fakeProvider{
		apps:       []idp.Application{{ID: "app1", Label: "HR App"}},
		usersByApp: map[string][]idp.User{"app1": us},
	}
}

func TestNoChangePassIsIdempotent(t *testing.T) {
	fp := remoteUsers(3)
	fx := newFixture(t, fp, syncedDir("dir-1"))
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	first, err := fx.store.Identities(ctx, "dir-1")
	require.NoError(t, err)
	require.Len(t, first, 3)

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	second, err := fx.store.Identities(ctx, "dir-1")
	require.NoError(t, err)
	require.Len(t, second, 3)

	byIdp := map[string]graph.Identity{}
	for _, i := range second {
		byIdp[i.IdpID] = i
	}
	for _, i := range first {
		got := byIdp[i.IdpID]
		assert.Equal(t, i.ID, got.ID, "no re-create on an unchanged pass")
		assert.Equal(t, i.Email, got.Email)
		assert.True(t, got.LastSyncedAt.After(i.LastSyncedAt) || got.LastSyncedAt.Equal(i.LastSyncedAt))
	}
}

func TestUserReachableViaTwoAppsCountsOnce(t *testing.T) {
	shared := user(1)
	fp := &fakeProvider{
		apps: []idp.Application{{ID: "app1"}, {ID: "app2"}},
		usersByApp: map[string][]idp.User{
			"app1": {shared, user(2)},
			"app2": {shared},
		},
	}
	fx := newFixture(t, fp, syncedDir("dir-1"))

	require.NoError(t, fx.orch.RunSync(context.Background(), "dir-1"))
	ids, err := fx.store.Identities(context.Background(), "dir-1")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestGroupsAndMembershipsSync(t *testing.T) {
	fp := &fakeProvider{
		apps:       []idp.Application{{ID: "app1"}},
		usersByApp: map[string][]idp.User{"app1": {user(1)}},
		groupsByApp: map[string][]idp.Group{
			"app1": {{ID: "00g001", Name: "Engineering"}},
		},
		membersByGroup: map[string][]idp.User{
			"00g001": {user(1), user(2)}, // user 2 observed only via the group
		},
	}
	fx := newFixture(t, fp, syncedDir("dir-1"))
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))

	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Len(t, ids, 2)
	groups, _ := fx.store.Groups(ctx, "dir-1")
	require.Len(t, groups, 1)
	assert.Equal(t, "Engineering", groups[0].Name)
	ms, _ := fx.store.Memberships(ctx, "dir-1")
	assert.Len(t, ms, 2)
}

func TestMissingEmailAbortsPass(t *testing.T) {
	fp := &fakeProvider{
		apps: []idp.Application{{ID: "app1"}},
		usersByApp: map[string][]idp.User{
			"app1": {user(1), {ID: "00uBROKEN", Email: ""}},
		},
	}
	dir := syncedDir("dir-1")
	fx := newFixture(t, fp, dir)
	seedIdentities(fx.store, "dir-1", 2, time.Now().Add(-time.Hour))
	ctx := context.Background()

	err := fx.orch.RunSync(ctx, "dir-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "00uBROKEN")

	// Nothing committed, not even the valid user's refresh.
	ids, _ := fx.store.Identities(ctx, "dir-1")
	require.Len(t, ids, 2)
	for _, i := range ids {
		assert.True(t, i.LastSyncedAt.Before(time.Now().Add(-time.Minute)))
	}

	got, _ := fx.dirs.Get(ctx, "dir-1")
	assert.Contains(t, got.ErrorMessage, "00uBROKEN")
	require.NotNil(t, got.ErroredAt)
	require.NotNil(t, got.SyncedAt)
	assert.Equal(t, dir.SyncedAt.Unix(), got.SyncedAt.Unix(), "synced_at untouched on failure")
}

func TestDeletionGuardBlocksMassDeletion(t *testing.T) {
	fp := remoteUsers(0)
	fx := newFixture(t, fp, syncedDir("dir-1"))
	seedIdentities(fx.store, "dir-1", 15, time.Now().Add(-time.Hour))
	ctx := context.Background()

	err := fx.orch.RunSync(ctx, "dir-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "15 of 15")
	assert.Contains(t, err.Error(), "identities")

	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, faults.KindDeletionGuard, f.Kind)

	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Len(t, ids, 15, "no identity deleted")
}

func TestDeletionGuardPermitsSafeDeletion(t *testing.T) {
	fp := remoteUsers(8)
	fx := newFixture(t, fp, syncedDir("dir-1"))
	seedIdentities(fx.store, "dir-1", 10, time.Now().Add(-time.Hour))
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Len(t, ids, 8)
}

func TestFirstSyncExemptFromGuard(t *testing.T) {
	fp := remoteUsers(0)
	dir := directories.Directory{ID: "dir-1", AccountID: "acct-1", ProviderType: "okta"} // never synced
	fx := newFixture(t, fp, dir)
	seedIdentities(fx.store, "dir-1", 15, time.Now().Add(-time.Hour))
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Empty(t, ids)

	got, _ := fx.dirs.Get(ctx, "dir-1")
	require.NotNil(t, got.SyncedAt)
}

func TestSmallSetExemptFromGuard(t *testing.T) {
	fp := remoteUsers(0)
	fx := newFixture(t, fp, syncedDir("dir-1"))
	seedIdentities(fx.store, "dir-1", 5, time.Now().Add(-time.Hour))
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Empty(t, ids)
}

func TestRecentlyWrittenRecordsAreNotDeleted(t *testing.T) {
	fp := remoteUsers(8)
	fx := newFixture(t, fp, syncedDir("dir-1"))
	// Users 1..10 seeded; 9 and 10 are gone remotely, but 10 was written
	// "after" pass start (in the future relative to the clock below).
	seedIdentities(fx.store, "dir-1", 9, time.Now().Add(-time.Hour))
	fx.store.Seed("dir-1", []graph.Identity{{IdpID: "00u010", Email: "user10@acme.example", LastSyncedAt: time.Now().Add(time.Hour)}}, nil, nil)
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Len(t, ids, 9, "concurrently written record survives")
}

func TestSuccessClearsErrorStateAndReenables(t *testing.T) {
	fp := remoteUsers(2)
	dir := syncedDir("dir-1")
	when := time.Now().Add(-time.Hour)
	dir.ErroredAt = &when
	dir.ErrorMessage = "user bad@acme.example is broken"
	dir.ErrorEmailCount = 3
	dir.IsDisabled = true
	dir.DisabledReason = "too many failures"
	fx := newFixture(t, fp, dir)
	ctx := context.Background()

	require.NoError(t, fx.orch.RunSync(ctx, "dir-1"))
	got, _ := fx.dirs.Get(ctx, "dir-1")
	assert.Nil(t, got.ErroredAt)
	assert.Empty(t, got.ErrorMessage)
	assert.Zero(t, got.ErrorEmailCount)
	assert.False(t, got.IsDisabled)
	assert.Empty(t, got.DisabledReason)
	require.NotNil(t, got.SyncedAt)
}

func TestTokenFailureRecordsClassifiedError(t *testing.T) {
	fp := &fakeProvider{tokenErr: &faults.APIError{Status: 401, Code: "invalid_client", Summary: "no client auth"}}
	fx := newFixture(t, fp, syncedDir("dir-1"))
	ctx := context.Background()

	err := fx.orch.RunSync(ctx, "dir-1")
	require.Error(t, err)
	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, faults.KindProviderAPI, f.Kind)

	got, _ := fx.dirs.Get(ctx, "dir-1")
	assert.Contains(t, got.ErrorMessage, "client credentials")
	require.NotNil(t, got.ErroredAt)
}

func TestStreamFailureAbortsWithoutCommit(t *testing.T) {
	fp := remoteUsers(3)
	fp.listErr = errors.New("connection reset")
	fx := newFixture(t, fp, syncedDir("dir-1"))
	seedIdentities(fx.store, "dir-1", 2, time.Now().Add(-time.Hour))
	ctx := context.Background()

	require.Error(t, fx.orch.RunSync(ctx, "dir-1"))
	ids, _ := fx.store.Identities(ctx, "dir-1")
	assert.Len(t, ids, 2, "local state untouched")
}
