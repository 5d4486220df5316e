package sync

import (
	"context"
	stderrors "errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/catalog"
	"github.com/kimhsiao/appdeck/internal/db"
	apperrors "github.com/kimhsiao/appdeck/internal/errors"
	"github.com/kimhsiao/appdeck/internal/models"
	"github.com/kimhsiao/appdeck/internal/remote"
	"github.com/kimhsiao/appdeck/internal/sync/conflict"
	"github.com/kimhsiao/appdeck/internal/sync/queue"
)

type fixture struct {
	t        *testing.T
	repo     *db.Repository
	bus      *bridge.Bus
	catalog  *catalog.Catalog
	store    *remote.MemoryStore
	resolver *conflict.Resolver
	queue    *queue.OperationQueue
	coord    *Coordinator
}

// newFixture wires a coordinator against a real SQLite repository and an
// in-memory remote store, with the auto-sync timer parked out of the way
// so tests drive cycles explicitly.
func newFixture(t *testing.T, strategy conflict.Strategy) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	repo := db.NewRepository(database)
	t.Cleanup(func() { repo.Close() })

	// A recent last-sync time keeps reconnect transitions from starting
	// cycles on their own.
	require.NoError(t, repo.SetSetting(db.SettingLastSync, time.Now().UTC().Format(time.RFC3339)))

	bus := bridge.NewBus()
	cat := catalog.New("test-device", "Utilities", bus)
	store := remote.NewMemoryStore()
	resolver := conflict.NewResolver(strategy, bus, repo)
	q, err := queue.New(repo)
	require.NoError(t, err)

	coord := New(Config{
		AutoInterval:   time.Hour,
		CallTimeout:    time.Second,
		DeviceLabel:    "test-device",
		InitialEnabled: true,
	}, store, cat, q, resolver, repo)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cat.Run(ctx)
	go coord.Run(ctx)

	return &fixture{
		t: t, repo: repo, bus: bus, catalog: cat,
		store: store, resolver: resolver, queue: q, coord: coord,
	}
}

// goOnline flips reachability; the run loop applies a pending transition
// before any later SyncNow, so no further synchronization is needed.
func (f *fixture) goOnline() {
	f.coord.NotifyReachability(true)
}

func TestSyncNowUploadsThenDownloads(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	_, err = f.catalog.Assign("com.example.app", "Focus")
	require.NoError(t, err)

	// Another device already published a category unknown here.
	_, err = f.store.Save(context.Background(), remoteCategoryRecord(t, "Reading", "📚", time.Now().Unix()))
	require.NoError(t, err)

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	// Local records reached the store.
	_, ok := f.store.Get(remote.RecordTypeCategory, "Focus")
	assert.True(t, ok, "custom category uploaded")
	_, ok = f.store.Get(remote.RecordTypeAssignment, "com.example.app")
	assert.True(t, ok, "assignment uploaded")

	// The unknown remote category was adopted.
	adopted, ok := f.catalog.CategoryByName("Reading")
	require.True(t, ok)
	assert.Equal(t, "📚", adopted.Icon)

	info := f.coord.Info()
	assert.Equal(t, StatusSuccess, info.Status)
	assert.NotNil(t, info.LastSync)
	assert.Empty(t, info.LastError)

	// Upload bookkeeping: the category is no longer dirty.
	focus, _ := f.catalog.CategoryByName("Focus")
	assert.False(t, focus.NeedsUpload())

	// The checkpoint snapshot covers the uploaded category.
	assert.Contains(t, f.repo.LoadCategorySnapshot(), "Focus")
}

func TestManualSyncWhileOfflineFails(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	err := f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncOffline))
	assert.Equal(t, StatusOffline, f.coord.Info().Status)
}

func TestManualSyncWhileDisabledFails(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	f.goOnline()

	require.NoError(t, f.coord.SetEnabled(false))
	assert.False(t, f.repo.GetBoolSetting(db.SettingSyncEnabled, true), "disable is persisted")

	err := f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncDisabled))

	// Re-enabling clears the way again.
	require.NoError(t, f.coord.SetEnabled(true))
	require.NoError(t, f.coord.SyncNow(context.Background()))
	assert.Equal(t, StatusSuccess, f.coord.Info().Status)
}

func TestAccountUnavailableFailsTheCycle(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	f.store.SetAccountStatus(remote.AccountNoAccount)
	f.goOnline()

	err := f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncAccountUnavailable))
	assert.Equal(t, StatusError, f.coord.Info().Status)

	// Indeterminate availability reads as being offline.
	f.store.SetAccountStatus(remote.AccountIndeterminate)
	err = f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConnectivity(err))
	assert.Equal(t, StatusOffline, f.coord.Info().Status)

	// The account coming back unblocks the next cycle.
	f.store.SetAccountStatus(remote.AccountAvailable)
	require.NoError(t, f.coord.SyncNow(context.Background()))
	assert.Equal(t, StatusSuccess, f.coord.Info().Status)
}

func TestBackendConfigErrorDisablesSyncPersistently(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)

	f.store.SaveHook = func(rec remote.Record) error {
		return stderrors.New("request rejected: missing entitlement")
	}
	f.goOnline()

	err = f.coord.SyncNow(context.Background())
	require.Error(t, err)

	info := f.coord.Info()
	assert.Equal(t, StatusError, info.Status)
	assert.False(t, info.Enabled, "backend misconfiguration disables sync")
	assert.False(t, f.repo.GetBoolSetting(db.SettingSyncEnabled, true), "disable survives restart")

	// Nothing was queued for retry; retrying cannot fix configuration.
	assert.Zero(t, f.queue.Len())
}

func TestConnectivityFailureQueuesUploadAndGoesOffline(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)

	f.store.SaveHook = func(rec remote.Record) error {
		return context.DeadlineExceeded
	}
	f.goOnline()

	err = f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusOffline, f.coord.Info().Status)
	assert.Equal(t, 1, f.queue.Len(), "failed upload parked in the queue")

	// The queue survives in durable storage too.
	restored, err := queue.New(f.repo)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
}

func TestReconnectDrainsQueuedOperations(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)

	f.store.SaveHook = func(rec remote.Record) error {
		return context.DeadlineExceeded
	}
	f.goOnline()
	require.Error(t, f.coord.SyncNow(context.Background()))
	require.Equal(t, 1, f.queue.Len())

	f.store.SaveHook = nil
	f.coord.NotifyReachability(false)
	f.coord.NotifyReachability(true)

	assert.Eventually(t, func() bool {
		_, ok := f.store.Get(remote.RecordTypeCategory, "Focus")
		return ok && f.queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "reconnect drains the queue")

	focus, _ := f.catalog.CategoryByName("Focus")
	assert.False(t, focus.NeedsUpload(), "drained upload is confirmed")
}

func TestDrainDoesNotConfirmNewerOfflineEdit(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)

	// An upload queued while offline carries the payload as it was then;
	// the category is edited again before the device reconnects.
	local, _ := f.catalog.CategoryByName("Focus")
	stale := local.Clone()
	stale.LastModified -= 60
	require.NoError(t, f.queue.EnqueueCategory(stale))

	_, err = f.catalog.UpdateCategory("Focus", "🔥")
	require.NoError(t, err)

	f.goOnline()
	assert.Eventually(t, func() bool {
		return f.queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "reconnect drains the queue")

	// The drain sent the stale 🎯 payload.
	rec, ok := f.store.Get(remote.RecordTypeCategory, "Focus")
	require.True(t, ok)
	sent, err := remote.DecodeCategory(rec)
	require.NoError(t, err)
	assert.Equal(t, "🎯", sent.Icon)

	// The newer edit is still pending, and the next cycle sends it.
	focus, _ := f.catalog.CategoryByName("Focus")
	assert.True(t, focus.NeedsUpload(), "confirming a stale payload must not absorb the newer edit")

	require.NoError(t, f.coord.SyncNow(context.Background()))
	rec, ok = f.store.Get(remote.RecordTypeCategory, "Focus")
	require.True(t, ok)
	converged, err := remote.DecodeCategory(rec)
	require.NoError(t, err)
	assert.Equal(t, "🔥", converged.Icon, "newest local edit converges to the store")
}

func TestDownloadConflictResolvedNewest(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	// Already uploaded, so the cycle goes straight to the download phase.
	local, _ := f.catalog.CategoryByName("Focus")
	f.catalog.MarkCategoryUploaded("Focus", "ref-0", local.LastModified)

	// A strictly newer remote version of the same category.
	rec := remoteCategoryRecord(t, "Focus", "🔥", local.LastModified+100)
	_, err = f.store.Save(context.Background(), rec)
	require.NoError(t, err)

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	got, _ := f.catalog.CategoryByName("Focus")
	assert.Equal(t, "🔥", got.Icon)
	assert.Equal(t, local.LastModified+100, got.LastModified)

	// The resolution was recorded for user awareness.
	logs, err := f.repo.ListConflictLogs(10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "Focus", logs[0].ItemKey)
	assert.Equal(t, "remote_wins", logs[0].Resolution)
}

func TestAskUserParksConflictAndManualChoiceApplies(t *testing.T) {
	f := newFixture(t, conflict.StrategyAskUser)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	local, _ := f.catalog.CategoryByName("Focus")
	f.catalog.MarkCategoryUploaded("Focus", "ref-0", local.LastModified)

	rec := remoteCategoryRecord(t, "Focus", "🔥", local.LastModified+100)
	_, err = f.store.Save(context.Background(), rec)
	require.NoError(t, err)

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()), "a parked conflict does not fail the cycle")

	// Interim answer: newest applied while the user decides.
	got, _ := f.catalog.CategoryByName("Focus")
	assert.Equal(t, "🔥", got.Icon)

	pending := f.resolver.Pending()
	require.Len(t, pending, 1)

	// The user picks the local version; the choice supersedes the interim.
	require.NoError(t, f.resolver.ResolveManually(pending[0].ID, conflict.ManualUseLocal))
	assert.Eventually(t, func() bool {
		got, _ := f.catalog.CategoryByName("Focus")
		return got.Icon == "🎯"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartupReconciliationRaisesDeletionConflict(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	// Previous run: Focus existed locally, fully uploaded, and covered by
	// the checkpoint snapshot. Meanwhile another device deleted it
	// remotely.
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	focus, _ := f.catalog.CategoryByName("Focus")
	f.catalog.MarkCategoryUploaded("Focus", "ref-1", focus.LastModified)
	_, err = f.catalog.Assign("com.example.app", "Focus")
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveCategorySnapshot([]string{"Focus"}))

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	// Default policy proceeds: the category goes away and its dependent
	// moves to the fallback category.
	assert.Eventually(t, func() bool {
		if _, ok := f.catalog.CategoryByName("Focus"); ok {
			return false
		}
		a, ok := f.catalog.AssignmentByBundle("com.example.app")
		return ok && a.CategoryName == "Utilities"
	}, 2*time.Second, 10*time.Millisecond)

	// The deletion conflict must not resurrect the remote record.
	_, ok := f.store.Get(remote.RecordTypeCategory, "Focus")
	assert.False(t, ok)
}

func TestReconciliationSkipsLocallyModifiedCategories(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	// Focus is in the snapshot but was edited locally since the last
	// upload; the local edit wins over the remote deletion signal.
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveCategorySnapshot([]string{"Focus"}))

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	_, ok := f.catalog.CategoryByName("Focus")
	assert.True(t, ok, "dirty category survives reconciliation")
	_, ok = f.store.Get(remote.RecordTypeCategory, "Focus")
	assert.True(t, ok, "and is uploaded as usual")
}

func TestRecordLevelFailuresDoNotBlockOthers(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	_, err := f.catalog.AddCategory("Focus", "🎯")
	require.NoError(t, err)
	_, err = f.catalog.AddCategory("Reading", "📚")
	require.NoError(t, err)

	f.store.SaveHook = func(rec remote.Record) error {
		if rec.Key == "Focus" {
			return stderrors.New("record too large")
		}
		return nil
	}
	f.goOnline()

	err = f.coord.SyncNow(context.Background())
	require.Error(t, err, "the phase reports failure")

	// But the other record still made it.
	_, ok := f.store.Get(remote.RecordTypeCategory, "Reading")
	assert.True(t, ok)
	assert.Equal(t, StatusError, f.coord.Info().Status)
}

func TestUndecodableDownloadIsSkipped(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	_, err := f.store.Save(context.Background(), remote.Record{
		Type: remote.RecordTypeCategory, Key: "Broken",
		Payload: []byte(`{garbage`), Modified: time.Now().Unix(),
	})
	require.NoError(t, err)
	_, err = f.store.Save(context.Background(), remoteCategoryRecord(t, "Reading", "📚", time.Now().Unix()))
	require.NoError(t, err)

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()), "corrupt records skip, they don't fail the cycle")

	_, ok := f.catalog.CategoryByName("Reading")
	assert.True(t, ok)
	_, ok = f.catalog.CategoryByName("Broken")
	assert.False(t, ok)
}

func TestStatusListenerSeesTransitions(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)

	var mu stdsync.Mutex
	var seen []Status
	f.coord.OnStatus(func(info StatusInfo) {
		mu.Lock()
		seen = append(seen, info.Status)
		mu.Unlock()
	})

	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, StatusSyncing)
	assert.Contains(t, seen, StatusSuccess)
}

func TestOfflineTransitionForcesOfflineStatus(t *testing.T) {
	f := newFixture(t, conflict.StrategyUseNewest)
	f.goOnline()
	require.NoError(t, f.coord.SyncNow(context.Background()))

	f.coord.NotifyReachability(false)
	assert.Eventually(t, func() bool {
		info := f.coord.Info()
		return info.Status == StatusOffline && !info.Online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReachabilityBurstKeepsLatestTransition(t *testing.T) {
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	repo := db.NewRepository(database)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.SetSetting(db.SettingLastSync, time.Now().UTC().Format(time.RFC3339)))

	bus := bridge.NewBus()
	cat := catalog.New("test-device", "Utilities", bus)
	q, err := queue.New(repo)
	require.NoError(t, err)
	coord := New(Config{
		AutoInterval:   time.Hour,
		CallTimeout:    time.Second,
		DeviceLabel:    "test-device",
		InitialEnabled: true,
	}, remote.NewMemoryStore(), cat, q, conflict.NewResolver(conflict.StrategyUseNewest, bus, repo), repo)

	// A burst of transitions lands before the run loop starts. None may
	// block the caller, and the final offline state must not be lost
	// behind the earlier ones.
	for i := 0; i < 20; i++ {
		coord.NotifyReachability(true)
	}
	coord.NotifyReachability(false)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coord.Run(ctx)

	assert.Eventually(t, func() bool {
		info := coord.Info()
		return info.Status == StatusOffline && !info.Online
	}, 2*time.Second, 10*time.Millisecond, "latest transition wins")
}

// remoteCategoryRecord builds a store record as another device would.
func remoteCategoryRecord(t *testing.T, name, icon string, modified int64) remote.Record {
	t.Helper()
	rec, err := remote.EncodeCategory(&models.SyncableCategory{
		Name:         name,
		Icon:         icon,
		IsCustom:     true,
		LastModified: modified,
		OriginDevice: "other-device",
	})
	require.NoError(t, err)
	return rec
}
