package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/models"
)

type memorySink struct {
	entries []*models.ConflictLog
}

func (s *memorySink) CreateConflictLog(entry *models.ConflictLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func category(name, icon string, modified int64, device string) *models.SyncableCategory {
	return &models.SyncableCategory{
		Name: name, Icon: icon, IsCustom: true,
		LastModified: modified, OriginDevice: device,
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"local", "remote", "newest", "oldest", "merge", "ask_user"} {
		s, err := ParseStrategy(valid)
		require.NoError(t, err)
		assert.Equal(t, Strategy(valid), s)
	}
	_, err := ParseStrategy("coin_flip")
	assert.Error(t, err)
}

func TestResolveCategoryValidatesInput(t *testing.T) {
	r := NewResolver(StrategyUseNewest, bridge.NewBus(), nil)

	_, err := r.ResolveCategory(nil, category("Focus", "🎯", 100, "a"))
	assert.Error(t, err)
	_, err = r.ResolveCategory(category("Focus", "🎯", 100, "a"), nil)
	assert.Error(t, err)
	_, err = r.ResolveCategory(category("Focus", "🎯", 100, "a"), category("Reading", "📚", 100, "b"))
	assert.Error(t, err)
}

func TestResolveCategoryNewestIsDeterministic(t *testing.T) {
	r := NewResolver(StrategyUseNewest, bridge.NewBus(), nil)
	older := category("Focus", "🎯", 100, "laptop")
	newer := category("Focus", "🔥", 200, "phone")

	// The same winner regardless of which side the versions arrive on.
	w1, err := r.ResolveCategory(older, newer)
	require.NoError(t, err)
	w2, err := r.ResolveCategory(newer, older)
	require.NoError(t, err)

	assert.Equal(t, "🔥", w1.Icon)
	assert.Equal(t, int64(200), w1.LastModified)
	assert.Equal(t, w1.Icon, w2.Icon)
	assert.Equal(t, w1.LastModified, w2.LastModified)
}

func TestResolveCategoryNewestTieKeepsLocal(t *testing.T) {
	r := NewResolver(StrategyUseNewest, bridge.NewBus(), nil)
	local := category("Focus", "🎯", 100, "laptop")
	remote := category("Focus", "🔥", 100, "phone")

	winner, err := r.ResolveCategory(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "🎯", winner.Icon)
}

func TestResolveCategoryFixedStrategies(t *testing.T) {
	local := category("Focus", "🎯", 100, "laptop")
	remote := category("Focus", "🔥", 200, "phone")

	tests := []struct {
		strategy Strategy
		wantIcon string
	}{
		{StrategyUseLocal, "🎯"},
		{StrategyUseRemote, "🔥"},
		{StrategyUseOldest, "🎯"},
		{StrategyUseNewest, "🔥"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			r := NewResolver(tt.strategy, bridge.NewBus(), nil)
			winner, err := r.ResolveCategory(local, remote)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIcon, winner.Icon)
		})
	}
}

func TestMergeKeepsLocalNameTakesNewerRemoteIcon(t *testing.T) {
	r := NewResolver(StrategyMerge, bridge.NewBus(), nil)

	local := category("Focus", "🎯", 100, "laptop")
	remote := category("Focus", "🔥", 200, "phone")
	winner, err := r.ResolveCategory(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "Focus", winner.Name)
	assert.Equal(t, "🔥", winner.Icon, "remote icon wins when remote is strictly newer")
	assert.Equal(t, int64(200), winner.LastModified)
	assert.Equal(t, "phone", winner.OriginDevice)

	// Remote not newer: local icon survives.
	staleRemote := category("Focus", "🔥", 100, "phone")
	winner, err = r.ResolveCategory(local, staleRemote)
	require.NoError(t, err)
	assert.Equal(t, "🎯", winner.Icon)
	assert.Equal(t, int64(100), winner.LastModified)
}

func TestMergeORsIsCustom(t *testing.T) {
	r := NewResolver(StrategyMerge, bridge.NewBus(), nil)

	local := category("Focus", "🎯", 100, "laptop")
	local.IsCustom = false
	remote := category("Focus", "🔥", 50, "phone")

	winner, err := r.ResolveCategory(local, remote)
	require.NoError(t, err)
	assert.True(t, winner.IsCustom)
}

func TestResolveAssignmentNewest(t *testing.T) {
	r := NewResolver(StrategyUseNewest, bridge.NewBus(), nil)

	local := &models.SyncableAppAssignment{BundleID: "com.example.app", CategoryName: "Focus", LastModified: 100}
	remote := &models.SyncableAppAssignment{BundleID: "com.example.app", CategoryName: "Reading", LastModified: 200}

	winner, err := r.ResolveAssignment(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "Reading", winner.CategoryName)

	// Merge has no structural meaning for a scalar reference.
	r = NewResolver(StrategyMerge, bridge.NewBus(), nil)
	winner, err = r.ResolveAssignment(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "Reading", winner.CategoryName)
}

func TestResolutionsAnnouncedOnBridge(t *testing.T) {
	bus := bridge.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	sink := &memorySink{}
	r := NewResolver(StrategyUseNewest, bus, sink)

	_, err := r.ResolveCategory(category("Focus", "🎯", 100, "a"), category("Focus", "🔥", 200, "b"))
	require.NoError(t, err)

	detected := <-events
	assert.Equal(t, bridge.EventConflictDetected, detected.Kind)
	require.NotNil(t, detected.Conflict)
	assert.Equal(t, "Focus", detected.Conflict.Key())

	resolved := <-events
	assert.Equal(t, bridge.EventConflictResolved, resolved.Kind)
	require.NotNil(t, resolved.Category)
	assert.Equal(t, "🔥", resolved.Category.Icon)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "Focus", sink.entries[0].ItemKey)
	assert.Equal(t, "remote_wins", sink.entries[0].Resolution)
	assert.Equal(t, int64(100), sink.entries[0].LocalTimestamp)
	assert.Equal(t, int64(200), sink.entries[0].RemoteTimestamp)
}

func TestAskUserParksConflictAndReturnsInterimNewest(t *testing.T) {
	bus := bridge.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	sink := &memorySink{}
	r := NewResolver(StrategyAskUser, bus, sink)

	interim, err := r.ResolveCategory(category("Focus", "🎯", 100, "a"), category("Focus", "🔥", 200, "b"))
	require.NoError(t, err)
	assert.Equal(t, "🔥", interim.Icon, "interim answer is the newest version")

	// Detection is announced, but nothing is resolved or logged yet.
	detected := <-events
	assert.Equal(t, bridge.EventConflictDetected, detected.Kind)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v before user decision", ev.Kind)
	default:
	}
	assert.Empty(t, sink.entries)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.ConflictKindCategory, pending[0].Kind)
}

func TestResolveManuallySupersedesInterim(t *testing.T) {
	bus := bridge.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	sink := &memorySink{}
	r := NewResolver(StrategyAskUser, bus, sink)

	_, err := r.ResolveCategory(category("Focus", "🎯", 100, "a"), category("Focus", "🔥", 200, "b"))
	require.NoError(t, err)
	<-events // detection

	pending := r.Pending()
	require.Len(t, pending, 1)

	// The user picks the local version even though remote is newer.
	require.NoError(t, r.ResolveManually(pending[0].ID, ManualUseLocal))

	resolved := <-events
	assert.Equal(t, bridge.EventConflictResolved, resolved.Kind)
	require.NotNil(t, resolved.Category)
	assert.Equal(t, "🎯", resolved.Category.Icon)

	assert.Empty(t, r.Pending(), "decided conflict leaves the pending set")
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "manual", sink.entries[0].Resolution)

	// Deciding the same conflict twice fails.
	assert.Error(t, r.ResolveManually(pending[0].ID, ManualUseLocal))
}

func TestResolveDeletionDefaultProceeds(t *testing.T) {
	bus := bridge.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	r := NewResolver(StrategyUseNewest, bus, nil)
	decision, err := r.ResolveDeletion(category("Focus", "🎯", 100, "a"), []string{"com.example.app"})
	require.NoError(t, err)
	assert.Equal(t, models.DeletionProceed, decision)

	<-events // detection
	resolved := <-events
	assert.Equal(t, bridge.EventDeletionResolved, resolved.Kind)
	assert.Equal(t, models.DeletionProceed, resolved.Decision)
	assert.Equal(t, []string{"com.example.app"}, resolved.Conflict.AffectedBundleIDs)
}

func TestResolveDeletionAskUserDefers(t *testing.T) {
	bus := bridge.NewBus()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	r := NewResolver(StrategyAskUser, bus, nil)
	decision, err := r.ResolveDeletion(category("Focus", "🎯", 100, "a"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionDeferred, decision)

	<-events // detection
	pending := r.Pending()
	require.Len(t, pending, 1)

	// Keep: the deletion is rejected.
	require.NoError(t, r.ResolveManually(pending[0].ID, ManualKeep))
	resolved := <-events
	assert.Equal(t, bridge.EventDeletionResolved, resolved.Kind)
	assert.Equal(t, models.DeletionKeepLocal, resolved.Decision)
}
