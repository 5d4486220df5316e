package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/appdeck/internal/catalog"
	"github.com/kimhsiao/appdeck/internal/db"
	apperrors "github.com/kimhsiao/appdeck/internal/errors"
	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
	"github.com/kimhsiao/appdeck/internal/remote"
	"github.com/kimhsiao/appdeck/internal/sync/conflict"
	"github.com/kimhsiao/appdeck/internal/sync/queue"
)

const (
	// DefaultAutoInterval is how often a background sync runs while the
	// coordinator is enabled and online.
	DefaultAutoInterval = 5 * time.Minute
	// DefaultCallTimeout bounds every individual remote-store call.
	DefaultCallTimeout = 30 * time.Second
)

// Config carries the tunables of the coordinator.
type Config struct {
	AutoInterval time.Duration
	CallTimeout  time.Duration
	DeviceLabel  string

	// InitialEnabled is the default for the enabled flag when no persisted
	// value exists yet.
	InitialEnabled bool
}

func (c *Config) normalize() {
	if c.AutoInterval <= 0 {
		c.AutoInterval = DefaultAutoInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

type commandKind int

const (
	cmdSyncNow commandKind = iota
	cmdSetEnabled
)

type command struct {
	kind    commandKind
	enabled bool
	reply   chan error
}

// Coordinator owns the synchronization lifecycle for this device.
type Coordinator struct {
	cfg      Config
	store    remote.Store
	catalog  *catalog.Catalog
	queue    *queue.OperationQueue
	resolver *conflict.Resolver
	repo     *db.Repository

	cmds chan command
	// reach carries the latest reachability transition. One slot: a newer
	// transition supersedes an unprocessed older one instead of queueing
	// behind it.
	reach  chan bool
	online atomic.Bool

	mu        stdsync.RWMutex
	status    Status
	enabled   bool
	lastSync  time.Time
	lastErr   error
	listeners []StatusListener

	reconciled bool

	// skipUpload names categories with an open deletion conflict this
	// cycle; uploading them would resurrect the remote record. Run-loop
	// state only.
	skipUpload map[string]struct{}
}

var _ Syncer = (*Coordinator)(nil)

// New builds a coordinator. The enabled flag and last sync time are
// restored from settings; Run must be started before SyncNow or
// NotifyReachability are useful.
func New(cfg Config, store remote.Store, cat *catalog.Catalog, q *queue.OperationQueue, res *conflict.Resolver, repo *db.Repository) *Coordinator {
	cfg.normalize()
	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		catalog:  cat,
		queue:    q,
		resolver: res,
		repo:     repo,
		cmds:     make(chan command, 16),
		reach:    make(chan bool, 1),
		status:   StatusIdle,
		enabled:  cfg.InitialEnabled,
	}
	if repo != nil {
		c.enabled = repo.GetBoolSetting(db.SettingSyncEnabled, cfg.InitialEnabled)
		if raw, err := repo.GetSetting(db.SettingLastSync); err == nil && raw != "" {
			if ts, perr := time.Parse(time.RFC3339, raw); perr == nil {
				c.lastSync = ts
			}
		}
	}
	return c
}

// Run drives the coordinator until ctx is cancelled. It must be called
// exactly once, on its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	timer := time.NewTimer(c.cfg.AutoInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if c.isEnabled() && c.online.Load() {
				c.syncOnce(ctx, false)
			}
			timer.Reset(c.cfg.AutoInterval)
		case online := <-c.reach:
			c.reachabilityChanged(ctx, online)
		case cmd := <-c.cmds:
			// A transition reported before this command is applied first,
			// so commands observe the connectivity state of their time.
			select {
			case online := <-c.reach:
				c.reachabilityChanged(ctx, online)
			default:
			}
			c.handle(ctx, cmd)
		}
	}
}

// SyncNow requests an immediate sync cycle and waits for its outcome.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- command{kind: cmdSyncNow, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetEnabled turns synchronization on or off and persists the choice.
func (c *Coordinator) SetEnabled(enabled bool) error {
	reply := make(chan error, 1)
	c.cmds <- command{kind: cmdSetEnabled, enabled: enabled, reply: reply}
	return <-reply
}

// NotifyReachability hands a connectivity transition into the run loop.
// The online flag flips synchronously so an in-flight cycle stops issuing
// remote calls right away; the status transition itself happens on the
// loop. Transitions coalesce: only the latest unprocessed one is kept,
// and delivery never blocks the caller.
func (c *Coordinator) NotifyReachability(online bool) {
	c.online.Store(online)
	for {
		select {
		case c.reach <- online:
			return
		default:
		}
		// Slot taken by an older transition; replace it.
		select {
		case <-c.reach:
		default:
		}
	}
}

// Info returns a snapshot of the coordinator state.
func (c *Coordinator) Info() StatusInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := StatusInfo{
		Status:  c.status,
		Enabled: c.enabled,
		Online:  c.online.Load(),
		Pending: c.queue.Len(),
	}
	if !c.lastSync.IsZero() {
		ts := c.lastSync
		info.LastSync = &ts
	}
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	return info
}

// OnStatus registers a listener for status transitions. Register before
// Run starts.
func (c *Coordinator) OnStatus(fn StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSyncNow:
		cmd.reply <- c.syncOnce(ctx, true)
	case cmdSetEnabled:
		cmd.reply <- c.setEnabled(cmd.enabled)
	}
}

func (c *Coordinator) setEnabled(enabled bool) error {
	if c.repo != nil {
		if err := c.repo.SetBoolSetting(db.SettingSyncEnabled, enabled); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "persisting sync enabled flag", err)
		}
	}
	c.mu.Lock()
	c.enabled = enabled
	if enabled {
		// Re-enabling clears a sticky error status so the UI reflects a
		// fresh start.
		c.status = StatusIdle
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify()
	logging.Info("Sync enabled flag changed", map[string]interface{}{"enabled": enabled})
	return nil
}

func (c *Coordinator) reachabilityChanged(ctx context.Context, online bool) {
	if !online {
		c.setStatus(StatusOffline, nil)
		return
	}
	logging.Info("Connectivity restored", map[string]interface{}{
		"pending_operations": c.queue.Len(),
	})
	if !c.isEnabled() {
		c.setStatus(StatusIdle, nil)
		return
	}
	if c.queue.Len() > 0 {
		sent, failed := c.queue.Drain(ctx, c.sendOperation)
		logging.Info("Drained pending operation queue", map[string]interface{}{
			"sent":   sent,
			"failed": failed,
		})
	}
	if time.Since(c.lastSyncTime()) >= c.cfg.AutoInterval {
		c.syncOnce(ctx, false)
	} else {
		c.setStatus(StatusIdle, nil)
	}
}

// syncOnce runs one full cycle on the run loop. Manual triggers surface
// their error to the caller; automatic ones only record it in status.
func (c *Coordinator) syncOnce(ctx context.Context, manual bool) error {
	if !c.isEnabled() {
		err := apperrors.New(apperrors.ErrSyncDisabled, "synchronization is disabled")
		if manual {
			return err
		}
		return nil
	}
	if !c.online.Load() {
		c.setStatus(StatusOffline, nil)
		return apperrors.New(apperrors.ErrSyncOffline, "device is offline")
	}

	c.setStatus(StatusSyncing, nil)

	if err := c.ensureAccount(ctx); err != nil {
		c.recordFailure(err)
		return err
	}
	c.skipUpload = nil
	c.reconcileDeletions(ctx)

	catErr := c.syncCategories(ctx)
	asgErr := c.syncAssignments(ctx)

	err := catErr
	if err == nil {
		err = asgErr
	}
	if err != nil {
		c.recordFailure(err)
		return err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.lastSync = now
	c.mu.Unlock()
	c.persistCheckpoint(now)
	c.setStatus(StatusSuccess, nil)
	logging.Info("Sync cycle completed", map[string]interface{}{
		"categories":  len(c.catalog.CustomCategories()),
		"assignments": len(c.catalog.SyncableAssignments()),
	})
	return nil
}

// ensureAccount gates every cycle on account availability. Only a
// definitively available account lets the cycle proceed: an
// indeterminate answer is treated like being offline, and a missing or
// restricted account fails the cycle with an error status. Either way
// the next cycle asks again, so signing in later needs no restart.
func (c *Coordinator) ensureAccount(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	status, err := c.store.AccountStatus(callCtx)
	cancel()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "checking account status", err)
	}
	switch status {
	case remote.AccountAvailable:
		return nil
	case remote.AccountIndeterminate:
		return apperrors.New(apperrors.ErrSyncOffline, "account status indeterminate")
	default:
		return apperrors.New(apperrors.ErrSyncAccountUnavailable, "no usable sync account: "+status.String())
	}
}

// reconcileDeletions compares the category snapshot persisted at the end
// of the previous run against the remote store. A category that was fully
// uploaded before, still exists locally unmodified, and is now missing
// remotely was deleted on another device; that raises a deletion conflict
// instead of being applied silently.
func (c *Coordinator) reconcileDeletions(ctx context.Context) {
	if c.reconciled || c.repo == nil {
		return
	}
	c.reconciled = true
	snapshot := c.repo.LoadCategorySnapshot()
	if len(snapshot) == 0 {
		return
	}
	records, err := c.queryRecords(ctx, remote.RecordTypeCategory)
	if err != nil {
		logging.Error("Skipping deletion reconciliation, remote query failed", err)
		c.reconciled = false
		return
	}
	remoteNames := make(map[string]struct{}, len(records))
	for _, rec := range records {
		remoteNames[rec.Key] = struct{}{}
	}
	for _, name := range snapshot {
		if _, ok := remoteNames[name]; ok {
			continue
		}
		local, ok := c.catalog.CategoryByName(name)
		if !ok || !local.IsCustom || local.NeedsUpload() {
			// Gone locally too, or changed since the snapshot; the
			// regular cycle handles it.
			continue
		}
		bundles := c.catalog.AssignmentsFor(name)
		logging.Warn("Category deleted on another device", map[string]interface{}{
			"category":  name,
			"dependent": len(bundles),
		})
		if _, err := c.resolver.ResolveDeletion(local, bundles); err != nil {
			logging.Error("Resolving remote deletion failed", err, map[string]interface{}{
				"category": name,
			})
			continue
		}
		// Whether the deletion proceeds or is parked for the user, this
		// cycle must not re-upload the category.
		if c.skipUpload == nil {
			c.skipUpload = make(map[string]struct{})
		}
		c.skipUpload[name] = struct{}{}
	}
}

func (c *Coordinator) syncCategories(ctx context.Context) error {
	var phaseErr error

	// Upload before download so a freshly edited record cannot be
	// clobbered by a stale copy fetched in the same pass.
	for _, cat := range c.catalog.CustomCategories() {
		if _, skip := c.skipUpload[cat.Name]; skip {
			continue
		}
		if !cat.NeedsUpload() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := remote.EncodeCategory(cat)
		if err != nil {
			phaseErr = err
			logging.Error("Skipping category upload, encode failed", err, map[string]interface{}{
				"category": cat.Name,
			})
			continue
		}
		ref, err := c.saveRecord(ctx, rec)
		if err != nil {
			phaseErr = err
			logging.Error("Category upload failed", err, map[string]interface{}{"category": cat.Name})
			if apperrors.IsConnectivity(err) {
				if qerr := c.queue.EnqueueCategory(cat); qerr != nil {
					logging.Error("Queueing category for retry failed", qerr)
				}
			}
			continue
		}
		c.catalog.MarkCategoryUploaded(cat.Name, ref, cat.LastModified)
	}

	records, err := c.queryRecords(ctx, remote.RecordTypeCategory)
	if err != nil {
		if phaseErr == nil {
			phaseErr = err
		}
		return phaseErr
	}
	for _, rec := range records {
		incoming, err := remote.DecodeCategory(rec)
		if err != nil {
			logging.Error("Skipping undecodable category record", err, map[string]interface{}{
				"key": rec.Key,
			})
			continue
		}
		local, ok := c.catalog.CategoryByName(incoming.Name)
		if !ok {
			c.catalog.ApplyRemoteCategory(incoming)
			continue
		}
		if local.LastModified == incoming.LastModified {
			continue
		}
		winner, err := c.resolver.ResolveCategory(local, incoming)
		if err != nil {
			phaseErr = err
			continue
		}
		if winner != nil {
			c.catalog.ApplyResolvedCategory(winner)
		}
	}
	return phaseErr
}

func (c *Coordinator) syncAssignments(ctx context.Context) error {
	var phaseErr error

	for _, asg := range c.catalog.SyncableAssignments() {
		if !asg.NeedsUpload() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := remote.EncodeAssignment(asg)
		if err != nil {
			phaseErr = err
			logging.Error("Skipping assignment upload, encode failed", err, map[string]interface{}{
				"bundle_id": asg.BundleID,
			})
			continue
		}
		ref, err := c.saveRecord(ctx, rec)
		if err != nil {
			phaseErr = err
			logging.Error("Assignment upload failed", err, map[string]interface{}{
				"bundle_id": asg.BundleID,
			})
			if apperrors.IsConnectivity(err) {
				if qerr := c.queue.EnqueueAssignment(asg); qerr != nil {
					logging.Error("Queueing assignment for retry failed", qerr)
				}
			}
			continue
		}
		c.catalog.MarkAssignmentUploaded(asg.BundleID, ref, asg.LastModified)
	}

	records, err := c.queryRecords(ctx, remote.RecordTypeAssignment)
	if err != nil {
		if phaseErr == nil {
			phaseErr = err
		}
		return phaseErr
	}
	for _, rec := range records {
		incoming, err := remote.DecodeAssignment(rec)
		if err != nil {
			logging.Error("Skipping undecodable assignment record", err, map[string]interface{}{
				"key": rec.Key,
			})
			continue
		}
		local, ok := c.catalog.AssignmentByBundle(incoming.BundleID)
		if !ok {
			c.catalog.ApplyRemoteAssignment(incoming)
			continue
		}
		if local.LastModified == incoming.LastModified && local.CategoryName == incoming.CategoryName {
			continue
		}
		winner, err := c.resolver.ResolveAssignment(local, incoming)
		if err != nil {
			phaseErr = err
			continue
		}
		if winner != nil {
			c.catalog.ApplyResolvedAssignment(winner)
		}
	}
	return phaseErr
}

// sendOperation replays one queued write. Used as the drain sender.
func (c *Coordinator) sendOperation(ctx context.Context, op *models.PendingOperation) error {
	var rec remote.Record
	var err error
	switch op.Kind {
	case models.OperationSaveCategory:
		rec, err = remote.EncodeCategory(op.Category)
	case models.OperationSaveAssignment:
		rec, err = remote.EncodeAssignment(op.Assignment)
	default:
		return apperrors.New(apperrors.ErrValidation, "unknown operation kind: "+string(op.Kind))
	}
	if err != nil {
		return err
	}
	ref, err := c.saveRecord(ctx, rec)
	if err != nil {
		return err
	}
	// Stamp only the version that was actually sent: the catalog entry may
	// have been edited again since this payload was queued, and that newer
	// edit still needs the next cycle's upload phase.
	switch op.Kind {
	case models.OperationSaveCategory:
		c.catalog.MarkCategoryUploaded(op.Category.Name, ref, op.Category.LastModified)
	case models.OperationSaveAssignment:
		c.catalog.MarkAssignmentUploaded(op.Assignment.BundleID, ref, op.Assignment.LastModified)
	}
	return nil
}

func (c *Coordinator) saveRecord(ctx context.Context, rec remote.Record) (string, error) {
	if !c.online.Load() {
		return "", apperrors.New(apperrors.ErrSyncOffline, "device went offline")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.store.Save(callCtx, rec)
}

func (c *Coordinator) queryRecords(ctx context.Context, rt remote.RecordType) ([]remote.Record, error) {
	if !c.online.Load() {
		return nil, apperrors.New(apperrors.ErrSyncOffline, "device went offline")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.store.Query(callCtx, remote.Query{Type: rt})
}

// recordFailure maps a cycle failure to a status transition. Backend
// configuration problems additionally disable sync until the user turns
// it back on, since retrying cannot fix them.
func (c *Coordinator) recordFailure(err error) {
	switch {
	case apperrors.IsBackendConfig(err):
		logging.ErrorWithCode("Disabling sync, backend misconfigured", string(apperrors.ErrSyncBackendMisconfigured), err)
		if c.repo != nil {
			if perr := c.repo.SetBoolSetting(db.SettingSyncEnabled, false); perr != nil {
				logging.Error("Persisting disabled flag failed", perr)
			}
		}
		c.mu.Lock()
		c.enabled = false
		c.mu.Unlock()
		c.setStatus(StatusError, err)
	case apperrors.IsConnectivity(err):
		c.setStatus(StatusOffline, err)
	default:
		c.setStatus(StatusError, err)
	}
}

// persistCheckpoint records the successful cycle: the timestamp for the
// UI and the custom-category snapshot used to detect remote deletions on
// the next startup.
func (c *Coordinator) persistCheckpoint(at time.Time) {
	if c.repo == nil {
		return
	}
	if err := c.repo.SetSetting(db.SettingLastSync, at.Format(time.RFC3339)); err != nil {
		logging.Error("Persisting last sync time failed", err)
	}
	cats := c.catalog.CustomCategories()
	names := make([]string, 0, len(cats))
	for _, cat := range cats {
		if !cat.NeedsUpload() {
			names = append(names, cat.Name)
		}
	}
	if err := c.repo.SaveCategorySnapshot(names); err != nil {
		logging.Error("Persisting category snapshot failed", err)
	}
}

func (c *Coordinator) setStatus(st Status, err error) {
	c.mu.Lock()
	c.status = st
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) notify() {
	info := c.Info()
	c.mu.RLock()
	listeners := make([]StatusListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(info)
	}
}

func (c *Coordinator) isEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func (c *Coordinator) lastSyncTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}
