// Package catalog holds the application's in-memory category and
// assignment state. The catalog is the single writer for this state: UI
// mutations go through its methods, and converged sync results arrive
// through the bridge subscription started by Run.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/errors"
	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
)

// PredefinedCategories ship with the app and are never synchronized.
var PredefinedCategories = map[string]string{
	"Utilities":    "🔧",
	"Productivity": "📝",
	"Internet":     "🌐",
	"Media":        "🎬",
	"Development":  "💻",
	"Games":        "🎮",
}

// ApplyResult reports what applying a remote record did locally.
type ApplyResult int

const (
	ApplyUnchanged ApplyResult = iota
	ApplyAdded
	ApplyUpdated
)

// Catalog is the in-memory category/assignment state holder.
type Catalog struct {
	mu          sync.RWMutex
	categories  map[string]*models.SyncableCategory
	assignments map[string]*models.SyncableAppAssignment
	device      string
	fallback    string
	bus         *bridge.Bus

	events    <-chan bridge.Event
	cancelSub func()
}

// New creates a Catalog seeded with the predefined categories. The
// fallback category receives assignments orphaned by category deletions
// and must be one of the predefined names. The bridge subscription is
// registered here, before any publisher can run, so events raised before
// Run starts draining are buffered rather than lost.
func New(device, fallback string, bus *bridge.Bus) *Catalog {
	c := &Catalog{
		categories:  make(map[string]*models.SyncableCategory),
		assignments: make(map[string]*models.SyncableAppAssignment),
		device:      device,
		fallback:    fallback,
		bus:         bus,
	}
	if bus != nil {
		c.events, c.cancelSub = bus.Subscribe(64)
	}
	for name, icon := range PredefinedCategories {
		c.categories[name] = &models.SyncableCategory{
			Name:     name,
			Icon:     icon,
			IsCustom: false,
		}
	}
	return c
}

// FallbackCategory returns the configured fallback category name.
func (c *Catalog) FallbackCategory() string {
	return c.fallback
}

// =====================================================
// Local (UI-initiated) Mutations
// =====================================================

// AddCategory creates a custom category. Category names are unique across
// the whole category set.
func (c *Catalog) AddCategory(name, icon string) (*models.SyncableCategory, error) {
	if name == "" {
		return nil, errors.New(errors.ErrValidation, "category name must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.categories[name]; ok {
		return nil, errors.New(errors.ErrCategoryDuplicate, "category "+name+" already exists")
	}

	cat := &models.SyncableCategory{
		Name:     name,
		Icon:     icon,
		IsCustom: true,
	}
	cat.Touch(c.device)
	c.categories[name] = cat
	return cat.Clone(), nil
}

// UpdateCategory changes a custom category's icon and bumps LastModified.
func (c *Catalog) UpdateCategory(name, icon string) (*models.SyncableCategory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, ok := c.categories[name]
	if !ok {
		return nil, errors.New(errors.ErrCategoryNotFound, "category "+name+" not found")
	}
	if !cat.IsCustom {
		return nil, errors.New(errors.ErrCategoryPredefined, "predefined category "+name+" cannot be modified")
	}

	cat.Icon = icon
	cat.Touch(c.device)
	return cat.Clone(), nil
}

// DeleteCategory removes a custom category and reassigns every dependent
// assignment to the fallback category. Returns the affected bundle IDs.
func (c *Catalog) DeleteCategory(name string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteCategoryLocked(name)
}

func (c *Catalog) deleteCategoryLocked(name string) ([]string, error) {
	cat, ok := c.categories[name]
	if !ok {
		return nil, errors.New(errors.ErrCategoryNotFound, "category "+name+" not found")
	}
	if !cat.IsCustom {
		return nil, errors.New(errors.ErrCategoryPredefined, "predefined category "+name+" cannot be deleted")
	}

	var affected []string
	for bundleID, a := range c.assignments {
		if a.CategoryName != name {
			continue
		}
		a.CategoryName = c.fallback
		a.Touch(c.device)
		affected = append(affected, bundleID)
	}
	sort.Strings(affected)

	delete(c.categories, name)
	return affected, nil
}

// Assign maps an application bundle to a category, creating or superseding
// the assignment for that bundle.
func (c *Catalog) Assign(bundleID, categoryName string) (*models.SyncableAppAssignment, error) {
	if bundleID == "" {
		return nil, errors.New(errors.ErrValidation, "bundle id must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.categories[categoryName]; !ok {
		return nil, errors.New(errors.ErrCategoryNotFound, "category "+categoryName+" not found")
	}

	a, ok := c.assignments[bundleID]
	if !ok {
		a = &models.SyncableAppAssignment{BundleID: bundleID}
		c.assignments[bundleID] = a
	}
	a.CategoryName = categoryName
	a.Touch(c.device)
	return a.Clone(), nil
}

// =====================================================
// Read Access
// =====================================================

// CategoryByName returns a copy of the named category.
func (c *Catalog) CategoryByName(name string) (*models.SyncableCategory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[name]
	if !ok {
		return nil, false
	}
	return cat.Clone(), true
}

// AssignmentByBundle returns a copy of the assignment for bundleID.
func (c *Catalog) AssignmentByBundle(bundleID string) (*models.SyncableAppAssignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assignments[bundleID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Categories returns copies of all categories sorted by name.
func (c *Catalog) Categories() []*models.SyncableCategory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.SyncableCategory, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CustomCategories returns copies of the custom categories sorted by name.
func (c *Catalog) CustomCategories() []*models.SyncableCategory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*models.SyncableCategory
	for _, cat := range c.categories {
		if cat.IsCustom {
			out = append(out, cat.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Assignments returns copies of all assignments sorted by bundle ID.
func (c *Catalog) Assignments() []*models.SyncableAppAssignment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.SyncableAppAssignment, 0, len(c.assignments))
	for _, a := range c.assignments {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out
}

// SyncableAssignments returns copies of the assignments whose category is
// custom: only those synchronize. Sorted by bundle ID.
func (c *Catalog) SyncableAssignments() []*models.SyncableAppAssignment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*models.SyncableAppAssignment
	for _, a := range c.assignments {
		cat, ok := c.categories[a.CategoryName]
		if !ok || !cat.IsCustom {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out
}

// AssignmentsFor returns the bundle IDs assigned to the named category.
func (c *Catalog) AssignmentsFor(categoryName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for bundleID, a := range c.assignments {
		if a.CategoryName == categoryName {
			out = append(out, bundleID)
		}
	}
	sort.Strings(out)
	return out
}

// =====================================================
// Upload Bookkeeping
// =====================================================

// MarkCategoryUploaded records a confirmed category upload.
// uploadedModified is the LastModified of the payload that was sent, so
// an edit made after that payload was captured stays pending.
func (c *Catalog) MarkCategoryUploaded(name, ref string, uploadedModified int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat, ok := c.categories[name]; ok {
		cat.MarkUploaded(ref, uploadedModified)
	}
}

// MarkAssignmentUploaded records a confirmed assignment upload.
func (c *Catalog) MarkAssignmentUploaded(bundleID, ref string, uploadedModified int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.assignments[bundleID]; ok {
		a.MarkUploaded(ref, uploadedModified)
	}
}

// =====================================================
// Remote Application (sync results)
// =====================================================

// ApplyRemoteCategory folds a downloaded or resolved category into local
// state. A category absent locally is adopted; an existing one is replaced
// only when the incoming version is strictly newer. The operation is
// idempotent: applying the same version twice leaves state unchanged.
func (c *Catalog) ApplyRemoteCategory(in *models.SyncableCategory) ApplyResult {
	c.mu.Lock()

	local, ok := c.categories[in.Name]
	if !ok {
		adopted := in.Clone()
		adopted.UploadedModified = adopted.LastModified
		c.categories[in.Name] = adopted
		c.mu.Unlock()
		c.publish(bridge.Event{Kind: bridge.EventCategoryAdded, Category: adopted.Clone()})
		return ApplyAdded
	}

	if in.LastModified <= local.LastModified {
		c.mu.Unlock()
		return ApplyUnchanged
	}

	local.Icon = in.Icon
	local.IsCustom = local.IsCustom || in.IsCustom
	local.LastModified = in.LastModified
	local.OriginDevice = in.OriginDevice
	// Applied versions came from (or won against) the remote store; don't
	// re-upload them on the next pass.
	local.UploadedModified = in.LastModified
	updated := local.Clone()
	c.mu.Unlock()

	c.publish(bridge.Event{Kind: bridge.EventCategoryUpdated, Category: updated})
	return ApplyUpdated
}

// ApplyRemoteAssignment folds a downloaded or resolved assignment into
// local state with the same adoption rules as ApplyRemoteCategory.
func (c *Catalog) ApplyRemoteAssignment(in *models.SyncableAppAssignment) ApplyResult {
	c.mu.Lock()

	local, ok := c.assignments[in.BundleID]
	if !ok {
		adopted := in.Clone()
		adopted.UploadedModified = adopted.LastModified
		c.assignments[in.BundleID] = adopted
		c.mu.Unlock()
		c.publish(bridge.Event{Kind: bridge.EventAssignmentAdded, Assignment: adopted.Clone()})
		return ApplyAdded
	}

	if in.LastModified <= local.LastModified {
		c.mu.Unlock()
		return ApplyUnchanged
	}

	local.CategoryName = in.CategoryName
	local.LastModified = in.LastModified
	local.OriginDevice = in.OriginDevice
	local.UploadedModified = in.LastModified
	updated := local.Clone()
	c.mu.Unlock()

	c.publish(bridge.Event{Kind: bridge.EventAssignmentUpdated, Assignment: updated})
	return ApplyUpdated
}

// ApplyResolvedCategory folds a conflict-resolution winner into local
// state. Unlike ApplyRemoteCategory it replaces the local value even when
// the winner is older (useLocal/useOldest strategies can pick an older
// version); it stays idempotent by comparing content, not timestamps.
func (c *Catalog) ApplyResolvedCategory(in *models.SyncableCategory) ApplyResult {
	c.mu.Lock()

	local, ok := c.categories[in.Name]
	if !ok {
		adopted := in.Clone()
		adopted.UploadedModified = adopted.LastModified
		c.categories[in.Name] = adopted
		c.mu.Unlock()
		c.publish(bridge.Event{Kind: bridge.EventCategoryAdded, Category: adopted.Clone()})
		return ApplyAdded
	}

	if local.Icon == in.Icon && local.IsCustom == in.IsCustom && local.LastModified == in.LastModified {
		c.mu.Unlock()
		return ApplyUnchanged
	}

	local.Icon = in.Icon
	local.IsCustom = in.IsCustom
	local.LastModified = in.LastModified
	local.OriginDevice = in.OriginDevice
	local.UploadedModified = in.LastModified
	updated := local.Clone()
	c.mu.Unlock()

	c.publish(bridge.Event{Kind: bridge.EventCategoryUpdated, Category: updated})
	return ApplyUpdated
}

// ApplyResolvedAssignment is the assignment counterpart of
// ApplyResolvedCategory.
func (c *Catalog) ApplyResolvedAssignment(in *models.SyncableAppAssignment) ApplyResult {
	c.mu.Lock()

	local, ok := c.assignments[in.BundleID]
	if !ok {
		adopted := in.Clone()
		adopted.UploadedModified = adopted.LastModified
		c.assignments[in.BundleID] = adopted
		c.mu.Unlock()
		c.publish(bridge.Event{Kind: bridge.EventAssignmentAdded, Assignment: adopted.Clone()})
		return ApplyAdded
	}

	if local.CategoryName == in.CategoryName && local.LastModified == in.LastModified {
		c.mu.Unlock()
		return ApplyUnchanged
	}

	local.CategoryName = in.CategoryName
	local.LastModified = in.LastModified
	local.OriginDevice = in.OriginDevice
	local.UploadedModified = in.LastModified
	updated := local.Clone()
	c.mu.Unlock()

	c.publish(bridge.Event{Kind: bridge.EventAssignmentUpdated, Assignment: updated})
	return ApplyUpdated
}

func (c *Catalog) publish(ev bridge.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

// =====================================================
// Bridge Subscription
// =====================================================

// Run applies conflict-resolution outcomes from the bridge subscription
// opened in New until the context is cancelled. Manual askUser decisions
// arrive here after the sync cycle that parked them has finished.
func (c *Catalog) Run(ctx context.Context) {
	if c.events == nil {
		return
	}
	defer c.cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Catalog) handleEvent(ev bridge.Event) {
	switch ev.Kind {
	case bridge.EventConflictResolved:
		if ev.Category != nil {
			c.ApplyResolvedCategory(ev.Category)
		}
		if ev.Assignment != nil {
			c.ApplyResolvedAssignment(ev.Assignment)
		}
	case bridge.EventDeletionResolved:
		if ev.Decision != models.DeletionProceed || ev.Conflict == nil {
			return
		}
		name := ev.Conflict.Key()
		c.mu.Lock()
		affected, err := c.deleteCategoryLocked(name)
		c.mu.Unlock()
		if err != nil {
			logging.Warn("Deletion decision for unknown category",
				map[string]interface{}{"category": name, "error": err.Error()})
			return
		}
		logging.Info("Applied remote category deletion",
			map[string]interface{}{"category": name, "reassigned": len(affected)})
	}
}
