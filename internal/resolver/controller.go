package resolver

import (
	"container/heap"
	"context"
	"fmt"
	"slices"
	"sync"

	"sharesheet/internal/logging"
	"sharesheet/internal/ranking"
	"sharesheet/internal/store"
	"sharesheet/internal/types"
)

// IntentResolver is the package manager query the controller resolves
// against.
type IntentResolver interface {
	QueryIntentActivities(ctx context.Context, intent *types.Intent, user types.UserHandle, flags types.QueryFlags) ([]*types.ResolveInfo, error)
}

// PermissionChecker reports whether the launching app holds a permission.
type PermissionChecker interface {
	CheckPermission(permission string) bool
}

type ControllerOptions struct {
	TargetIntent   *types.Intent
	User           types.UserHandle
	Resolver       IntentResolver
	Permissions    PermissionChecker
	CallerUID      int
	Pins           store.PinStore
	Chosen         store.ChosenStore
	Comparator     ranking.Comparator
	PromoteToFirst types.ComponentName
	Logger         logging.Logger
}

// Controller resolves and filters candidates for one profile and owns the
// comparator that ranks them.
type Controller struct {
	targetIntent *types.Intent
	user         types.UserHandle
	resolver     IntentResolver
	permissions  PermissionChecker
	callerUID    int
	pins         store.PinStore
	chosen       store.ChosenStore
	comparator   ranking.Comparator
	promote      types.ComponentName
	excluded     map[types.ComponentName]struct{}
	logger       logging.Logger

	sortMu chan struct{}
}

func NewController(opts ControllerOptions) *Controller {
	logger := logging.OrNop(opts.Logger).With(logging.F("component", "resolver_controller"), logging.F("user", opts.User))
	comparator := opts.Comparator
	if comparator == nil {
		comparator = ranking.NewHeuristicComparator(ranking.Options{
			Intent:         opts.TargetIntent,
			User:           opts.User,
			PromoteToFirst: opts.PromoteToFirst,
			Logger:         opts.Logger,
		}, nil)
	}
	c := &Controller{
		targetIntent: opts.TargetIntent,
		user:         opts.User,
		resolver:     opts.Resolver,
		permissions:  opts.Permissions,
		callerUID:    opts.CallerUID,
		pins:         opts.Pins,
		chosen:       opts.Chosen,
		comparator:   comparator,
		promote:      opts.PromoteToFirst,
		excluded:     map[types.ComponentName]struct{}{},
		logger:       logger,
		sortMu:       make(chan struct{}, 1),
	}
	c.readExcludedComponents()
	return c
}

func (c *Controller) readExcludedComponents() {
	raw, ok := c.targetIntent.StringSliceExtra(types.ExtraExcludeComponents)
	if !ok {
		return
	}
	for _, flat := range raw {
		name, err := types.UnflattenComponentName(flat)
		if err != nil {
			c.logger.Warn("excluded_component_invalid", logging.F("value", flat), logging.Err(err))
			continue
		}
		c.excluded[name] = struct{}{}
	}
}

func (c *Controller) User() types.UserHandle { return c.user }

func (c *Controller) TargetIntent() *types.Intent { return c.targetIntent }

func (c *Controller) Comparator() ranking.Comparator { return c.comparator }

// Resolve queries every intent for user and merges the results by resolved
// component. Alternate intents of a component already seen are appended to
// it. Resolver errors are returned as is.
func (c *Controller) Resolve(ctx context.Context, intents []*types.Intent, user types.UserHandle, wantMetadata, defaultOnly bool) ([]*types.ResolvedComponentInfo, error) {
	var flags types.QueryFlags
	if defaultOnly {
		flags |= types.MatchDefaultOnly
	}
	if wantMetadata {
		flags |= types.GetResolvedFilter | types.GetMetaData
	}
	var out []*types.ResolvedComponentInfo
	for _, intent := range intents {
		if intent == nil {
			continue
		}
		infos, err := c.resolver.QueryIntentActivities(ctx, intent, user, flags)
		if err != nil {
			return nil, err
		}
		out = c.addResolveListDedupe(ctx, out, intent, infos)
	}
	return out, nil
}

// AddResolveListDedupe merges a caller supplied candidate list the same way
// Resolve merges query results.
func (c *Controller) AddResolveListDedupe(ctx context.Context, into []*types.ResolvedComponentInfo, intent *types.Intent, from []*types.ResolvedComponentInfo) []*types.ResolvedComponentInfo {
	for _, rci := range from {
		for i := 0; i < rci.Count(); i++ {
			source := rci.IntentAt(i)
			if source == nil {
				source = intent
			}
			into = c.addResolveListDedupe(ctx, into, source, []*types.ResolveInfo{rci.ResolveInfoAt(i)})
		}
	}
	return into
}

func (c *Controller) addResolveListDedupe(ctx context.Context, into []*types.ResolvedComponentInfo, intent *types.Intent, infos []*types.ResolveInfo) []*types.ResolvedComponentInfo {
	for _, info := range infos {
		if info == nil {
			continue
		}
		if info.UserHandle == nil {
			c.logger.Warn("resolve_info_without_user", logging.Component(info.ComponentName()))
			continue
		}
		name := info.ComponentName()
		merged := false
		for _, existing := range into {
			if existing.Name != name {
				continue
			}
			merged = true
			if existing.FindIntent(intent) < 0 {
				if err := existing.Add(intent, info); err != nil {
					c.logger.Warn("resolve_info_merge_failed", logging.Component(name), logging.Err(err))
				}
			}
			break
		}
		if merged {
			continue
		}
		rci := types.NewResolvedComponentInfo(name, intent, info)
		rci.Pinned = c.IsComponentPinned(ctx, name)
		rci.FixedAtTop = !c.promote.IsZero() && name == c.promote
		into = append(into, rci)
	}
	return into
}

// ResolveActivity resolves an explicit or implicit intent to a single
// activity of the controller's profile, or nil.
func (c *Controller) ResolveActivity(ctx context.Context, intent *types.Intent) (*types.ResolveInfo, error) {
	infos, err := c.resolver.QueryIntentActivities(ctx, intent, c.user, 0)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if !info.IsOtherProfile() {
			return info.Clone(), nil
		}
	}
	return nil, nil
}

// FilterIneligible drops candidates the caller may not launch: not exported
// or guarded by a permission it lacks, excluded by the intent, disabled or
// suspended. The input is never modified.
func (c *Controller) FilterIneligible(list []*types.ResolvedComponentInfo) (out []*types.ResolvedComponentInfo, removed bool) {
	out = make([]*types.ResolvedComponentInfo, 0, len(list))
	for _, rci := range list {
		info := rci.ResolveInfoAt(0)
		if info == nil || !c.eligible(info) {
			removed = true
			continue
		}
		out = append(out, rci)
	}
	return out, removed
}

func (c *Controller) eligible(info *types.ResolveInfo) bool {
	activity := info.Activity
	if _, excluded := c.excluded[activity.Name]; excluded {
		return false
	}
	if !activity.Enabled || activity.Suspended {
		return false
	}
	return c.hasComponentPermission(activity)
}

func (c *Controller) hasComponentPermission(activity types.ActivityInfo) bool {
	if c.callerUID != 0 && activity.AppUID == c.callerUID {
		return true
	}
	if !activity.Exported {
		return false
	}
	if activity.Permission == "" {
		return true
	}
	return c.permissions != nil && c.permissions.CheckPermission(activity.Permission)
}

// FilterLowPriority keeps the leading run of candidates sharing the first
// candidate's priority and default flag. The input is never modified.
func (c *Controller) FilterLowPriority(list []*types.ResolvedComponentInfo) (out []*types.ResolvedComponentInfo, removed bool) {
	if len(list) == 0 {
		return nil, false
	}
	first := list[0].ResolveInfoAt(0)
	out = make([]*types.ResolvedComponentInfo, 0, len(list))
	out = append(out, list[0])
	for i := 1; i < len(list); i++ {
		info := list[i].ResolveInfoAt(0)
		if info.Priority != first.Priority || info.IsDefault != first.IsDefault {
			return out, true
		}
		out = append(out, list[i])
	}
	return out, false
}

// Sort computes the comparator for list, waiting for it to complete, and
// sorts list in place. A panicking comparator fails the sort.
func (c *Controller) Sort(ctx context.Context, list []*types.ResolvedComponentInfo) (err error) {
	if err := c.lockSort(ctx); err != nil {
		return err
	}
	defer c.unlockSort()
	if err := c.compute(ctx, list); err != nil {
		return err
	}
	defer recoverSort(&err)
	slices.SortStableFunc(list, c.comparator.Compare)
	return nil
}

// TopK places the best k candidates, in order, at the front of list. The
// rest keep their relative order.
func (c *Controller) TopK(ctx context.Context, list []*types.ResolvedComponentInfo, k int) (err error) {
	if err := c.lockSort(ctx); err != nil {
		return err
	}
	defer c.unlockSort()
	if err := c.compute(ctx, list); err != nil {
		return err
	}
	defer recoverSort(&err)
	if k <= 0 {
		return nil
	}
	if len(list) <= k {
		slices.SortStableFunc(list, c.comparator.Compare)
		return nil
	}
	h := &candidateHeap{less: func(a, b *types.ResolvedComponentInfo) bool {
		return c.comparator.Compare(a, b) > 0
	}}
	best := make(map[*types.ResolvedComponentInfo]struct{}, k)
	for _, rci := range list {
		if h.Len() < k {
			heap.Push(h, rci)
			continue
		}
		if c.comparator.Compare(rci, h.items[0]) < 0 {
			heap.Pop(h)
			heap.Push(h, rci)
		}
	}
	top := make([]*types.ResolvedComponentInfo, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(*types.ResolvedComponentInfo)
		best[top[i]] = struct{}{}
	}
	rest := make([]*types.ResolvedComponentInfo, 0, len(list)-len(top))
	for _, rci := range list {
		if _, ok := best[rci]; !ok {
			rest = append(rest, rci)
		}
	}
	copy(list, top)
	copy(list[len(top):], rest)
	return nil
}

func (c *Controller) lockSort(ctx context.Context) error {
	select {
	case c.sortMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSortFailed, ctx.Err())
	}
}

func (c *Controller) unlockSort() {
	<-c.sortMu
}

func (c *Controller) compute(ctx context.Context, list []*types.ResolvedComponentInfo) error {
	done := make(chan struct{})
	var once sync.Once
	c.comparator.SetCallback(func() { once.Do(func() { close(done) }) })
	c.comparator.Compute(ctx, list)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSortFailed, ctx.Err())
	}
}

func recoverSort(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: comparator panicked: %v", ErrSortFailed, r)
	}
}

type candidateHeap struct {
	items []*types.ResolvedComponentInfo
	less  func(a, b *types.ResolvedComponentInfo) bool
}

func (h *candidateHeap) Len() int           { return len(h.items) }
func (h *candidateHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *candidateHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candidateHeap) Push(x any)         { h.items = append(h.items, x.(*types.ResolvedComponentInfo)) }
func (h *candidateHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

// LastChosen returns the component last picked for the target intent.
// Store failures are logged and read as no last chosen.
func (c *Controller) LastChosen(ctx context.Context) (types.ComponentName, bool) {
	if c.chosen == nil {
		return types.ComponentName{}, false
	}
	name, ok, err := c.chosen.LastChosen(ctx, c.user, c.targetIntent.Signature())
	if err != nil {
		c.logger.Warn("last_chosen_lookup_failed", logging.Err(err))
		return types.ComponentName{}, false
	}
	return name, ok
}

func (c *Controller) SetLastChosen(ctx context.Context, name types.ComponentName) error {
	if c.chosen == nil {
		return nil
	}
	return c.chosen.SetLastChosen(ctx, c.user, c.targetIntent.Signature(), name)
}

func (c *Controller) IsComponentPinned(ctx context.Context, name types.ComponentName) bool {
	if c.pins == nil {
		return false
	}
	pinned, err := c.pins.IsPinned(ctx, c.user, name)
	if err != nil {
		c.logger.Warn("pin_lookup_failed", logging.Component(name), logging.Err(err))
		return false
	}
	return pinned
}

func (c *Controller) SetComponentPinned(ctx context.Context, name types.ComponentName, pinned bool) error {
	if c.pins == nil {
		return nil
	}
	return c.pins.SetPinned(ctx, c.user, name, pinned)
}

func (c *Controller) UpdateModel(name types.ComponentName) {
	c.comparator.UpdateModel(name)
}

func (c *Controller) UpdateChooserCounts(pkg string, user types.UserHandle, action string) {
	c.comparator.UpdateChooserCounts(pkg, user, action)
}

func (c *Controller) Score(name types.ComponentName) float64 {
	return c.comparator.Score(name)
}

func (c *Controller) Destroy() {
	c.comparator.Destroy()
}
