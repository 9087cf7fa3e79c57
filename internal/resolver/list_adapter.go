package resolver

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"sharesheet/internal/dispatch"
	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

// State of an adapter's current rebuild pass.
type State int

const (
	StateEmpty State = iota
	StateRebuilding
	StateSorting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRebuilding:
		return "rebuilding"
	case StateSorting:
		return "sorting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listener receives list notifications, always on the callback executor.
// For a pass that needs sorting OnPostListReady fires twice, first with
// rebuildCompleted false; otherwise once with true.
type Listener interface {
	OnPostListReady(adapter *ListAdapter, doPostProcessing, rebuildCompleted bool)
	OnRebuildFailed(adapter *ListAdapter, err error)
}

// PresentationListener is optionally implemented by a Listener to hear
// about labels and icons arriving.
type PresentationListener interface {
	OnPresentationLoaded(adapter *ListAdapter, dri *types.DisplayResolveInfo)
}

// Hooks let a wrapping adapter customize a rebuild. Every field is optional.
type Hooks struct {
	// Sort orders the filtered candidates on the background pool. The
	// default is Controller.Sort.
	Sort func(ctx context.Context, list []*types.ResolvedComponentInfo) error
	// ShouldAdd vetoes a display entry before the duplicate check.
	ShouldAdd func(dri *types.DisplayResolveInfo) bool
	// ListRebuilt runs on the callback executor right before
	// OnPostListReady.
	ListRebuilt func(rebuildCompleted bool)
	// Rebuilding runs on the caller of RebuildList once generation has
	// superseded every earlier rebuild.
	Rebuilding func(generation uint64)
}

type AdapterOptions struct {
	Intents              []*types.Intent
	InitialIntents       []*types.Intent
	BaseResolveList      []*types.ResolvedComponentInfo
	User                 types.UserHandle
	FilterLastUsed       bool
	UseLayoutWithDefault bool
	Controller           *Controller
	Presentation         *PresentationLoader
	Callback             dispatch.Executor
	Background           *dispatch.Pool
	PresentationPool     *dispatch.Pool
	Listener             Listener
	Hooks                Hooks
	Logger               logging.Logger
}

// rebuildPass is what one rebuild learned before its list was built.
type rebuildPass struct {
	generation       uint64
	doPostProcessing bool
	otherProfile     *types.DisplayResolveInfo
	lastChosen       types.ComponentName
	hasLastChosen    bool
}

// ListAdapter owns the display list of one profile. Rebuild state is only
// mutated under mu; results of background sorts and every notification go
// through the callback executor, and each is dropped when the adapter was
// destroyed or a newer rebuild started.
type ListAdapter struct {
	intents        []*types.Intent
	initialIntents []*types.Intent
	baseList       []*types.ResolvedComponentInfo
	user           types.UserHandle
	filterLastUsed bool
	useDefault     bool
	controller     *Controller
	loader         *PresentationLoader
	callback       dispatch.Executor
	background     *dispatch.Pool
	presentPool    *dispatch.Pool
	listener       Listener
	hooks          Hooks
	logger         logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	destroyed atomic.Bool

	mu                 sync.RWMutex
	generation         uint64
	state              State
	displayList        []*types.DisplayResolveInfo
	unfiltered         []*types.ResolvedComponentInfo
	otherProfile       *types.DisplayResolveInfo
	lastChosenPosition int
	placeholderCount   int
	tabLoaded          bool
	lastErr            error
	requestedLabels    map[*types.DisplayResolveInfo]struct{}
	requestedIcons     map[*types.DisplayResolveInfo]struct{}
}

func NewListAdapter(opts AdapterOptions) *ListAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	presentPool := opts.PresentationPool
	if presentPool == nil {
		presentPool = opts.Background
	}
	return &ListAdapter{
		intents:            opts.Intents,
		initialIntents:     opts.InitialIntents,
		baseList:           opts.BaseResolveList,
		user:               opts.User,
		filterLastUsed:     opts.FilterLastUsed,
		useDefault:         opts.UseLayoutWithDefault,
		controller:         opts.Controller,
		loader:             opts.Presentation,
		callback:           opts.Callback,
		background:         opts.Background,
		presentPool:        presentPool,
		listener:           opts.Listener,
		hooks:              opts.Hooks,
		logger:             logging.OrNop(opts.Logger).With(logging.F("component", "list_adapter"), logging.F("user", opts.User)),
		ctx:                ctx,
		cancel:             cancel,
		lastChosenPosition: -1,
		requestedLabels:    map[*types.DisplayResolveInfo]struct{}{},
		requestedIcons:     map[*types.DisplayResolveInfo]struct{}{},
	}
}

func (a *ListAdapter) User() types.UserHandle { return a.user }

func (a *ListAdapter) Controller() *Controller { return a.controller }

func (a *ListAdapter) Intents() []*types.Intent { return a.intents }

func (a *ListAdapter) InitialIntents() []*types.Intent { return a.initialIntents }

func (a *ListAdapter) FilterLastUsed() bool { return a.filterLastUsed }

func (a *ListAdapter) TargetIntent() *types.Intent {
	if len(a.intents) == 0 {
		return nil
	}
	return a.intents[0]
}

// RebuildList discards the current list and builds it again. completed is
// true when the list was built synchronously; otherwise a background sort is
// running and the list arrives with the second OnPostListReady. Resolution
// errors are returned and abort the pass.
func (a *ListAdapter) RebuildList(ctx context.Context, doPostProcessing bool) (completed bool, err error) {
	if a.destroyed.Load() {
		return false, ErrDestroyed
	}
	a.mu.Lock()
	a.generation++
	pass := rebuildPass{generation: a.generation, doPostProcessing: doPostProcessing}
	a.state = StateRebuilding
	a.displayList = nil
	a.otherProfile = nil
	a.lastChosenPosition = -1
	a.placeholderCount = 0
	a.tabLoaded = false
	a.lastErr = nil
	a.mu.Unlock()
	if a.hooks.Rebuilding != nil {
		a.hooks.Rebuilding(pass.generation)
	}
	logger := a.logger.With(logging.Generation(pass.generation))

	var current []*types.ResolvedComponentInfo
	if a.baseList != nil {
		current = a.controller.AddResolveListDedupe(ctx, nil, a.TargetIntent(), a.baseList)
	} else {
		resolved, err := a.controller.Resolve(ctx, a.intents, a.user, true, true)
		if err != nil {
			a.mu.Lock()
			if a.generation == pass.generation {
				a.state = StateFailed
				a.lastErr = err
			}
			a.mu.Unlock()
			logger.Error("rebuild_resolve_failed", logging.Err(err))
			return false, err
		}
		var removed bool
		current, removed = a.controller.FilterIneligible(resolved)
		if removed {
			logger.Debug("ineligible_filtered", logging.F("before", len(resolved)), logging.F("after", len(current)))
		}
	}
	unfiltered := slices.Clone(current)

	for i, rci := range current {
		info := rci.ResolveInfoAt(0)
		if !info.IsOtherProfile() {
			continue
		}
		other := types.NewDisplayResolveInfo(rci.IntentAt(0), info, a.TargetIntent())
		other.IsOtherProfile = true
		other.SetDisplayLabel(info.Label(), "")
		pass.otherProfile = other
		current = slices.Delete(slices.Clone(current), i, i+1)
		break
	}
	if pass.otherProfile == nil && a.filterLastUsed {
		pass.lastChosen, pass.hasLastChosen = a.controller.LastChosen(ctx)
	}

	current, _ = a.controller.FilterLowPriority(current)

	a.mu.Lock()
	if a.generation != pass.generation {
		a.mu.Unlock()
		return false, nil
	}
	a.unfiltered = unfiltered
	a.otherProfile = pass.otherProfile
	if len(current) < 2 {
		a.mu.Unlock()
		a.processSortedList(ctx, pass, current)
		return true, nil
	}
	placeholders := len(current)
	if a.useDefault {
		placeholders--
	}
	a.placeholderCount = placeholders
	a.state = StateSorting
	a.mu.Unlock()

	logger.Debug("rebuild_sorting", logging.F("candidates", len(current)), logging.F("placeholders", placeholders))
	a.postListReady(pass, false)
	a.startSort(pass, current)
	return false, nil
}

func (a *ListAdapter) startSort(pass rebuildPass, list []*types.ResolvedComponentInfo) {
	sortFn := a.hooks.Sort
	if sortFn == nil {
		sortFn = a.controller.Sort
	}
	future := dispatch.Go(a.ctx, a.background, func(ctx context.Context) ([]*types.ResolvedComponentInfo, error) {
		if err := sortFn(ctx, list); err != nil {
			return nil, err
		}
		return list, nil
	})
	future.Then(a.callback, func(sorted []*types.ResolvedComponentInfo, err error) {
		if a.destroyed.Load() {
			return
		}
		if err != nil {
			a.failRebuild(pass, err)
			return
		}
		a.processSortedList(a.ctx, pass, sorted)
	}, func(err error) {
		a.logger.Warn("callback_post_failed", logging.Generation(pass.generation), logging.Err(err))
	})
}

func (a *ListAdapter) failRebuild(pass rebuildPass, err error) {
	rebuildErr := &RebuildError{Generation: pass.generation, User: a.user, Err: err}
	a.mu.Lock()
	if a.generation != pass.generation {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.lastErr = rebuildErr
	a.placeholderCount = 0
	a.mu.Unlock()
	a.logger.Error("rebuild_sort_failed", logging.Generation(pass.generation), logging.Err(err))
	if a.listener != nil {
		a.listener.OnRebuildFailed(a, rebuildErr)
	}
}

// processSortedList builds the display list: initial intents first, then
// sorted candidates without duplicates.
func (a *ListAdapter) processSortedList(ctx context.Context, pass rebuildPass, sorted []*types.ResolvedComponentInfo) {
	var list []*types.DisplayResolveInfo
	lastChosenPosition := -1
	if len(sorted) > 0 {
		for _, dri := range a.resolveInitialIntents(ctx) {
			list = a.addResolveInfo(list, dri)
		}
		for _, rci := range sorted {
			info := rci.ResolveInfoAt(0)
			if info == nil {
				continue
			}
			dri := types.NewDisplayResolveInfo(rci.IntentAt(0), info, a.TargetIntent())
			dri.Pinned = rci.Pinned
			before := len(list)
			list = a.addResolveInfo(list, dri)
			if len(list) == before {
				continue
			}
			for i := 1; i < rci.Count(); i++ {
				dri.AddAlternateSourceIntent(rci.IntentAt(i))
			}
			if pass.otherProfile == nil && pass.hasLastChosen && info.ComponentName() == pass.lastChosen {
				lastChosenPosition = len(list) - 1
			}
		}
	}

	a.mu.Lock()
	if a.generation != pass.generation || a.destroyed.Load() {
		a.mu.Unlock()
		a.logger.Debug("rebuild_superseded", logging.Generation(pass.generation))
		return
	}
	a.displayList = list
	a.lastChosenPosition = lastChosenPosition
	a.placeholderCount = 0
	a.state = StateReady
	a.tabLoaded = true
	a.mu.Unlock()
	a.postListReady(pass, true)
}

func (a *ListAdapter) addResolveInfo(list []*types.DisplayResolveInfo, dri *types.DisplayResolveInfo) []*types.DisplayResolveInfo {
	if dri == nil || dri.ResolveInfo == nil || dri.ResolveInfo.TargetUserID != types.UserCurrent {
		return list
	}
	if a.hooks.ShouldAdd != nil && !a.hooks.ShouldAdd(dri) {
		return list
	}
	for _, existing := range list {
		if types.ResolveInfoMatch(dri.ResolveInfo, existing.ResolveInfo) {
			return list
		}
	}
	return append(list, dri)
}

// resolveInitialIntents turns caller supplied intents into display entries.
// Intents that do not resolve are skipped.
func (a *ListAdapter) resolveInitialIntents(ctx context.Context) []*types.DisplayResolveInfo {
	var out []*types.DisplayResolveInfo
	for _, intent := range a.initialIntents {
		if intent == nil {
			continue
		}
		dri := a.ResolveInitialIntent(ctx, intent)
		if dri != nil {
			out = append(out, dri)
		}
	}
	return out
}

// ResolveInitialIntent resolves one caller supplied intent, applying its
// label and icon overrides. It returns nil when nothing handles the intent.
func (a *ListAdapter) ResolveInitialIntent(ctx context.Context, intent *types.Intent) *types.DisplayResolveInfo {
	info, err := a.controller.ResolveActivity(ctx, intent)
	if err != nil || info == nil {
		a.logger.Warn("initial_intent_unresolved", logging.F("intent", intent.Signature()), logging.Err(err))
		return nil
	}
	info.TargetUserID = types.UserCurrent
	user := a.user
	info.UserHandle = &user
	if intent.Label != "" {
		info.NonLocalizedLabel = intent.Label
	}
	if intent.Icon != "" {
		info.Icon = intent.Icon
	}
	return types.NewDisplayResolveInfo(intent, info, intent)
}

func (a *ListAdapter) postListReady(pass rebuildPass, rebuildCompleted bool) {
	a.post(pass.generation, func() {
		if a.hooks.ListRebuilt != nil {
			a.hooks.ListRebuilt(rebuildCompleted)
		}
		if a.listener != nil {
			a.listener.OnPostListReady(a, pass.doPostProcessing, rebuildCompleted)
		}
	})
}

// post runs fn on the callback executor unless the adapter is destroyed or
// generation has been superseded by then.
func (a *ListAdapter) post(generation uint64, fn func()) {
	err := a.callback.Post(func() {
		if a.destroyed.Load() || a.Generation() != generation {
			return
		}
		fn()
	})
	if err != nil {
		a.logger.Warn("callback_post_failed", logging.Err(err))
	}
}

func (a *ListAdapter) Generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.generation
}

func (a *ListAdapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// LastError is the error that failed the current pass, if any.
func (a *ListAdapter) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Count is the number of rows to show: the display list, or the
// placeholders while it is empty, minus the filtered last chosen entry.
func (a *ListAdapter) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := len(a.displayList)
	if total == 0 {
		total = a.placeholderCount
	}
	if a.filterLastUsed && a.lastChosenPosition >= 0 {
		total--
	}
	return total
}

func (a *ListAdapter) UnfilteredCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.displayList)
}

func (a *ListAdapter) HasFilteredItem() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.filterLastUsed && a.lastChosenPosition >= 0
}

func (a *ListAdapter) FilteredItem() *types.DisplayResolveInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.filterLastUsed && a.lastChosenPosition >= 0 {
		return a.displayList[a.lastChosenPosition]
	}
	return nil
}

// FilteredPosition is the display list index of the filtered entry, or -1.
func (a *ListAdapter) FilteredPosition() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.filterLastUsed && a.lastChosenPosition >= 0 {
		return a.lastChosenPosition
	}
	return -1
}

// Item returns the entry at a visible position, skipping the filtered one.
func (a *ListAdapter) Item(position int) (*types.DisplayResolveInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.filterLastUsed && a.lastChosenPosition >= 0 && position >= a.lastChosenPosition {
		position++
	}
	if position < 0 || position >= len(a.displayList) {
		return nil, false
	}
	return a.displayList[position], true
}

// TargetInfoForPosition returns the target at position, counting the
// filtered entry only when filtered is false.
func (a *ListAdapter) TargetInfoForPosition(position int, filtered bool) (types.TargetInfo, bool) {
	if filtered {
		dri, ok := a.Item(position)
		if !ok {
			return types.TargetInfo{}, false
		}
		return types.DisplayTarget(dri), true
	}
	dri := a.DisplayResolveInfo(position)
	if dri == nil {
		return types.TargetInfo{}, false
	}
	return types.DisplayTarget(dri), true
}

func (a *ListAdapter) DisplayResolveInfoCount() int {
	return a.UnfilteredCount()
}

func (a *ListAdapter) DisplayResolveInfo(index int) *types.DisplayResolveInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index < 0 || index >= len(a.displayList) {
		return nil
	}
	return a.displayList[index]
}

// DisplayList returns a copy of the display list.
func (a *ListAdapter) DisplayList() []*types.DisplayResolveInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.displayList)
}

// OtherProfile is the profile switch entry of the current pass, if any.
func (a *ListAdapter) OtherProfile() *types.DisplayResolveInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.otherProfile
}

func (a *ListAdapter) PlaceholderCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.placeholderCount
}

// UnfilteredResolveList is a copy of the candidates of the current pass
// before the other profile entry and low priority candidates were removed.
func (a *ListAdapter) UnfilteredResolveList() []*types.ResolvedComponentInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.unfiltered)
}

func (a *ListAdapter) IsTabLoaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tabLoaded
}

func (a *ListAdapter) MarkTabLoaded() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tabLoaded = true
}

// LoadLabel requests the label of dri once; it is filled in place later.
func (a *ListAdapter) LoadLabel(dri *types.DisplayResolveInfo) {
	if dri == nil || dri.HasDisplayLabel() || !a.markRequested(dri, a.requestedLabels) {
		return
	}
	a.submitPresentation(dri, func(ctx context.Context) {
		label, sublabel := a.loader.Label(ctx, dri.ResolveInfo)
		dri.SetDisplayLabel(label, sublabel)
	})
}

// LoadIcon requests the icon of dri once; it is filled in place later.
func (a *ListAdapter) LoadIcon(dri *types.DisplayResolveInfo) {
	if dri == nil || dri.HasDisplayIcon() || !a.markRequested(dri, a.requestedIcons) {
		return
	}
	a.submitPresentation(dri, func(ctx context.Context) {
		dri.SetIcon(a.loader.Icon(ctx, dri.ResolveInfo))
	})
}

func (a *ListAdapter) markRequested(dri *types.DisplayResolveInfo, requested map[*types.DisplayResolveInfo]struct{}) bool {
	if a.destroyed.Load() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := requested[dri]; ok {
		return false
	}
	requested[dri] = struct{}{}
	return true
}

func (a *ListAdapter) submitPresentation(dri *types.DisplayResolveInfo, load func(ctx context.Context)) {
	generation := a.Generation()
	err := a.presentPool.Submit(a.ctx, func() {
		if a.destroyed.Load() {
			return
		}
		load(a.ctx)
		if a.destroyed.Load() {
			return
		}
		listener, ok := a.listener.(PresentationListener)
		if !ok {
			return
		}
		a.post(generation, func() { listener.OnPresentationLoaded(a, dri) })
	})
	if err != nil {
		a.logger.Warn("presentation_submit_failed", logging.Err(err))
	}
}

// HandlePackagesChanged drops cached presentation and rebuilds.
func (a *ListAdapter) HandlePackagesChanged(ctx context.Context, doPostProcessing bool) (bool, error) {
	a.loader.Purge()
	a.mu.Lock()
	clear(a.requestedLabels)
	clear(a.requestedIcons)
	a.mu.Unlock()
	return a.RebuildList(ctx, doPostProcessing)
}

func (a *ListAdapter) IsDestroyed() bool {
	return a.destroyed.Load()
}

// Destroy stops the adapter. Work still in flight completes into nothing.
func (a *ListAdapter) Destroy() {
	if !a.destroyed.CompareAndSwap(false, true) {
		return
	}
	a.cancel()
	a.controller.Destroy()
	a.mu.Lock()
	clear(a.requestedLabels)
	clear(a.requestedIcons)
	a.mu.Unlock()
}
