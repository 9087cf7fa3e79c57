package chooser

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"sharesheet/internal/logging"
	"sharesheet/internal/ranking"
	"sharesheet/internal/resolver"
	"sharesheet/internal/types"
)

const (
	DefaultMaxRankedTargets         = 4
	DefaultMaxShortcutTargetsPerApp = 2

	// maxChooserTargetsPerApp limits chooser service results per app.
	maxChooserTargetsPerApp = 2

	callerTargetScoreBoost   = 900.0
	shortcutTargetScoreBoost = 90.0
	pinnedShortcutScoreBoost = 1000.0
	notSelectableTargetScore = -0.1
	serviceTargetScoreDecay  = 0.95
)

// PositionType says which section of the chooser a position falls in.
type PositionType int

const (
	PositionBad PositionType = iota - 1
	PositionCaller
	PositionService
	PositionStandard
	PositionStandardAZ
)

func (p PositionType) String() string {
	switch p {
	case PositionCaller:
		return "caller"
	case PositionService:
		return "service"
	case PositionStandard:
		return "standard"
	case PositionStandardAZ:
		return "standard_az"
	default:
		return "bad"
	}
}

// Listener receives chooser notifications on the callback executor.
type Listener interface {
	OnPostListReady(adapter *ListAdapter, doPostProcessing, rebuildCompleted bool)
	OnRebuildFailed(adapter *ListAdapter, err error)
	// OnServiceTargetsChanged fires when direct-share rows changed. completed
	// is true once loading finished for the current list.
	OnServiceTargetsChanged(adapter *ListAdapter, completed bool)
}

// PresentationListener is optionally implemented by a Listener.
type PresentationListener interface {
	OnPresentationLoaded(adapter *ListAdapter, dri *types.DisplayResolveInfo)
}

type Options struct {
	// Resolver configures the wrapped adapter. Its InitialIntents become
	// caller targets and its Listener and Hooks are replaced.
	Resolver                 resolver.AdapterOptions
	MaxRankedTargets         int
	MaxShortcutTargetsPerApp int
	ApplySharingAppLimits    bool
	DirectShareEnabled       bool
	Shortcuts                *ShortcutLoader
	Collator                 *ranking.LabelCollator
	Listener                 Listener
}

// ListAdapter is the chooser's list for one profile: caller targets,
// direct-share targets and the ranked list, plus an A-Z list of every app
// once the ranked list overflows.
type ListAdapter struct {
	base          *resolver.ListAdapter
	controller    *resolver.Controller
	callerIntents []*types.Intent
	maxRanked     int
	maxPerApp     int
	applyLimits   bool
	directShare   bool
	loader        *ShortcutLoader
	collator      *ranking.LabelCollator
	listener      Listener
	shortcuts     *ShortcutCache
	logger        logging.Logger

	mu                 sync.RWMutex
	callerTargets      []*types.DisplayResolveInfo
	serviceTargets     []types.TargetInfo
	sortedList         []types.TargetInfo
	numShortcutResults int
	// rowsGeneration is the rebuild the service row was reset for.
	rowsGeneration uint64
}

func NewListAdapter(opts Options) *ListAdapter {
	maxRanked := opts.MaxRankedTargets
	if maxRanked <= 0 {
		maxRanked = DefaultMaxRankedTargets
	}
	maxPerApp := opts.MaxShortcutTargetsPerApp
	if maxPerApp <= 0 {
		maxPerApp = DefaultMaxShortcutTargetsPerApp
	}
	collator := opts.Collator
	if collator == nil {
		collator = ranking.NewLabelCollator("")
	}
	a := &ListAdapter{
		controller:    opts.Resolver.Controller,
		callerIntents: opts.Resolver.InitialIntents,
		maxRanked:     maxRanked,
		maxPerApp:     maxPerApp,
		applyLimits:   opts.ApplySharingAppLimits,
		directShare:   opts.DirectShareEnabled,
		loader:        opts.Shortcuts,
		collator:      collator,
		listener:      opts.Listener,
		shortcuts:     NewShortcutCache(),
		logger:        logging.OrNop(opts.Resolver.Logger).With(logging.F("component", "chooser_adapter"), logging.F("user", opts.Resolver.User)),
	}
	baseOpts := opts.Resolver
	baseOpts.InitialIntents = nil
	baseOpts.Listener = baseListener{a}
	baseOpts.Hooks = resolver.Hooks{
		Sort: func(ctx context.Context, list []*types.ResolvedComponentInfo) error {
			return a.controller.TopK(ctx, list, a.maxRanked)
		},
		ShouldAdd:   a.shouldAdd,
		ListRebuilt: a.onListRebuilt,
		Rebuilding:  a.createPlaceholders,
	}
	a.base = resolver.NewListAdapter(baseOpts)
	a.createPlaceholders(a.base.Generation())
	return a
}

// baseListener forwards notifications of the wrapped adapter.
type baseListener struct {
	a *ListAdapter
}

func (l baseListener) OnPostListReady(_ *resolver.ListAdapter, doPostProcessing, rebuildCompleted bool) {
	if l.a.listener != nil {
		l.a.listener.OnPostListReady(l.a, doPostProcessing, rebuildCompleted)
	}
}

func (l baseListener) OnRebuildFailed(_ *resolver.ListAdapter, err error) {
	if l.a.listener != nil {
		l.a.listener.OnRebuildFailed(l.a, err)
	}
}

func (l baseListener) OnPresentationLoaded(_ *resolver.ListAdapter, dri *types.DisplayResolveInfo) {
	if listener, ok := l.a.listener.(PresentationListener); ok {
		listener.OnPresentationLoaded(l.a, dri)
	}
}

func (a *ListAdapter) Base() *resolver.ListAdapter { return a.base }

func (a *ListAdapter) User() types.UserHandle { return a.base.User() }

func (a *ListAdapter) Shortcuts() *ShortcutCache { return a.shortcuts }

func (a *ListAdapter) MaxRankedTargets() int { return a.maxRanked }

func (a *ListAdapter) TargetIntent() *types.Intent { return a.base.TargetIntent() }

// RebuildList resolves the caller targets and rebuilds the ranked list.
// The direct-share rows are reset to placeholders once the new generation
// is in place.
func (a *ListAdapter) RebuildList(ctx context.Context, doPostProcessing bool) (bool, error) {
	if a.base.IsDestroyed() {
		return false, resolver.ErrDestroyed
	}
	a.resolveCallerTargets(ctx)
	return a.base.RebuildList(ctx, doPostProcessing)
}

func (a *ListAdapter) HandlePackagesChanged(ctx context.Context, doPostProcessing bool) (bool, error) {
	if a.base.IsDestroyed() {
		return false, resolver.ErrDestroyed
	}
	a.shortcuts.Clear()
	a.resolveCallerTargets(ctx)
	return a.base.HandlePackagesChanged(ctx, doPostProcessing)
}

func (a *ListAdapter) resolveCallerTargets(ctx context.Context) {
	var targets []*types.DisplayResolveInfo
	for _, intent := range a.callerIntents {
		if intent == nil {
			continue
		}
		dri := a.base.ResolveInitialIntent(ctx, intent)
		if dri == nil {
			continue
		}
		targets = append(targets, dri)
		if len(targets) == a.maxRanked {
			break
		}
	}
	a.mu.Lock()
	a.callerTargets = targets
	a.mu.Unlock()
}

func (a *ListAdapter) createPlaceholders(generation uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rowsGeneration = generation
	a.numShortcutResults = 0
	a.serviceTargets = make([]types.TargetInfo, 0, a.maxRanked)
	for i := 0; i < a.maxRanked; i++ {
		a.serviceTargets = append(a.serviceTargets, types.PlaceholderTarget())
	}
}

// shouldAdd keeps apps already shown as caller targets out of the ranked
// list.
func (a *ListAdapter) shouldAdd(dri *types.DisplayResolveInfo) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, caller := range a.callerTargets {
		if types.ResolveInfoMatch(dri.ResolveInfo, caller.ResolveInfo) {
			return false
		}
	}
	return true
}

func (a *ListAdapter) onListRebuilt(rebuildCompleted bool) {
	if !rebuildCompleted {
		return
	}
	a.updateAlphabeticalList()
	if a.loader != nil && a.directShareApplies() {
		a.loadDirectShare()
	}
}

func (a *ListAdapter) directShareApplies() bool {
	return a.directShare && a.TargetIntent().IsSendAction()
}

// loadDirectShare queries shortcuts for the current display list. Results
// of a list that has since been rebuilt are dropped.
func (a *ListAdapter) loadDirectShare() {
	generation := a.base.Generation()
	appTargets := a.base.DisplayList()
	a.loader.Load(context.Background(), appTargets, func(user types.UserHandle, results []types.ShortcutResult) {
		if a.base.IsDestroyed() || a.base.Generation() != generation {
			return
		}
		a.logger.Debug("direct_share_loaded", logging.Generation(generation), logging.F("results", len(results)))
		for _, result := range results {
			a.shortcuts.Put(result)
			a.addServiceResults(generation, result.AppTarget, result.Targets, result.TargetType, a.shortcuts)
		}
		a.completeServiceTargetLoading(generation)
	})
}

// updateAlphabeticalList groups the display list per package and sorts the
// groups by label.
func (a *ListAdapter) updateAlphabeticalList() {
	byPackage := map[string][]*types.DisplayResolveInfo{}
	var order []string
	for _, dri := range a.base.DisplayList() {
		pkg := dri.ComponentName().Package
		if _, ok := byPackage[pkg]; !ok {
			order = append(order, pkg)
		}
		byPackage[pkg] = append(byPackage[pkg], dri)
	}
	sorted := make([]types.TargetInfo, 0, len(order))
	for _, pkg := range order {
		group := byPackage[pkg]
		if len(group) == 1 {
			sorted = append(sorted, types.DisplayTarget(group[0]))
			continue
		}
		sorted = append(sorted, types.MultiTarget(types.NewMultiDisplayResolveInfo(pkg, group)))
	}
	slices.SortStableFunc(sorted, func(x, y types.TargetInfo) int {
		return a.collator.Compare(sortLabel(x), sortLabel(y))
	})
	a.mu.Lock()
	a.sortedList = sorted
	a.mu.Unlock()
}

func sortLabel(target types.TargetInfo) string {
	if label := target.DisplayLabel(); label != "" {
		return label
	}
	return target.ResolveInfo().Label()
}

// AddServiceResults scores direct-share targets of origin and inserts them
// into the service row. It reports whether anything was inserted.
func (a *ListAdapter) AddServiceResults(origin *types.DisplayResolveInfo, targets []types.ChooserTarget, targetType int, cache *ShortcutCache) bool {
	return a.addServiceResults(a.rowsGen(), origin, targets, targetType, cache)
}

func (a *ListAdapter) rowsGen() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rowsGeneration
}

// addServiceResults inserts only while the service row still belongs to
// generation.
func (a *ListAdapter) addServiceResults(generation uint64, origin *types.DisplayResolveInfo, targets []types.ChooserTarget, targetType int, cache *ShortcutCache) bool {
	if a.base.IsDestroyed() || len(targets) == 0 {
		return false
	}
	baseScore := a.baseScore(origin, targetType)
	sorted := slices.Clone(targets)
	slices.SortStableFunc(sorted, func(x, y types.ChooserTarget) int {
		return cmp.Compare(y.Score, x.Score)
	})
	isShortcutResult := targetType == types.TargetTypeShortcutsFromShortcutManager ||
		targetType == types.TargetTypeShortcutsFromPredictionService
	maxTargets := maxChooserTargetsPerApp
	if isShortcutResult {
		maxTargets = a.maxPerApp
	}
	limit := len(sorted)
	if a.applyLimits {
		limit = min(limit, maxTargets)
	}

	extendedInfo := ""
	if origin != nil {
		extendedInfo = origin.DisplayLabel()
	}
	inserted := false
	lastScore := 0.0
	for i := 0; i < limit; i++ {
		target := sorted[i]
		score := target.Score
		if a.applyLimits {
			score *= baseScore
			if i > 0 && score >= lastScore {
				score = lastScore * serviceTargetScoreDecay
			}
		}
		var info types.ShortcutInfo
		var hasInfo bool
		if isShortcutResult {
			info, hasInfo = cache.ShortcutInfo(target)
		}
		if hasInfo && info.Pinned {
			score += pinnedShortcutScoreBoost
		}
		selectable := &types.SelectableTargetInfo{
			Source:        origin,
			Component:     target.Component,
			Title:         target.Title,
			ExtendedInfo:  extendedInfo,
			ModifiedScore: score,
			ShortcutID:    target.ShortcutID,
			Pinned:        hasInfo && info.Pinned,
			Intent:        target.Intent,
		}
		if a.insertServiceTarget(generation, selectable, isShortcutResult) {
			inserted = true
		}
		lastScore = score
	}
	if inserted && a.listener != nil {
		a.listener.OnServiceTargetsChanged(a, false)
	}
	return inserted
}

func (a *ListAdapter) baseScore(origin *types.DisplayResolveInfo, targetType int) float64 {
	if origin == nil {
		return callerTargetScoreBoost
	}
	if targetType == types.TargetTypeShortcutsFromPredictionService {
		return shortcutTargetScoreBoost
	}
	return a.controller.Score(origin.ComponentName())
}

func modifiedScore(target types.TargetInfo) float64 {
	if target.Kind == types.KindSelectable {
		return target.Selectable.ModifiedScore
	}
	return notSelectableTargetScore
}

func (a *ListAdapter) insertServiceTarget(generation uint64, selectable *types.SelectableTargetInfo, shortcut bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if generation != a.rowsGeneration {
		return false
	}
	if !a.insertLocked(selectable) {
		return false
	}
	if shortcut {
		a.numShortcutResults++
	}
	return true
}

func (a *ListAdapter) insertLocked(selectable *types.SelectableTargetInfo) bool {
	if len(a.serviceTargets) == 1 && a.serviceTargets[0].Kind == types.KindEmpty {
		return false
	}
	for _, existing := range a.serviceTargets {
		if existing.Kind == types.KindSelectable && selectable.IsSimilar(existing.Selectable) {
			return false
		}
	}
	target := types.SelectableTarget(selectable)
	size := len(a.serviceTargets)
	for i := 0; i < min(size, a.maxRanked); i++ {
		if selectable.ModifiedScore > modifiedScore(a.serviceTargets[i]) {
			a.serviceTargets = slices.Insert(a.serviceTargets, i, target)
			if len(a.serviceTargets) > a.maxRanked {
				a.serviceTargets = a.serviceTargets[:a.maxRanked]
			}
			return true
		}
	}
	if size < a.maxRanked {
		a.serviceTargets = append(a.serviceTargets, target)
		return true
	}
	return false
}

// CompleteServiceTargetLoading drops the remaining placeholders, leaving one
// empty target when nothing loaded.
func (a *ListAdapter) CompleteServiceTargetLoading() {
	a.completeServiceTargetLoading(a.rowsGen())
}

func (a *ListAdapter) completeServiceTargetLoading(generation uint64) {
	if a.base.IsDestroyed() {
		return
	}
	a.mu.Lock()
	if generation != a.rowsGeneration {
		a.mu.Unlock()
		return
	}
	a.serviceTargets = slices.DeleteFunc(a.serviceTargets, func(t types.TargetInfo) bool {
		return t.Kind == types.KindPlaceholder
	})
	if len(a.serviceTargets) == 0 {
		a.serviceTargets = append(a.serviceTargets, types.EmptyTarget())
	}
	a.mu.Unlock()
	if a.listener != nil {
		a.listener.OnServiceTargetsChanged(a, true)
	}
}

// ServiceTargets returns a copy of the direct-share row.
func (a *ListAdapter) ServiceTargets() []types.TargetInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.serviceTargets)
}

func (a *ListAdapter) CallerTargets() []*types.DisplayResolveInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.callerTargets)
}

// SortedList returns a copy of the A-Z list.
func (a *ListAdapter) SortedList() []types.TargetInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.sortedList)
}

func (a *ListAdapter) NumShortcutResults() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.numShortcutResults
}

// ServiceTargetCount is the width of the direct-share row, including
// placeholders. It is zero unless direct share applies to the intent.
func (a *ListAdapter) ServiceTargetCount() int {
	if !a.directShareApplies() {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return min(len(a.serviceTargets), a.maxRanked)
}

func (a *ListAdapter) SelectableServiceTargetCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	count := 0
	for _, target := range a.serviceTargets {
		if target.Kind == types.KindSelectable {
			count++
		}
	}
	return count
}

func (a *ListAdapter) CallerTargetCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return min(len(a.callerTargets), a.maxRanked)
}

func (a *ListAdapter) RankedTargetCount() int {
	spaces := a.maxRanked - a.CallerTargetCount()
	return max(min(spaces, a.base.Count()), 0)
}

// AlphaTargetCount is the length of the A-Z list, which is only shown when
// the ranked row cannot hold every app.
func (a *ListAdapter) AlphaTargetCount() int {
	if a.base.UnfilteredCount() <= a.maxRanked {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sortedList)
}

func (a *ListAdapter) Count() int {
	return a.RankedTargetCount() + a.AlphaTargetCount() + a.SelectableServiceTargetCount() + a.CallerTargetCount()
}

func (a *ListAdapter) PositionTargetType(position int) PositionType {
	if position < 0 {
		return PositionBad
	}
	offset := 0
	serviceCount := a.ServiceTargetCount()
	if position < serviceCount {
		return PositionService
	}
	offset += serviceCount
	callerCount := a.CallerTargetCount()
	if position-offset < callerCount {
		return PositionCaller
	}
	offset += callerCount
	rankedCount := a.RankedTargetCount()
	if position-offset < rankedCount {
		return PositionStandard
	}
	offset += rankedCount
	if position-offset < a.AlphaTargetCount() {
		return PositionStandardAZ
	}
	return PositionBad
}

// TargetInfoForPosition returns the target at position across the service,
// caller, ranked and A-Z sections. filtered selects the visible positions;
// otherwise service positions count selectable targets only and ranked
// positions include the filtered last chosen app.
func (a *ListAdapter) TargetInfoForPosition(position int, filtered bool) (types.TargetInfo, bool) {
	if position < 0 {
		return types.TargetInfo{}, false
	}
	offset := 0
	serviceCount := a.SelectableServiceTargetCount()
	if filtered {
		serviceCount = a.ServiceTargetCount()
	}
	if position < serviceCount {
		a.mu.RLock()
		defer a.mu.RUnlock()
		if position < len(a.serviceTargets) {
			return a.serviceTargets[position], true
		}
		return types.TargetInfo{}, false
	}
	offset += serviceCount
	callerCount := a.CallerTargetCount()
	if position-offset < callerCount {
		a.mu.RLock()
		defer a.mu.RUnlock()
		if position-offset < len(a.callerTargets) {
			return types.DisplayTarget(a.callerTargets[position-offset]), true
		}
		return types.TargetInfo{}, false
	}
	offset += callerCount
	rankedCount := a.RankedTargetCount()
	if position-offset < rankedCount {
		return a.base.TargetInfoForPosition(position-offset, filtered)
	}
	offset += rankedCount
	if position-offset < a.AlphaTargetCount() {
		a.mu.RLock()
		defer a.mu.RUnlock()
		if position-offset < len(a.sortedList) {
			return a.sortedList[position-offset], true
		}
	}
	return types.TargetInfo{}, false
}

// LoadPresentation requests labels and icons for every target the chooser
// can show.
func (a *ListAdapter) LoadPresentation() {
	for _, dri := range a.CallerTargets() {
		a.base.LoadLabel(dri)
		a.base.LoadIcon(dri)
	}
	for _, dri := range a.base.DisplayList() {
		a.base.LoadLabel(dri)
		a.base.LoadIcon(dri)
	}
	if other := a.base.OtherProfile(); other != nil {
		a.base.LoadIcon(other)
	}
}

func (a *ListAdapter) UnfilteredCount() int { return a.base.UnfilteredCount() }

func (a *ListAdapter) OtherProfile() *types.DisplayResolveInfo { return a.base.OtherProfile() }

func (a *ListAdapter) DisplayResolveInfo(index int) *types.DisplayResolveInfo {
	return a.base.DisplayResolveInfo(index)
}

func (a *ListAdapter) IsTabLoaded() bool { return a.base.IsTabLoaded() }

func (a *ListAdapter) State() resolver.State { return a.base.State() }

func (a *ListAdapter) LastError() error { return a.base.LastError() }

func (a *ListAdapter) IsDestroyed() bool { return a.base.IsDestroyed() }

func (a *ListAdapter) Destroy() {
	a.base.Destroy()
	a.shortcuts.Clear()
}
