package chooser

import (
	"context"
	"math"
	"slices"
	"sync"

	"sharesheet/internal/dispatch"
	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

// ShortcutCache maps direct-share targets back to the shortcut and app
// target they came from. Each chooser adapter owns one.
type ShortcutCache struct {
	mu         sync.RWMutex
	shortcuts  map[string]types.ShortcutInfo
	appTargets map[string]types.AppTarget
}

func NewShortcutCache() *ShortcutCache {
	return &ShortcutCache{
		shortcuts:  map[string]types.ShortcutInfo{},
		appTargets: map[string]types.AppTarget{},
	}
}

// Put records the shortcut and app target of every target in result.
func (c *ShortcutCache) Put(result types.ShortcutResult) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, info := range result.Shortcuts {
		c.shortcuts[key] = info
	}
	for key, target := range result.AppTargets {
		c.appTargets[key] = target
	}
}

func (c *ShortcutCache) ShortcutInfo(target types.ChooserTarget) (types.ShortcutInfo, bool) {
	if c == nil {
		return types.ShortcutInfo{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.shortcuts[target.Key()]
	return info, ok
}

func (c *ShortcutCache) AppTarget(target types.ChooserTarget) (types.AppTarget, bool) {
	if c == nil {
		return types.AppTarget{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	app, ok := c.appTargets[target.Key()]
	return app, ok
}

func (c *ShortcutCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.shortcuts)
}

func (c *ShortcutCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.shortcuts)
	clear(c.appTargets)
}

// ShortcutSource lists the sharing shortcuts a user's apps publish for an
// intent.
type ShortcutSource interface {
	QueryShareShortcuts(ctx context.Context, user types.UserHandle, intent *types.Intent) ([]types.ShareShortcut, error)
}

type ShortcutLoaderOptions struct {
	Source     ShortcutSource
	User       types.UserHandle
	Intent     *types.Intent
	TargetType int
	Pool       *dispatch.Pool
	Callback   dispatch.Executor
	Logger     logging.Logger
}

// ShortcutLoader queries shortcuts on the background pool and hands the
// results to the callback executor.
type ShortcutLoader struct {
	source     ShortcutSource
	user       types.UserHandle
	intent     *types.Intent
	targetType int
	pool       *dispatch.Pool
	callback   dispatch.Executor
	logger     logging.Logger
}

func NewShortcutLoader(opts ShortcutLoaderOptions) *ShortcutLoader {
	targetType := opts.TargetType
	if targetType != types.TargetTypeShortcutsFromPredictionService {
		targetType = types.TargetTypeShortcutsFromShortcutManager
	}
	return &ShortcutLoader{
		source:     opts.Source,
		user:       opts.User,
		intent:     opts.Intent,
		targetType: targetType,
		pool:       opts.Pool,
		callback:   opts.Callback,
		logger:     logging.OrNop(opts.Logger).With(logging.F("component", "shortcut_loader"), logging.F("user", opts.User)),
	}
}

func (l *ShortcutLoader) User() types.UserHandle { return l.user }

// Load queries shortcuts for the given app targets. deliver runs on the
// callback executor with one result per app target that has shortcuts; a
// failed query delivers no results.
func (l *ShortcutLoader) Load(ctx context.Context, appTargets []*types.DisplayResolveInfo, deliver func(user types.UserHandle, results []types.ShortcutResult)) {
	targets := slices.Clone(appTargets)
	future := dispatch.Go(ctx, l.pool, func(ctx context.Context) ([]types.ShortcutResult, error) {
		shortcuts, err := l.source.QueryShareShortcuts(ctx, l.user, l.intent)
		if err != nil {
			return nil, err
		}
		return l.convert(shortcuts, targets), nil
	})
	future.Then(l.callback, func(results []types.ShortcutResult, err error) {
		if err != nil {
			l.logger.Warn("shortcut_query_failed", logging.Err(err))
			results = nil
		}
		deliver(l.user, results)
	}, func(err error) {
		l.logger.Warn("shortcut_delivery_dropped", logging.Err(err))
	})
}

func (l *ShortcutLoader) convert(shortcuts []types.ShareShortcut, appTargets []*types.DisplayResolveInfo) []types.ShortcutResult {
	var results []types.ShortcutResult
	for _, dri := range appTargets {
		if dri == nil {
			continue
		}
		name := dri.ComponentName()
		var matching []types.ShareShortcut
		for _, shortcut := range shortcuts {
			if shortcut.Target == name {
				matching = append(matching, shortcut)
			}
		}
		if len(matching) == 0 {
			continue
		}
		slices.SortStableFunc(matching, func(a, b types.ShareShortcut) int {
			return a.Info.Rank - b.Info.Rank
		})
		result := types.ShortcutResult{
			AppTarget:  dri,
			TargetType: l.targetType,
			Shortcuts:  make(map[string]types.ShortcutInfo, len(matching)),
			AppTargets: make(map[string]types.AppTarget, len(matching)),
		}
		for i, shortcut := range matching {
			target := types.ChooserTarget{
				Title:      shortcut.Info.Label,
				Component:  name,
				Score:      l.score(shortcut.Info, i),
				ShortcutID: shortcut.Info.ID,
				Intent:     dri.ResolvedIntent,
			}
			app := types.AppTargetFor(name, l.user)
			app.ID = shortcut.Info.ID
			app.Rank = shortcut.Info.Rank
			result.Targets = append(result.Targets, target)
			result.Shortcuts[target.Key()] = shortcut.Info
			result.AppTargets[target.Key()] = app
		}
		results = append(results, result)
	}
	return results
}

// score turns a shortcut's rank into a target score. Prediction results are
// already ordered, so only their position counts.
func (l *ShortcutLoader) score(info types.ShortcutInfo, index int) float64 {
	if l.targetType == types.TargetTypeShortcutsFromPredictionService {
		return math.Max(1-0.01*float64(index), 0)
	}
	return math.Max(1-0.01*float64(info.Rank), 0)
}
