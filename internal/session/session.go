package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"sharesheet/internal/catalog"
	"sharesheet/internal/chooser"
	"sharesheet/internal/config"
	"sharesheet/internal/dispatch"
	"sharesheet/internal/logging"
	"sharesheet/internal/pager"
	"sharesheet/internal/ranking"
	"sharesheet/internal/resolver"
	"sharesheet/internal/store"
	"sharesheet/internal/types"
)

var (
	ErrNotSelectable = errors.New("position is not a selectable target")
	ErrNoIntent      = errors.New("intent is required")
)

type Options struct {
	Config         config.Config
	Catalog        *catalog.Catalog
	Repository     store.Repository
	Intent         *types.Intent
	InitialIntents []*types.Intent
	// Users limits the tabs; empty means every profile in the catalog.
	Users       []types.UserHandle
	CurrentUser types.UserHandle
	Logger      logging.Logger
}

// Selection is the outcome of choosing a target.
type Selection struct {
	Target    types.TargetInfo
	Component types.ComponentName
	User      types.UserHandle
	Intent    *types.Intent
	Shortcut  *types.ShortcutInfo
}

type tab struct {
	user       types.UserHandle
	name       string
	adapter    *chooser.ListAdapter
	controller *resolver.Controller
	predictor  *ranking.UsagePredictor
	usage      store.UsageStore

	completed      bool
	serviceDone    bool
	serviceApplies bool
	err            error
}

// Session is one chooser invocation: a tab per profile sharing one
// callback executor, sort pool and presentation loader.
type Session struct {
	id      string
	intent  *types.Intent
	cfg     config.Config
	catalog *catalog.Catalog
	logger  logging.Logger

	serial       *dispatch.Serial
	pool         *dispatch.Pool
	presentPool  *dispatch.Pool
	presentation *resolver.PresentationLoader
	pager        *pager.MultiProfile[*chooser.ListAdapter]

	mu      sync.Mutex
	tabs    map[*chooser.ListAdapter]*tab
	changed chan struct{}
	closed  bool
}

func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Intent == nil {
		return nil, ErrNoIntent
	}
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	cfg := opts.Config
	id := logging.NewSessionID()
	logger := logging.OrNop(opts.Logger).With(logging.Session(id))

	presentation, err := resolver.NewPresentationLoader(opts.Catalog, cfg.LabelCacheSize(), cfg.PresentationConcurrency(), logger)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:           id,
		intent:       opts.Intent,
		cfg:          cfg,
		catalog:      opts.Catalog,
		logger:       logger,
		serial:       dispatch.NewSerial(),
		pool:         dispatch.NewPool(16, cfg.SortWorkers()),
		presentPool:  dispatch.NewPool(16, cfg.PresentationConcurrency()),
		presentation: presentation,
		tabs:         map[*chooser.ListAdapter]*tab{},
		changed:      make(chan struct{}, 1),
	}
	s.serial.OnPanic(func(v any) {
		s.logger.Error("callback_panic", logging.F("panic", v))
	})

	users := opts.Users
	if len(users) == 0 {
		users = opts.Catalog.Users()
	}
	current := 0
	adapters := make([]*chooser.ListAdapter, 0, len(users))
	for i, user := range users {
		if user == opts.CurrentUser {
			current = i
		}
		t, err := s.newTab(ctx, user, opts)
		if err != nil {
			s.shutdown()
			return nil, err
		}
		adapters = append(adapters, t.adapter)
	}
	s.pager, err = pager.New(adapters, current, logger)
	if err != nil {
		s.shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Session) newTab(ctx context.Context, user types.UserHandle, opts Options) (*tab, error) {
	cfg := s.cfg
	var (
		usageStore store.UsageStore
		usage      ranking.UsageSource
		weights    ranking.WeightStore
		pins       store.PinStore
		chosen     store.ChosenStore
	)
	if repo := opts.Repository; repo != nil {
		usageStore = repo.Usage()
		usage, weights, pins, chosen = usageStore, repo.Weights(), repo.Pins(), repo.Chosen()
		seedUsage(ctx, usageStore, opts.Catalog, user, s.logger)
	}
	var promote types.ComponentName
	if raw := cfg.PromoteToFirst(); raw != "" {
		name, err := types.UnflattenComponentName(raw)
		if err != nil {
			return nil, fmt.Errorf("promote_to_first: %w", err)
		}
		promote = name
	}
	logger := s.logger.With(logging.F("user", user))
	rankOpts := ranking.Options{
		Intent:         s.intent,
		User:           user,
		Referrer:       cfg.Referrer(),
		PromoteToFirst: promote,
		Locale:         cfg.Locale(),
		Watchdog:       cfg.WatchdogTimeout(),
		Usage:          usage,
		Logger:         logger,
	}
	ranker := ranking.NewLocalRankerService(ctx, weights, user, logger)
	var predictor *ranking.UsagePredictor
	shortcutType := types.TargetTypeShortcutsFromShortcutManager
	if cfg.RankingStrategy() == config.RankingStrategyPrediction {
		predictor = ranking.NewUsagePredictor(usage, true)
		shortcutType = types.TargetTypeShortcutsFromPredictionService
	}
	var comparator ranking.Comparator
	if predictor != nil {
		comparator = ranking.New(cfg.RankingStrategy(), rankOpts, predictor, ranker)
	} else {
		comparator = ranking.New(cfg.RankingStrategy(), rankOpts, nil, ranker)
	}
	controller := resolver.NewController(resolver.ControllerOptions{
		TargetIntent:   s.intent,
		User:           user,
		Resolver:       opts.Catalog,
		Permissions:    opts.Catalog,
		CallerUID:      opts.Catalog.CallerUID(),
		Pins:           pins,
		Chosen:         chosen,
		Comparator:     comparator,
		PromoteToFirst: promote,
		Logger:         logger,
	})
	var loader *chooser.ShortcutLoader
	if cfg.DirectShareEnabled() {
		loader = chooser.NewShortcutLoader(chooser.ShortcutLoaderOptions{
			Source:     opts.Catalog,
			User:       user,
			Intent:     s.intent,
			TargetType: shortcutType,
			Pool:       s.pool,
			Callback:   s.serial,
			Logger:     logger,
		})
	}
	t := &tab{
		user:           user,
		name:           opts.Catalog.UserName(user),
		controller:     controller,
		predictor:      predictor,
		usage:          usageStore,
		serviceApplies: loader != nil && s.intent.IsSendAction(),
	}
	t.adapter = chooser.NewListAdapter(chooser.Options{
		Resolver: resolver.AdapterOptions{
			Intents:              []*types.Intent{s.intent},
			InitialIntents:       opts.InitialIntents,
			User:                 user,
			FilterLastUsed:       cfg.FilterLastUsed(),
			UseLayoutWithDefault: cfg.UseLayoutWithDefault(),
			Controller:           controller,
			Presentation:         s.presentation,
			Callback:             s.serial,
			Background:           s.pool,
			PresentationPool:     s.presentPool,
			Logger:               logger,
		},
		MaxRankedTargets:         cfg.MaxTargetsPerRow(),
		MaxShortcutTargetsPerApp: cfg.MaxShortcutTargetsPerApp(),
		ApplySharingAppLimits:    cfg.ApplySharingAppLimits(),
		DirectShareEnabled:       cfg.DirectShareEnabled(),
		Shortcuts:                loader,
		Collator:                 ranking.NewLabelCollator(cfg.Locale()),
		Listener:                 sessionListener{s},
	})
	s.mu.Lock()
	s.tabs[t.adapter] = t
	s.mu.Unlock()
	return t, nil
}

// seedUsage copies the catalog's declared usage into an empty usage store.
func seedUsage(ctx context.Context, usage store.UsageStore, cat *catalog.Catalog, user types.UserHandle, logger logging.Logger) {
	existing, err := usage.QueryUsageStats(ctx, user)
	if err != nil {
		logger.Warn("usage_seed_query_failed", logging.F("user", user), logging.Err(err))
		return
	}
	if len(existing) > 0 {
		return
	}
	for _, stats := range cat.SeedUsage(user) {
		if err := usage.PutUsageStats(ctx, user, stats); err != nil {
			logger.Warn("usage_seed_failed", logging.F("user", user), logging.F("package", stats.Package), logging.Err(err))
			return
		}
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Intent() *types.Intent { return s.intent }

func (s *Session) Pager() *pager.MultiProfile[*chooser.ListAdapter] { return s.pager }

func (s *Session) Active() *chooser.ListAdapter { return s.pager.ActiveAdapter() }

// TabNames returns the profile names in tab order.
func (s *Session) TabNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	adapters := s.pager.Adapters()
	out := make([]string, len(adapters))
	for i, adapter := range adapters {
		out[i] = s.tabs[adapter].name
	}
	return out
}

// Grid lays out the active tab. The profile row is hidden when tabs show.
func (s *Session) Grid(showPreview bool) *chooser.GridAdapter {
	return chooser.NewGridAdapter(s.Active(), chooser.GridOptions{
		MaxTargetsPerRow:   s.cfg.MaxTargetsPerRow(),
		ShowContentPreview: showPreview,
		ShowTabs:           s.pager.Count() > 1,
	})
}

// Rebuild rebuilds every tab; only the active one is post-processed.
func (s *Session) Rebuild(ctx context.Context) error {
	s.resetProgress(nil)
	_, err := s.pager.RebuildTabs(ctx)
	s.signal()
	return err
}

func (s *Session) HandlePackagesChanged(ctx context.Context) error {
	s.resetProgress(nil)
	s.presentation.Purge()
	err := s.pager.HandlePackagesChanged(ctx)
	s.signal()
	return err
}

// SetCurrentTab switches the visible tab, rebuilding it on first view.
func (s *Session) SetCurrentTab(ctx context.Context, page int) error {
	s.resetProgress(func(t *tab) bool { return !t.adapter.IsTabLoaded() })
	_, err := s.pager.SetCurrentPage(ctx, page)
	s.signal()
	return err
}

func (s *Session) resetProgress(match func(*tab) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tabs {
		if match != nil && !match(t) {
			continue
		}
		t.completed, t.serviceDone, t.err = false, false, nil
	}
}

// WaitReady blocks until the active tab finished its rebuild and, when
// direct share applies, its shortcut query.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		done, err := s.activeReady()
		if done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.changed:
		}
	}
}

func (s *Session) activeReady() (bool, error) {
	active := s.Active()
	if active.State() == resolver.StateFailed {
		return true, active.LastError()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tabs[active]
	if t.err != nil {
		return true, t.err
	}
	if !t.completed {
		return false, nil
	}
	return !t.serviceApplies || t.serviceDone, nil
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// AutoLaunch returns the selection to start without showing the chooser.
func (s *Session) AutoLaunch(ctx context.Context) (Selection, bool) {
	dri, ok := s.pager.AutoLaunchTarget()
	if !ok {
		return Selection{}, false
	}
	return s.selectDisplay(ctx, s.Active(), types.DisplayTarget(dri), dri, nil), true
}

// Choose picks the target at position of the active tab. sub selects the
// activity of a grouped A-Z entry.
func (s *Session) Choose(ctx context.Context, position, sub int) (Selection, error) {
	adapter := s.Active()
	target, ok := adapter.TargetInfoForPosition(position, true)
	if !ok || !target.IsSelectable() {
		return Selection{}, fmt.Errorf("%w: %d", ErrNotSelectable, position)
	}
	switch target.Kind {
	case types.KindMultiDisplayResolve:
		if sub < 0 || sub >= len(target.Multi.Targets) {
			return Selection{}, fmt.Errorf("%w: %d has %d activities", ErrNotSelectable, position, len(target.Multi.Targets))
		}
		target.Multi.Selected = sub
		return s.selectDisplay(ctx, adapter, target, target.Multi.Targets[sub], nil), nil
	case types.KindSelectable:
		var shortcut *types.ShortcutInfo
		key := types.ChooserTarget{Component: target.Selectable.Component, ShortcutID: target.Selectable.ShortcutID}
		if info, ok := adapter.Shortcuts().ShortcutInfo(key); ok {
			shortcut = &info
		}
		sel := s.selectDisplay(ctx, adapter, target, target.Selectable.Source, shortcut)
		sel.Component = target.Selectable.Component
		if target.Selectable.Intent != nil {
			sel.Intent = target.Selectable.Intent.Clone()
			sel.Intent.Component = sel.Component
		}
		return sel, nil
	default:
		return s.selectDisplay(ctx, adapter, target, target.Display, nil), nil
	}
}

// selectDisplay records the pick: last chosen, ranker training, chooser
// counts, the launch in usage stats and the predictor's launch history.
func (s *Session) selectDisplay(ctx context.Context, adapter *chooser.ListAdapter, target types.TargetInfo, dri *types.DisplayResolveInfo, shortcut *types.ShortcutInfo) Selection {
	s.mu.Lock()
	t := s.tabs[adapter]
	s.mu.Unlock()
	sel := Selection{Target: target, User: t.user, Shortcut: shortcut}
	if dri == nil {
		return sel
	}
	name := dri.ComponentName()
	sel.Component = name
	intent := dri.ResolvedIntent
	if intent == nil {
		intent = s.intent
	}
	sel.Intent = intent.Clone()
	sel.Intent.Component = name
	if dri.ResolveInfo != nil && dri.ResolveInfo.IsOtherProfile() {
		sel.User = dri.ResolveInfo.TargetUserID
	}

	if err := t.controller.SetLastChosen(ctx, name); err != nil {
		s.logger.Warn("set_last_chosen_failed", logging.Component(name), logging.Err(err))
	}
	t.controller.UpdateModel(name)
	t.controller.UpdateChooserCounts(name.Package, t.user, s.intent.Action)
	if t.usage != nil {
		if err := t.usage.ReportLaunch(ctx, sel.User, name.Package, 0); err != nil {
			s.logger.Warn("report_launch_failed", logging.Component(name), logging.Err(err))
		}
	}
	if t.predictor != nil {
		if err := t.predictor.NotifyLaunch(ctx, types.AppTargetFor(name, t.user)); err != nil {
			s.logger.Warn("predictor_notify_failed", logging.Component(name), logging.Err(err))
		}
	}
	s.logger.Info("target_chosen",
		logging.Component(name),
		logging.F("kind", target.Kind),
		logging.F("user", sel.User),
	)
	return sel
}

// SetPinned pins or unpins name in the active tab's profile.
func (s *Session) SetPinned(ctx context.Context, name types.ComponentName, pinned bool) error {
	s.mu.Lock()
	t := s.tabs[s.Active()]
	s.mu.Unlock()
	return t.controller.SetComponentPinned(ctx, name, pinned)
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.pager != nil {
		s.pager.Destroy()
	}
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	s.presentPool.Close()
	s.pool.Close()
	s.serial.Close()
}

type sessionListener struct {
	s *Session
}

func (l sessionListener) OnPostListReady(adapter *chooser.ListAdapter, doPostProcessing, rebuildCompleted bool) {
	if doPostProcessing && rebuildCompleted {
		adapter.LoadPresentation()
	}
	l.update(adapter, func(t *tab) {
		if rebuildCompleted {
			t.completed = true
		}
	})
}

func (l sessionListener) OnRebuildFailed(adapter *chooser.ListAdapter, err error) {
	l.s.logger.Warn("rebuild_failed", logging.F("user", adapter.User()), logging.Err(err))
	l.update(adapter, func(t *tab) { t.err = err })
}

func (l sessionListener) OnServiceTargetsChanged(adapter *chooser.ListAdapter, completed bool) {
	if !completed {
		return
	}
	l.update(adapter, func(t *tab) { t.serviceDone = true })
}

func (l sessionListener) update(adapter *chooser.ListAdapter, fn func(*tab)) {
	l.s.mu.Lock()
	if t, ok := l.s.tabs[adapter]; ok {
		fn(t)
	}
	l.s.mu.Unlock()
	l.s.signal()
}

// ParseIntent builds an intent from CLI style fields. extras are key=value
// pairs; text sets EXTRA_TEXT.
func ParseIntent(action, mimeType, data, text string, categories, extras []string) (*types.Intent, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		action = types.ActionSend
	}
	switch strings.ToLower(action) {
	case "send":
		action = types.ActionSend
	case "send_multiple":
		action = types.ActionSendMultiple
	case "view":
		action = types.ActionView
	}
	intent := &types.Intent{
		Action: action,
		Type:   strings.ToLower(strings.TrimSpace(mimeType)),
		Data:   strings.TrimSpace(data),
	}
	for _, category := range categories {
		if category = strings.TrimSpace(category); category != "" {
			intent.Categories = append(intent.Categories, category)
		}
	}
	if text != "" || len(extras) > 0 {
		intent.Extras = map[string]any{}
	}
	if text != "" {
		intent.Extras[types.ExtraText] = text
	}
	for _, raw := range extras {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid extra %q: want key=value", raw)
		}
		intent.Extras[strings.TrimSpace(key)] = value
	}
	if intent.IsSendAction() && intent.Type == "" {
		return nil, errors.New("send intents need a mime type")
	}
	return intent, nil
}
