package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

var (
	ErrNoProfiles    = errors.New("no profile adapters")
	ErrPageRange     = errors.New("page out of range")
	ErrDuplicateUser = errors.New("duplicate profile user")
)

// ProfileAdapter is the list of one profile tab.
type ProfileAdapter interface {
	User() types.UserHandle
	RebuildList(ctx context.Context, doPostProcessing bool) (bool, error)
	HandlePackagesChanged(ctx context.Context, doPostProcessing bool) (bool, error)
	UnfilteredCount() int
	OtherProfile() *types.DisplayResolveInfo
	DisplayResolveInfo(index int) *types.DisplayResolveInfo
	IsTabLoaded() bool
	Destroy()
}

// MultiProfile holds one adapter per profile tab and tracks the visible
// one. Tabs never share list state.
type MultiProfile[A ProfileAdapter] struct {
	adapters []A
	logger   logging.Logger

	mu      sync.RWMutex
	current int
}

func New[A ProfileAdapter](adapters []A, current int, logger logging.Logger) (*MultiProfile[A], error) {
	if len(adapters) == 0 {
		return nil, ErrNoProfiles
	}
	if current < 0 || current >= len(adapters) {
		return nil, fmt.Errorf("%w: %d", ErrPageRange, current)
	}
	seen := make(map[types.UserHandle]struct{}, len(adapters))
	for _, adapter := range adapters {
		if _, ok := seen[adapter.User()]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateUser, adapter.User())
		}
		seen[adapter.User()] = struct{}{}
	}
	return &MultiProfile[A]{
		adapters: append([]A(nil), adapters...),
		current:  current,
		logger:   logging.OrNop(logger).With(logging.F("component", "multi_profile_pager")),
	}, nil
}

func (p *MultiProfile[A]) Count() int { return len(p.adapters) }

func (p *MultiProfile[A]) CurrentPage() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *MultiProfile[A]) ActiveAdapter() A {
	return p.adapters[p.CurrentPage()]
}

func (p *MultiProfile[A]) InactiveAdapters() []A {
	current := p.CurrentPage()
	out := make([]A, 0, len(p.adapters)-1)
	for i, adapter := range p.adapters {
		if i != current {
			out = append(out, adapter)
		}
	}
	return out
}

// Adapter returns the tab of user.
func (p *MultiProfile[A]) Adapter(user types.UserHandle) (A, bool) {
	for _, adapter := range p.adapters {
		if adapter.User() == user {
			return adapter, true
		}
	}
	var zero A
	return zero, false
}

func (p *MultiProfile[A]) Adapters() []A {
	return append([]A(nil), p.adapters...)
}

// SetCurrentPage switches tabs and rebuilds the new tab when it was never
// loaded. rebuilt reports whether a rebuild started.
func (p *MultiProfile[A]) SetCurrentPage(ctx context.Context, page int) (rebuilt bool, err error) {
	if page < 0 || page >= len(p.adapters) {
		return false, fmt.Errorf("%w: %d", ErrPageRange, page)
	}
	p.mu.Lock()
	p.current = page
	p.mu.Unlock()
	adapter := p.adapters[page]
	if adapter.IsTabLoaded() {
		return false, nil
	}
	p.logger.Debug("tab_rebuild", logging.F("page", page), logging.F("user", adapter.User()))
	if _, err := adapter.RebuildList(ctx, true); err != nil {
		return true, err
	}
	return true, nil
}

// RebuildTabs rebuilds the active tab with post-processing and every other
// tab without it. completed is the active tab's result.
func (p *MultiProfile[A]) RebuildTabs(ctx context.Context) (completed bool, err error) {
	completed, err = p.ActiveAdapter().RebuildList(ctx, true)
	errs := []error{err}
	for _, adapter := range p.InactiveAdapters() {
		if _, err := adapter.RebuildList(ctx, false); err != nil {
			p.logger.Warn("inactive_tab_rebuild_failed", logging.F("user", adapter.User()), logging.Err(err))
			errs = append(errs, err)
		}
	}
	return completed, errors.Join(errs...)
}

// HandlePackagesChanged rebuilds every tab after a package change.
func (p *MultiProfile[A]) HandlePackagesChanged(ctx context.Context) error {
	_, err := p.ActiveAdapter().HandlePackagesChanged(ctx, true)
	errs := []error{err}
	for _, adapter := range p.InactiveAdapters() {
		if _, err := adapter.HandlePackagesChanged(ctx, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AutoLaunchTarget returns the only target when the chooser can be skipped:
// the active tab has exactly one app, no profile switch entry, and no other
// loaded tab has apps.
func (p *MultiProfile[A]) AutoLaunchTarget() (*types.DisplayResolveInfo, bool) {
	active := p.ActiveAdapter()
	if active.UnfilteredCount() != 1 || active.OtherProfile() != nil {
		return nil, false
	}
	for _, adapter := range p.InactiveAdapters() {
		if adapter.IsTabLoaded() && adapter.UnfilteredCount() > 0 {
			return nil, false
		}
	}
	target := active.DisplayResolveInfo(0)
	return target, target != nil
}

func (p *MultiProfile[A]) Destroy() {
	for _, adapter := range p.adapters {
		adapter.Destroy()
	}
}
