package pager

import (
	"context"
	"errors"
	"testing"

	"sharesheet/internal/types"
)

type fakeAdapter struct {
	user       types.UserHandle
	entries    []*types.DisplayResolveInfo
	other      *types.DisplayResolveInfo
	loaded     bool
	rebuildErr error
	rebuilds   []bool
	changes    []bool
	destroyed  bool
}

func (f *fakeAdapter) User() types.UserHandle { return f.user }

func (f *fakeAdapter) RebuildList(ctx context.Context, doPostProcessing bool) (bool, error) {
	f.rebuilds = append(f.rebuilds, doPostProcessing)
	if f.rebuildErr != nil {
		return false, f.rebuildErr
	}
	f.loaded = true
	return true, nil
}

func (f *fakeAdapter) HandlePackagesChanged(ctx context.Context, doPostProcessing bool) (bool, error) {
	f.changes = append(f.changes, doPostProcessing)
	return true, nil
}

func (f *fakeAdapter) UnfilteredCount() int { return len(f.entries) }

func (f *fakeAdapter) OtherProfile() *types.DisplayResolveInfo { return f.other }

func (f *fakeAdapter) DisplayResolveInfo(index int) *types.DisplayResolveInfo {
	if index < 0 || index >= len(f.entries) {
		return nil
	}
	return f.entries[index]
}

func (f *fakeAdapter) IsTabLoaded() bool { return f.loaded }

func (f *fakeAdapter) Destroy() { f.destroyed = true }

func entry(pkg string) *types.DisplayResolveInfo {
	info := &types.ResolveInfo{Activity: types.ActivityInfo{Name: types.NewComponentName(pkg, ".Share")}}
	return types.NewDisplayResolveInfo(&types.Intent{Action: types.ActionSend}, info, nil)
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New[*fakeAdapter](nil, 0, nil); !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles, got %v", err)
	}
	if _, err := New([]*fakeAdapter{{user: 0}}, 1, nil); !errors.Is(err, ErrPageRange) {
		t.Fatalf("expected ErrPageRange, got %v", err)
	}
	if _, err := New([]*fakeAdapter{{user: 0}, {user: 0}}, 0, nil); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestRebuildTabsPostProcessesOnlyActiveTab(t *testing.T) {
	personal := &fakeAdapter{user: 0}
	work := &fakeAdapter{user: 10, rebuildErr: errors.New("work profile locked")}
	p, err := New([]*fakeAdapter{personal, work}, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	completed, err := p.RebuildTabs(context.Background())
	if !completed {
		t.Fatalf("expected active tab completion")
	}
	if err == nil {
		t.Fatalf("expected inactive tab error to be reported")
	}
	if len(personal.rebuilds) != 1 || !personal.rebuilds[0] {
		t.Fatalf("expected personal rebuilt with post-processing, got %v", personal.rebuilds)
	}
	if len(work.rebuilds) != 1 || work.rebuilds[0] {
		t.Fatalf("expected work rebuilt without post-processing, got %v", work.rebuilds)
	}

	if err := p.HandlePackagesChanged(context.Background()); err != nil {
		t.Fatalf("packages changed: %v", err)
	}
	if len(personal.changes) != 1 || !personal.changes[0] || len(work.changes) != 1 || work.changes[0] {
		t.Fatalf("unexpected package change calls %v %v", personal.changes, work.changes)
	}
}

func TestSetCurrentPageRebuildsUnloadedTab(t *testing.T) {
	personal := &fakeAdapter{user: 0, loaded: true}
	work := &fakeAdapter{user: 10}
	p, err := New([]*fakeAdapter{personal, work}, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rebuilt, err := p.SetCurrentPage(context.Background(), 1)
	if err != nil || !rebuilt {
		t.Fatalf("expected rebuild of work tab, got rebuilt=%v err=%v", rebuilt, err)
	}
	if p.ActiveAdapter() != work || p.CurrentPage() != 1 {
		t.Fatalf("expected work tab active")
	}
	if inactive := p.InactiveAdapters(); len(inactive) != 1 || inactive[0] != personal {
		t.Fatalf("expected personal tab inactive")
	}
	if rebuilt, _ := p.SetCurrentPage(context.Background(), 0); rebuilt {
		t.Fatalf("expected loaded tab to be left alone")
	}
	if _, err := p.SetCurrentPage(context.Background(), 2); !errors.Is(err, ErrPageRange) {
		t.Fatalf("expected ErrPageRange, got %v", err)
	}
	if got, ok := p.Adapter(10); !ok || got != work {
		t.Fatalf("expected lookup by user")
	}
}

func TestAutoLaunchTarget(t *testing.T) {
	only := entry("mail")
	cases := []struct {
		name     string
		active   *fakeAdapter
		inactive *fakeAdapter
		want     bool
	}{
		{"single app", &fakeAdapter{user: 0, entries: []*types.DisplayResolveInfo{only}}, &fakeAdapter{user: 10}, true},
		{"two apps", &fakeAdapter{user: 0, entries: []*types.DisplayResolveInfo{only, entry("chat")}}, &fakeAdapter{user: 10}, false},
		{"profile switch", &fakeAdapter{user: 0, entries: []*types.DisplayResolveInfo{only}, other: entry("android")}, &fakeAdapter{user: 10}, false},
		{"apps in other tab", &fakeAdapter{user: 0, entries: []*types.DisplayResolveInfo{only}}, &fakeAdapter{user: 10, loaded: true, entries: []*types.DisplayResolveInfo{entry("chat")}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New([]*fakeAdapter{tc.active, tc.inactive}, 0, nil)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			target, ok := p.AutoLaunchTarget()
			if ok != tc.want {
				t.Fatalf("expected auto launch %v, got %v", tc.want, ok)
			}
			if ok && target != only {
				t.Fatalf("expected the single app as target")
			}
		})
	}
}

func TestDestroyDestroysEveryTab(t *testing.T) {
	personal, work := &fakeAdapter{user: 0}, &fakeAdapter{user: 10}
	p, err := New([]*fakeAdapter{personal, work}, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Destroy()
	if !personal.destroyed || !work.destroyed {
		t.Fatalf("expected every tab destroyed")
	}
}
