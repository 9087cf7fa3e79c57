package chooser

import (
	"cmp"
	"context"
	"sync"
	"testing"
	"time"

	"sharesheet/internal/dispatch"
	"sharesheet/internal/resolver"
	"sharesheet/internal/types"
)

type staticResolver struct {
	infos []*types.ResolveInfo
}

func (s *staticResolver) QueryIntentActivities(ctx context.Context, intent *types.Intent, user types.UserHandle, flags types.QueryFlags) ([]*types.ResolveInfo, error) {
	if !intent.Component.IsZero() {
		for _, info := range s.infos {
			if info.ComponentName() == intent.Component {
				return []*types.ResolveInfo{info}, nil
			}
		}
		return nil, nil
	}
	return s.infos, nil
}

// rankComparator orders candidates by their position in order; unknown
// packages go last.
type rankComparator struct {
	mu       sync.Mutex
	rank     map[string]int
	callback func()
}

func newRankComparator(order ...string) *rankComparator {
	rank := make(map[string]int, len(order))
	for i, pkg := range order {
		rank[pkg] = i
	}
	return &rankComparator{rank: rank}
}

func (r *rankComparator) rankOf(pkg string) int {
	if v, ok := r.rank[pkg]; ok {
		return v
	}
	return len(r.rank)
}

func (r *rankComparator) Compare(a, b *types.ResolvedComponentInfo) int {
	return cmp.Compare(r.rankOf(a.Name.Package), r.rankOf(b.Name.Package))
}

func (r *rankComparator) Compute(ctx context.Context, targets []*types.ResolvedComponentInfo) {
	r.mu.Lock()
	callback := r.callback
	r.mu.Unlock()
	if callback != nil {
		go callback()
	}
}

func (r *rankComparator) SetCallback(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = fn
}

func (r *rankComparator) Score(name types.ComponentName) float64 {
	return 1 / float64(r.rankOf(name.Package)+1)
}

func (r *rankComparator) UpdateModel(name types.ComponentName)                                 {}
func (r *rankComparator) UpdateChooserCounts(pkg string, user types.UserHandle, action string) {}
func (r *rankComparator) Destroy()                                                             {}

func shareActivity(pkg, label string) *types.ResolveInfo {
	user := types.UserHandle(0)
	return &types.ResolveInfo{
		Activity: types.ActivityInfo{
			Name:     types.NewComponentName(pkg, ".Share"),
			Label:    label,
			Exported: true,
			Enabled:  true,
		},
		TargetUserID: types.UserCurrent,
		UserHandle:   &user,
		Match:        types.MatchCategoryType,
	}
}

type chooserEvent struct {
	kind      string
	completed bool
	err       error
}

type recordingListener struct {
	events chan chooserEvent
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan chooserEvent, 32)}
}

func (r *recordingListener) OnPostListReady(adapter *ListAdapter, doPostProcessing, rebuildCompleted bool) {
	r.events <- chooserEvent{kind: "ready", completed: rebuildCompleted}
}

func (r *recordingListener) OnRebuildFailed(adapter *ListAdapter, err error) {
	r.events <- chooserEvent{kind: "failed", err: err}
}

func (r *recordingListener) OnServiceTargetsChanged(adapter *ListAdapter, completed bool) {
	r.events <- chooserEvent{kind: "service", completed: completed}
}

// waitFor drains events until one of kind with completed set arrives.
func (r *recordingListener) waitFor(t *testing.T, kind string) chooserEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.kind == kind && ev.completed {
				return ev
			}
			if ev.kind == "failed" {
				t.Fatalf("rebuild failed: %v", ev.err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return chooserEvent{}
		}
	}
}

type chooserFixture struct {
	adapter  *ListAdapter
	listener *recordingListener
	serial   *dispatch.Serial
	pool     *dispatch.Pool
}

func newChooserFixture(t *testing.T, infos []*types.ResolveInfo, comparator *rankComparator, configure func(*Options)) *chooserFixture {
	t.Helper()
	serial := dispatch.NewSerial()
	pool := dispatch.NewPool(8, 2)
	t.Cleanup(func() {
		pool.Close()
		serial.Close()
	})
	intent := &types.Intent{Action: types.ActionSend, Type: "text/plain"}
	controller := resolver.NewController(resolver.ControllerOptions{
		TargetIntent: intent,
		Resolver:     &staticResolver{infos: infos},
		Comparator:   comparator,
	})
	listener := newRecordingListener()
	opts := Options{
		Resolver: resolver.AdapterOptions{
			Intents:    []*types.Intent{intent},
			Controller: controller,
			Callback:   serial,
			Background: pool,
		},
		MaxRankedTargets: 4,
		Listener:         listener,
	}
	if configure != nil {
		configure(&opts)
	}
	adapter := NewListAdapter(opts)
	t.Cleanup(adapter.Destroy)
	return &chooserFixture{adapter: adapter, listener: listener, serial: serial, pool: pool}
}

func (f *chooserFixture) rebuild(t *testing.T) {
	t.Helper()
	if _, err := f.adapter.RebuildList(context.Background(), true); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	f.listener.waitFor(t, "ready")
}

func labelsOf(targets []types.TargetInfo) []string {
	out := make([]string, 0, len(targets))
	for _, target := range targets {
		switch target.Kind {
		case types.KindSelectable:
			out = append(out, target.Selectable.Title)
		case types.KindPlaceholder:
			out = append(out, "<placeholder>")
		case types.KindEmpty:
			out = append(out, "<empty>")
		case types.KindDisplayResolve, types.KindMultiDisplayResolve:
			out = append(out, sortLabel(target))
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
