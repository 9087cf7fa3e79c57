package ranking

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sharesheet/internal/types"
)

type fakeUsage struct {
	mu         sync.Mutex
	stats      map[string]*types.UsageStats
	err        error
	selections []types.ChooserSelection
}

func (f *fakeUsage) QueryUsageStats(ctx context.Context, user types.UserHandle) (map[string]*types.UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeUsage) ReportChooserSelection(ctx context.Context, selection types.ChooserSelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selections = append(f.selections, selection)
	return f.err
}

type fakeRanker struct {
	predict func(ctx context.Context, targets []TargetFeatures) ([]float64, error)
	trained []int
}

func (f *fakeRanker) Predict(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
	return f.predict(ctx, targets)
}

func (f *fakeRanker) Train(ctx context.Context, targets []TargetFeatures, selected int) error {
	f.trained = append(f.trained, selected)
	return nil
}

type fakePredictor struct {
	order    []types.ComponentName
	launched []types.AppTarget
}

func (f *fakePredictor) SortTargets(ctx context.Context, targets []types.AppTarget) ([]types.AppTarget, error) {
	out := make([]types.AppTarget, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, types.AppTargetFor(name, targets[0].User))
	}
	return out, nil
}

func (f *fakePredictor) NotifyLaunch(ctx context.Context, target types.AppTarget) error {
	f.launched = append(f.launched, target)
	return nil
}

func candidate(pkg, label string) *types.ResolvedComponentInfo {
	name := types.NewComponentName(pkg, ".Share")
	info := &types.ResolveInfo{
		Activity:     types.ActivityInfo{Name: name, Label: label, Exported: true, Enabled: true},
		TargetUserID: types.UserCurrent,
		Match:        types.MatchCategoryType,
	}
	return types.NewResolvedComponentInfo(name, &types.Intent{Action: types.ActionSend}, info)
}

func labels(list []*types.ResolvedComponentInfo) []string {
	out := make([]string, 0, len(list))
	for _, rci := range list {
		out = append(out, rci.ResolveInfoAt(0).Label())
	}
	return out
}

func computeAndWait(t *testing.T, c Comparator, targets []*types.ResolvedComponentInfo) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	done := make(chan struct{}, 8)
	c.SetCallback(func() {
		calls.Add(1)
		done <- struct{}{}
	})
	c.Compute(context.Background(), targets)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected compute to complete")
	}
	return &calls
}

func TestStructuralTiersPrecedeLearnedOrder(t *testing.T) {
	intent := &types.Intent{Action: types.ActionView, Data: "https://docs.example.com/d/1"}
	promoted := candidate("com.example.promoted", "Zeta")
	c := NewHeuristicComparator(Options{Intent: intent, PromoteToFirst: promoted.Name}, nil)
	defer c.Destroy()

	other := candidate("com.example.other", "Aardvark")
	other.ResolveInfoAt(0).TargetUserID = 10
	specific := candidate("com.example.docs", "Docs")
	specific.ResolveInfoAt(0).Match = types.MatchCategoryPath
	pinnedB := candidate("com.example.b", "Bravo")
	pinnedB.Pinned = true
	pinnedA := candidate("com.example.a", "alpha")
	pinnedA.Pinned = true
	plain := candidate("com.example.plain", "Plain")

	list := []*types.ResolvedComponentInfo{other, plain, pinnedB, specific, pinnedA, promoted}
	slices.SortStableFunc(list, c.Compare)

	want := []string{"Zeta", "Docs", "alpha", "Bravo", "Plain", "Aardvark"}
	if got := labels(list); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestHTTPSpecificityIgnoredForNonHTTPIntents(t *testing.T) {
	c := NewHeuristicComparator(Options{Intent: &types.Intent{Action: types.ActionSend, Type: "text/plain"}}, nil)
	defer c.Destroy()
	specific := candidate("com.example.z", "Zulu")
	specific.ResolveInfoAt(0).Match = types.MatchCategoryHost
	generic := candidate("com.example.a", "Alpha")
	if c.Compare(generic, specific) >= 0 {
		t.Fatalf("expected label order when intent is not http")
	}
}

func TestHeuristicRanksByUsage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.chat": {Package: "com.example.chat", LaunchCount: 10, TotalTimeInForeground: time.Hour},
		"com.example.mail": {Package: "com.example.mail", LaunchCount: 1},
	}}
	c := NewHeuristicComparator(Options{
		Intent: &types.Intent{Action: types.ActionSend, Type: "text/plain"},
		Usage:  usage,
		Now:    func() time.Time { return now },
	}, nil)
	defer c.Destroy()

	mail, chat, notes := candidate("com.example.mail", "Mail"), candidate("com.example.chat", "Chat"), candidate("com.example.notes", "Notes")
	list := []*types.ResolvedComponentInfo{notes, mail, chat}
	computeAndWait(t, c, list)
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Chat", "Mail", "Notes"}) {
		t.Fatalf("unexpected order %v", got)
	}
	want := 1 / (1 + math.Exp(1.6568-(2.5543*1+2.8412*1)))
	if got := c.Score(chat.Name); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected chat score %v, got %v", want, got)
	}
	if c.Score(types.NewComponentName("com.example.unknown", ".X")) != 0 {
		t.Fatalf("expected zero score for unknown component")
	}
}

func TestHeuristicSkipsReferrerRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.chat": {Package: "com.example.chat", LastTimeUsed: now},
		"com.example.mail": {Package: "com.example.mail", LastTimeUsed: now.Add(-time.Hour)},
	}}
	c := NewHeuristicComparator(Options{
		Intent:   &types.Intent{Action: types.ActionSend, Type: "text/plain"},
		Referrer: "com.example.chat",
		Usage:    usage,
		Now:      func() time.Time { return now },
	}, nil)
	defer c.Destroy()

	chat, mail := candidate("com.example.chat", "Chat"), candidate("com.example.mail", "Mail")
	list := []*types.ResolvedComponentInfo{chat, mail}
	computeAndWait(t, c, list)
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Mail", "Chat"}) {
		t.Fatalf("expected referrer recency to be ignored, got %v", got)
	}
}

func TestHeuristicCountsChooserAnnotations(t *testing.T) {
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.mail": {Package: "com.example.mail", ChooserCounts: map[string]map[string]int{
			types.ActionSend: {"text/plain": 1, "email": 2, "ignored": 50},
		}},
	}}
	intent := &types.Intent{
		Action: types.ActionSend,
		Type:   "text/plain",
		Extras: map[string]any{types.ExtraContentAnnotations: []any{"email", 7, "a", "b", "ignored"}},
	}
	c := NewHeuristicComparator(Options{Intent: intent, Usage: usage}, nil)
	defer c.Destroy()
	if got := c.chooserCount(usage.stats["com.example.mail"]); got != 3 {
		t.Fatalf("expected chooser count over first three annotations, got %d", got)
	}

	malformed := &types.Intent{Action: types.ActionSend, Type: "text/plain", Extras: map[string]any{types.ExtraContentAnnotations: 42}}
	c2 := NewHeuristicComparator(Options{Intent: malformed, Usage: usage}, nil)
	defer c2.Destroy()
	if len(c2.annotations) != 0 {
		t.Fatalf("expected malformed annotations to be dropped, got %v", c2.annotations)
	}
}

func TestRankerResultBeforeWatchdog(t *testing.T) {
	ranker := &fakeRanker{predict: func(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
		return []float64{0.1, 0.9}, nil
	}}
	c := NewHeuristicComparator(Options{Watchdog: 50 * time.Millisecond}, ranker)
	defer c.Destroy()

	a, b := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo")
	list := []*types.ResolvedComponentInfo{a, b}
	calls := computeAndWait(t, c, list)
	time.Sleep(120 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one completion, got %d", calls.Load())
	}
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Bravo", "Alpha"}) {
		t.Fatalf("expected predicted order, got %v", got)
	}
}

func TestRankerSizeMismatchKeepsDefaults(t *testing.T) {
	ranker := &fakeRanker{predict: func(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
		return []float64{0.9}, nil
	}}
	c := NewHeuristicComparator(Options{}, ranker)
	defer c.Destroy()
	a, b := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo")
	computeAndWait(t, c, []*types.ResolvedComponentInfo{a, b})
	if c.Score(a.Name) != c.Score(b.Name) {
		t.Fatalf("expected default scores to survive a size mismatch")
	}
}

func TestWatchdogCompletesWhenRankerHangs(t *testing.T) {
	ranker := &fakeRanker{predict: func(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.b": {Package: "com.example.b", LaunchCount: 5},
	}}
	c := NewHeuristicComparator(Options{Watchdog: 30 * time.Millisecond, Usage: usage}, ranker)
	defer c.Destroy()

	a, b := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo")
	list := []*types.ResolvedComponentInfo{a, b}
	start := time.Now()
	calls := computeAndWait(t, c, list)
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("completed before the watchdog: %v", elapsed)
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected one completion, got %d", calls.Load())
	}
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Bravo", "Alpha"}) {
		t.Fatalf("expected default scoring after timeout, got %v", got)
	}
}

func TestDestroyInvokesCallbackExactlyOnce(t *testing.T) {
	release := make(chan struct{})
	ranker := &fakeRanker{predict: func(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
		<-release
		return []float64{0.5}, nil
	}}
	c := NewHeuristicComparator(Options{Watchdog: time.Minute}, ranker)
	var calls atomic.Int32
	c.SetCallback(func() { calls.Add(1) })
	c.Compute(context.Background(), []*types.ResolvedComponentInfo{candidate("com.example.a", "Alpha")})

	c.Destroy()
	c.Destroy()
	close(release)
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one callback, got %d", calls.Load())
	}
	c.Compute(context.Background(), []*types.ResolvedComponentInfo{candidate("com.example.a", "Alpha")})
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected compute after destroy to be ignored, got %d", calls.Load())
	}
}

func TestDestroyWithoutComputeInvokesCallback(t *testing.T) {
	c := NewPredictionComparator(Options{}, &fakePredictor{}, nil)
	var calls atomic.Int32
	c.SetCallback(func() { calls.Add(1) })
	c.Destroy()
	if calls.Load() != 1 {
		t.Fatalf("expected one callback, got %d", calls.Load())
	}
}

func TestPredictionRanksAndScores(t *testing.T) {
	a, b, c3 := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo"), candidate("com.example.c", "Charlie")
	unranked := candidate("com.example.d", "Delta")
	predictor := &fakePredictor{order: []types.ComponentName{c3.Name, a.Name, b.Name}}
	c := NewPredictionComparator(Options{}, predictor, nil)
	defer c.Destroy()

	list := []*types.ResolvedComponentInfo{unranked, a, b, c3}
	computeAndWait(t, c, list)
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Charlie", "Alpha", "Bravo", "Delta"}) {
		t.Fatalf("unexpected order %v", got)
	}
	cases := map[types.ComponentName]float64{c3.Name: 1, a.Name: 1 - 1.0/3, b.Name: 1 - 2.0/3, unranked.Name: 0}
	for name, want := range cases {
		if got := c.Score(name); math.Abs(got-want) > 1e-9 {
			t.Fatalf("score(%s) = %v, want %v", name, got, want)
		}
	}
	c.UpdateModel(a.Name)
	if len(predictor.launched) != 1 || predictor.launched[0].ComponentName() != a.Name {
		t.Fatalf("expected launch event for alpha, got %#v", predictor.launched)
	}
}

func TestPredictionFallsBackToHeuristic(t *testing.T) {
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.b": {Package: "com.example.b", LaunchCount: 9},
	}}
	ranker := &fakeRanker{predict: func(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
		out := make([]float64, len(targets))
		for i, target := range targets {
			out[i] = target.Launch
		}
		return out, nil
	}}
	c := New(StrategyPrediction, Options{Usage: usage}, NewUsagePredictor(usage, false), ranker)
	defer c.Destroy()

	a, b := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo")
	list := []*types.ResolvedComponentInfo{a, b}
	calls := computeAndWait(t, c, list)
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected one completion through the fallback, got %d", calls.Load())
	}
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Bravo", "Alpha"}) {
		t.Fatalf("expected fallback order, got %v", got)
	}
	if c.Score(b.Name) != 1 {
		t.Fatalf("expected fallback score, got %v", c.Score(b.Name))
	}
	c.UpdateModel(b.Name)
	if !slices.Equal(ranker.trained, []int{1}) {
		t.Fatalf("expected fallback to train the ranker, got %v", ranker.trained)
	}
}

func TestUsagePredictorOrdersByLaunches(t *testing.T) {
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.a": {Package: "com.example.a", LaunchCount: 1},
		"com.example.b": {Package: "com.example.b", LaunchCount: 3},
	}}
	p := NewUsagePredictor(usage, true)
	a := types.AppTargetFor(types.NewComponentName("com.example.a", ".Share"), 0)
	b := types.AppTargetFor(types.NewComponentName("com.example.b", ".Share"), 0)
	c := types.AppTargetFor(types.NewComponentName("com.example.c", ".Share"), 0)
	sorted, err := p.SortTargets(context.Background(), []types.AppTarget{a, c, b})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if sorted[0].Package != "com.example.b" || sorted[1].Package != "com.example.a" || sorted[2].Rank != 2 {
		t.Fatalf("unexpected order %#v", sorted)
	}
	if err := p.NotifyLaunch(context.Background(), c); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sorted, _ = p.SortTargets(context.Background(), []types.AppTarget{a, b, c})
	if sorted[0].Package != "com.example.c" {
		t.Fatalf("expected session launch to win, got %#v", sorted)
	}

	usage.err = errors.New("usage unavailable")
	if _, err := p.SortTargets(context.Background(), []types.AppTarget{a}); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestUpdateChooserCountsReportsSelection(t *testing.T) {
	usage := &fakeUsage{}
	intent := &types.Intent{
		Action: types.ActionSend,
		Type:   "image/png",
		Extras: map[string]any{types.ExtraContentAnnotations: []string{"photo"}},
	}
	c := NewHeuristicComparator(Options{Intent: intent, Usage: usage}, nil)
	defer c.Destroy()
	c.UpdateChooserCounts("com.example.mail", 0, types.ActionSend)
	if len(usage.selections) != 1 {
		t.Fatalf("expected one selection, got %d", len(usage.selections))
	}
	got := usage.selections[0]
	if got.Package != "com.example.mail" || got.ContentType != "image/png" || !slices.Equal(got.Annotations, []string{"photo"}) {
		t.Fatalf("unexpected selection %#v", got)
	}

	usage.err = errors.New("disk full")
	c.UpdateChooserCounts("com.example.mail", 0, types.ActionSend)
}

func TestPinnedPrecedeUnpinnedRegardlessOfLearnedScore(t *testing.T) {
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.hot": {Package: "com.example.hot", LaunchCount: 1000, TotalTimeInForeground: 100 * time.Hour},
	}}
	heuristic := NewHeuristicComparator(Options{
		Intent: &types.Intent{Action: types.ActionSend, Type: "text/plain"},
		Usage:  usage,
	}, nil)
	defer heuristic.Destroy()

	hot, cold := candidate("com.example.hot", "Alpha"), candidate("com.example.cold", "Zulu")
	cold.Pinned = true
	list := []*types.ResolvedComponentInfo{hot, cold}
	computeAndWait(t, heuristic, list)
	if heuristic.Score(hot.Name) <= heuristic.Score(cold.Name) {
		t.Fatalf("expected unpinned target to score higher, got %v <= %v", heuristic.Score(hot.Name), heuristic.Score(cold.Name))
	}
	slices.SortStableFunc(list, heuristic.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Zulu", "Alpha"}) {
		t.Fatalf("expected pinned target first, got %v", got)
	}

	predicted := NewPredictionComparator(Options{}, &fakePredictor{order: []types.ComponentName{hot.Name, cold.Name}}, nil)
	defer predicted.Destroy()
	list = []*types.ResolvedComponentInfo{hot, cold}
	computeAndWait(t, predicted, list)
	slices.SortStableFunc(list, predicted.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Zulu", "Alpha"}) {
		t.Fatalf("expected pinned target before predicted order, got %v", got)
	}
}

type countingPredictor struct {
	calls atomic.Int32
}

func (c *countingPredictor) SortTargets(ctx context.Context, targets []types.AppTarget) ([]types.AppTarget, error) {
	c.calls.Add(1)
	return nil, nil
}

func (c *countingPredictor) NotifyLaunch(ctx context.Context, target types.AppTarget) error {
	return nil
}

func TestPredictionStopsQueryingAfterFallback(t *testing.T) {
	usage := &fakeUsage{stats: map[string]*types.UsageStats{
		"com.example.b": {Package: "com.example.b", LaunchCount: 9},
	}}
	predictor := &countingPredictor{}
	c := NewPredictionComparator(Options{Usage: usage}, predictor, nil)
	defer c.Destroy()

	a, b := candidate("com.example.a", "Alpha"), candidate("com.example.b", "Bravo")
	computeAndWait(t, c, []*types.ResolvedComponentInfo{a, b})
	if predictor.calls.Load() != 1 {
		t.Fatalf("expected one predictor query, got %d", predictor.calls.Load())
	}

	list := []*types.ResolvedComponentInfo{a, b}
	computeAndWait(t, c, list)
	if predictor.calls.Load() != 1 {
		t.Fatalf("expected fallback to answer the second round, got %d predictor queries", predictor.calls.Load())
	}
	slices.SortStableFunc(list, c.Compare)
	if got := labels(list); !slices.Equal(got, []string{"Bravo", "Alpha"}) {
		t.Fatalf("expected fallback order, got %v", got)
	}
}
