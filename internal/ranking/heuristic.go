package ranking

import (
	"context"
	"slices"
	"sync"
	"time"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

const (
	recencyPeriod  = 12 * time.Hour
	maxAnnotations = 3
)

// HeuristicComparator ranks candidates from usage stats: recency, time in
// foreground, launches and past chooser picks for the same content. A ranker
// service, when present, replaces the default probabilities.
type HeuristicComparator struct {
	*base
	ranker   RankerService
	referrer string

	scoresMu sync.RWMutex
	features map[types.ComponentName]*TargetFeatures
	order    []types.ComponentName
}

func NewHeuristicComparator(opts Options, ranker RankerService) *HeuristicComparator {
	h := &HeuristicComparator{
		base:     newBase(opts, "heuristic_comparator"),
		ranker:   ranker,
		referrer: opts.Referrer,
	}
	h.learned = h.compareLearned
	return h
}

func (h *HeuristicComparator) Compute(ctx context.Context, targets []*types.ResolvedComponentInfo) {
	round, roundCtx, ok := h.begin(ctx)
	if !ok {
		return
	}
	go h.run(roundCtx, round, slices.Clone(targets))
}

func (h *HeuristicComparator) run(ctx context.Context, round uint64, targets []*types.ResolvedComponentInfo) {
	stats := h.queryStats(ctx)
	order, features := h.buildFeatures(targets, stats)
	if !h.current(round, func() { h.install(order, features) }) {
		return
	}
	if h.ranker == nil || len(order) == 0 {
		h.deliver(round, nil)
		return
	}
	list := featureList(order, features)
	probabilities, err := h.ranker.Predict(ctx, list)
	if err != nil {
		h.logger.Warn("ranker_predict_failed", logging.Err(err))
		h.deliver(round, nil)
		return
	}
	if len(probabilities) != len(order) {
		h.logger.Warn("ranker_predict_size_mismatch",
			logging.F("targets", len(order)),
			logging.F("probabilities", len(probabilities)),
		)
		h.deliver(round, nil)
		return
	}
	h.deliver(round, func() { h.applyProbabilities(order, probabilities) })
}

func (h *HeuristicComparator) queryStats(ctx context.Context) map[string]*types.UsageStats {
	if h.usage == nil {
		return nil
	}
	stats, err := h.usage.QueryUsageStats(ctx, h.user)
	if err != nil {
		h.logger.Warn("usage_stats_query_failed", logging.Err(err))
		return nil
	}
	return stats
}

func (h *HeuristicComparator) buildFeatures(targets []*types.ResolvedComponentInfo, stats map[string]*types.UsageStats) ([]types.ComponentName, map[types.ComponentName]*TargetFeatures) {
	since := h.now().Add(-recencyPeriod)
	most := TargetFeatures{Recency: 1, TimeSpent: 1, Launch: 1, Chooser: 1}
	order := make([]types.ComponentName, 0, len(targets))
	features := make(map[types.ComponentName]*TargetFeatures, len(targets))
	for _, target := range targets {
		name := target.Name
		if _, seen := features[name]; seen {
			continue
		}
		f := &TargetFeatures{}
		order = append(order, name)
		features[name] = f
		pkgStats := stats[name.Package]
		if pkgStats == nil {
			continue
		}
		// The referrer is always the most recent app, and persistent
		// processes are always running; neither says anything about intent.
		info := target.ResolveInfoAt(0)
		if name.Package != h.referrer && (info == nil || !info.Activity.Persistent) {
			f.Recency = max(float64(pkgStats.LastTimeUsed.Sub(since).Milliseconds()), 0)
			most.Recency = max(most.Recency, f.Recency)
		}
		f.TimeSpent = float64(pkgStats.TotalTimeInForeground.Milliseconds())
		most.TimeSpent = max(most.TimeSpent, f.TimeSpent)
		f.Launch = float64(pkgStats.LaunchCount)
		most.Launch = max(most.Launch, f.Launch)
		f.Chooser = float64(h.chooserCount(pkgStats))
		most.Chooser = max(most.Chooser, f.Chooser)
	}
	defaults := DefaultWeights()
	for _, f := range features {
		f.Recency /= most.Recency
		f.TimeSpent /= most.TimeSpent
		f.Launch /= most.Launch
		f.Chooser /= most.Chooser
		f.SelectProbability = defaults.Probability(*f)
	}
	return order, features
}

func (h *HeuristicComparator) chooserCount(stats *types.UsageStats) int {
	if h.action == "" || h.contentType == "" {
		return 0
	}
	count := stats.ChooserCount(h.action, h.contentType)
	for i, annotation := range h.annotations {
		if i >= maxAnnotations {
			break
		}
		count += stats.ChooserCount(h.action, annotation)
	}
	return count
}

func (h *HeuristicComparator) install(order []types.ComponentName, features map[types.ComponentName]*TargetFeatures) {
	h.scoresMu.Lock()
	defer h.scoresMu.Unlock()
	h.order = order
	h.features = features
}

func (h *HeuristicComparator) applyProbabilities(order []types.ComponentName, probabilities []float64) {
	h.scoresMu.Lock()
	defer h.scoresMu.Unlock()
	for i, name := range order {
		if f := h.features[name]; f != nil {
			f.SelectProbability = probabilities[i]
		}
	}
}

func featureList(order []types.ComponentName, features map[types.ComponentName]*TargetFeatures) []TargetFeatures {
	out := make([]TargetFeatures, 0, len(order))
	for _, name := range order {
		out = append(out, *features[name])
	}
	return out
}

func (h *HeuristicComparator) compareLearned(lhs, rhs *types.ResolvedComponentInfo) int {
	h.scoresMu.RLock()
	left, right := h.features[lhs.Name], h.features[rhs.Name]
	var lp, rp float64
	if left != nil && right != nil {
		lp, rp = left.SelectProbability, right.SelectProbability
	}
	h.scoresMu.RUnlock()
	switch {
	case lp > rp:
		return -1
	case lp < rp:
		return 1
	}
	return h.compareLabels(lhs, rhs)
}

func (h *HeuristicComparator) Score(name types.ComponentName) float64 {
	h.scoresMu.RLock()
	defer h.scoresMu.RUnlock()
	if f := h.features[name]; f != nil {
		return f.SelectProbability
	}
	return 0
}

// UpdateModel trains the ranker with name as the pick among the last
// computed targets.
func (h *HeuristicComparator) UpdateModel(name types.ComponentName) {
	if h.ranker == nil {
		return
	}
	h.scoresMu.RLock()
	selected := slices.Index(h.order, name)
	var list []TargetFeatures
	if selected >= 0 {
		list = featureList(h.order, h.features)
	}
	h.scoresMu.RUnlock()
	if selected < 0 {
		return
	}
	if err := h.ranker.Train(context.Background(), list, selected); err != nil {
		h.logger.Warn("ranker_train_failed", logging.Component(name), logging.Err(err))
	}
}

func (h *HeuristicComparator) Destroy() {
	h.destroy()
}
