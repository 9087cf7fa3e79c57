package ranking

import (
	"context"
	"slices"
	"sync"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

// AppPredictor orders app targets for a share. An empty result means the
// predictor has nothing to say and ranking should fall back.
type AppPredictor interface {
	SortTargets(ctx context.Context, targets []types.AppTarget) ([]types.AppTarget, error)
	NotifyLaunch(ctx context.Context, target types.AppTarget) error
}

// PredictionComparator ranks candidates in the order an AppPredictor
// returns them. When the predictor returns nothing it hands over to a
// HeuristicComparator for the rest of its life and stops querying the
// predictor.
type PredictionComparator struct {
	*base
	predictor AppPredictor
	ranker    RankerService
	opts      Options

	scoresMu sync.RWMutex
	ranks    map[types.ComponentName]int
	fallback *HeuristicComparator
}

func NewPredictionComparator(opts Options, predictor AppPredictor, ranker RankerService) *PredictionComparator {
	p := &PredictionComparator{
		base:      newBase(opts, "prediction_comparator"),
		predictor: predictor,
		ranker:    ranker,
		opts:      opts,
		ranks:     map[types.ComponentName]int{},
	}
	p.learned = p.compareLearned
	return p
}

func (p *PredictionComparator) Compute(ctx context.Context, targets []*types.ResolvedComponentInfo) {
	round, roundCtx, ok := p.begin(ctx)
	if !ok {
		return
	}
	if len(targets) == 0 {
		p.deliver(round, nil)
		return
	}
	if fallback := p.currentFallback(); fallback != nil {
		fallback.SetCallback(func() { p.deliver(round, nil) })
		fallback.Compute(roundCtx, targets)
		return
	}
	appTargets := make([]types.AppTarget, 0, len(targets))
	for _, target := range targets {
		appTargets = append(appTargets, types.AppTargetFor(target.Name, p.user))
	}
	go p.run(roundCtx, round, slices.Clone(targets), appTargets)
}

func (p *PredictionComparator) run(ctx context.Context, round uint64, targets []*types.ResolvedComponentInfo, appTargets []types.AppTarget) {
	sorted, err := p.predictor.SortTargets(ctx, appTargets)
	if err != nil {
		p.logger.Warn("app_prediction_failed", logging.Err(err))
		p.deliver(round, nil)
		return
	}
	if len(sorted) == 0 {
		p.startFallback(ctx, round, targets)
		return
	}
	p.deliver(round, func() {
		ranks := make(map[types.ComponentName]int, len(sorted))
		for i, target := range sorted {
			name := target.ComponentName()
			if _, seen := ranks[name]; !seen {
				ranks[name] = i
			}
		}
		p.scoresMu.Lock()
		p.ranks = ranks
		p.scoresMu.Unlock()
	})
}

func (p *PredictionComparator) startFallback(ctx context.Context, round uint64, targets []*types.ResolvedComponentInfo) {
	p.logger.Info("app_prediction_empty_fallback", logging.F("targets", len(targets)))
	fallback := NewHeuristicComparator(p.opts, p.ranker)
	fallback.SetCallback(func() { p.deliver(round, nil) })
	installed := p.current(round, func() {
		p.scoresMu.Lock()
		previous := p.fallback
		p.fallback = fallback
		p.scoresMu.Unlock()
		if previous != nil {
			previous.SetCallback(nil)
			go previous.Destroy()
		}
	})
	if !installed {
		fallback.SetCallback(nil)
		fallback.Destroy()
		return
	}
	fallback.Compute(ctx, targets)
}

func (p *PredictionComparator) currentFallback() *HeuristicComparator {
	p.scoresMu.RLock()
	defer p.scoresMu.RUnlock()
	return p.fallback
}

// compareLearned puts ranked targets first, in predicted order, and orders
// the rest by label.
func (p *PredictionComparator) compareLearned(lhs, rhs *types.ResolvedComponentInfo) int {
	if fallback := p.currentFallback(); fallback != nil {
		return fallback.compareLearned(lhs, rhs)
	}
	p.scoresMu.RLock()
	left, leftOK := p.ranks[lhs.Name]
	right, rightOK := p.ranks[rhs.Name]
	p.scoresMu.RUnlock()
	switch {
	case leftOK && rightOK:
		return left - right
	case leftOK:
		return -1
	case rightOK:
		return 1
	}
	return p.compareLabels(lhs, rhs)
}

// Score maps rank r of n ranked targets to 1 - r / (n(n-1)/2).
func (p *PredictionComparator) Score(name types.ComponentName) float64 {
	if fallback := p.currentFallback(); fallback != nil {
		return fallback.Score(name)
	}
	p.scoresMu.RLock()
	defer p.scoresMu.RUnlock()
	rank, ok := p.ranks[name]
	if !ok {
		return 0
	}
	n := len(p.ranks)
	sum := (n - 1) * n / 2
	if sum == 0 {
		return 1
	}
	return 1 - float64(rank)/float64(sum)
}

func (p *PredictionComparator) UpdateModel(name types.ComponentName) {
	if fallback := p.currentFallback(); fallback != nil {
		fallback.UpdateModel(name)
		return
	}
	if err := p.predictor.NotifyLaunch(context.Background(), types.AppTargetFor(name, p.user)); err != nil {
		p.logger.Warn("app_prediction_notify_failed", logging.Component(name), logging.Err(err))
	}
}

func (p *PredictionComparator) Destroy() {
	if fallback := p.currentFallback(); fallback != nil {
		fallback.SetCallback(nil)
		fallback.Destroy()
	}
	p.destroy()
}
