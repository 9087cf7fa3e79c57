package ranking

import (
	"context"
	"sort"
	"sync"

	"sharesheet/internal/types"
)

// UsagePredictor is an in-process AppPredictor. It orders targets by
// launches made through this predictor during the session, then by launch
// count and last use from usage stats. A disabled predictor returns
// nothing, as a prediction service does when sharing predictions are off.
type UsagePredictor struct {
	usage   UsageSource
	enabled bool

	mu       sync.Mutex
	launched map[types.ComponentName]int
}

func NewUsagePredictor(usage UsageSource, enabled bool) *UsagePredictor {
	return &UsagePredictor{usage: usage, enabled: enabled, launched: map[types.ComponentName]int{}}
}

func (p *UsagePredictor) SortTargets(ctx context.Context, targets []types.AppTarget) ([]types.AppTarget, error) {
	if !p.enabled || len(targets) == 0 {
		return nil, nil
	}
	var stats map[string]*types.UsageStats
	if p.usage != nil {
		var err error
		stats, err = p.usage.QueryUsageStats(ctx, targets[0].User)
		if err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	launched := make(map[types.ComponentName]int, len(p.launched))
	for k, v := range p.launched {
		launched[k] = v
	}
	p.mu.Unlock()

	out := append([]types.AppTarget(nil), targets...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if la, lb := launched[a.ComponentName()], launched[b.ComponentName()]; la != lb {
			return la > lb
		}
		sa, sb := stats[a.Package], stats[b.Package]
		switch {
		case sa == nil && sb == nil:
			return false
		case sb == nil:
			return true
		case sa == nil:
			return false
		}
		if sa.LaunchCount != sb.LaunchCount {
			return sa.LaunchCount > sb.LaunchCount
		}
		return sa.LastTimeUsed.After(sb.LastTimeUsed)
	})
	for i := range out {
		out[i].Rank = i
	}
	return out, nil
}

func (p *UsagePredictor) NotifyLaunch(ctx context.Context, target types.AppTarget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launched[target.ComponentName()]++
	return nil
}
