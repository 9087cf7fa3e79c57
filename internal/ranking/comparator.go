package ranking

import (
	"context"
	"strings"
	"sync"
	"time"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

const (
	StrategyHeuristic  = "heuristic"
	StrategyPrediction = "prediction"

	DefaultWatchdogTimeout = 500 * time.Millisecond
)

// Comparator ranks resolved candidates. Compare applies the structural
// tie-breaks first and falls back to the learned order, which is only
// meaningful once the callback installed with SetCallback has fired for
// the last Compute.
type Comparator interface {
	Compare(a, b *types.ResolvedComponentInfo) int
	Compute(ctx context.Context, targets []*types.ResolvedComponentInfo)
	SetCallback(fn func())
	Score(name types.ComponentName) float64
	UpdateModel(name types.ComponentName)
	UpdateChooserCounts(pkg string, user types.UserHandle, action string)
	Destroy()
}

// UsageSource provides usage stats and records chooser selections.
type UsageSource interface {
	QueryUsageStats(ctx context.Context, user types.UserHandle) (map[string]*types.UsageStats, error)
	ReportChooserSelection(ctx context.Context, selection types.ChooserSelection) error
}

type Options struct {
	Intent         *types.Intent
	User           types.UserHandle
	Referrer       string
	PromoteToFirst types.ComponentName
	Locale         string
	Watchdog       time.Duration
	Usage          UsageSource
	Logger         logging.Logger
	Now            func() time.Time
}

// New builds the comparator for strategy. The prediction strategy falls back
// to heuristic ranking when predictor returns nothing.
func New(strategy string, opts Options, predictor AppPredictor, ranker RankerService) Comparator {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyPrediction:
		if predictor != nil {
			return NewPredictionComparator(opts, predictor, ranker)
		}
	}
	return NewHeuristicComparator(opts, ranker)
}

// base implements the structural tiers and the compute/watchdog protocol
// shared by every strategy. A compute round ends exactly once: either
// deliver wins or the watchdog does, and the loser is dropped.
type base struct {
	logger      logging.Logger
	intent      *types.Intent
	user        types.UserHandle
	promote     types.ComponentName
	collator    *LabelCollator
	http        bool
	watchdog    time.Duration
	usage       UsageSource
	now         func() time.Time
	action      string
	contentType string
	annotations []string

	learned func(a, b *types.ResolvedComponentInfo) int

	mu        sync.Mutex
	callback  func()
	round     uint64
	pending   bool
	timer     *time.Timer
	cancel    context.CancelFunc
	destroyed bool
}

func newBase(opts Options, component string) *base {
	watchdog := opts.Watchdog
	if watchdog <= 0 {
		watchdog = DefaultWatchdogTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := &base{
		logger:   logging.OrNop(opts.Logger).With(logging.F("component", component), logging.F("user", opts.User)),
		intent:   opts.Intent,
		user:     opts.User,
		promote:  opts.PromoteToFirst,
		collator: NewLabelCollator(opts.Locale),
		http:     opts.Intent.IsHTTP(),
		watchdog: watchdog,
		usage:    opts.Usage,
		now:      now,
	}
	if opts.Intent != nil {
		b.action = opts.Intent.Action
		b.contentType = opts.Intent.Type
		b.annotations = b.readAnnotations(opts.Intent)
	}
	return b
}

// readAnnotations drops malformed content annotations instead of failing.
func (b *base) readAnnotations(intent *types.Intent) []string {
	raw, ok := intent.StringSliceExtra(types.ExtraContentAnnotations)
	if !ok {
		if _, present := intent.Extras[types.ExtraContentAnnotations]; present {
			b.logger.Warn("content_annotations_malformed")
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, annotation := range raw {
		if annotation = strings.TrimSpace(annotation); annotation != "" {
			out = append(out, annotation)
		}
	}
	return out
}

func (b *base) SetCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = fn
}

// Compare applies, in order: other profile last, promoted component first,
// specific http URI matches first, pinned first (by label), then the
// learned order.
func (b *base) Compare(lhs, rhs *types.ResolvedComponentInfo) int {
	left, right := lhs.ResolveInfoAt(0), rhs.ResolveInfoAt(0)
	if left.IsOtherProfile() {
		if right.IsOtherProfile() {
			return 0
		}
		return 1
	}
	if right.IsOtherProfile() {
		return -1
	}

	leftTop := lhs.FixedAtTop || (!b.promote.IsZero() && lhs.Name == b.promote)
	rightTop := rhs.FixedAtTop || (!b.promote.IsZero() && rhs.Name == b.promote)
	if leftTop != rightTop {
		if leftTop {
			return -1
		}
		return 1
	}

	if b.http {
		leftSpecific := types.IsSpecificURIMatch(left.Match)
		rightSpecific := types.IsSpecificURIMatch(right.Match)
		if leftSpecific != rightSpecific {
			if leftSpecific {
				return -1
			}
			return 1
		}
	}

	switch {
	case lhs.Pinned && !rhs.Pinned:
		return -1
	case !lhs.Pinned && rhs.Pinned:
		return 1
	case lhs.Pinned && rhs.Pinned:
		return b.collator.Compare(left.Label(), right.Label())
	}

	if b.learned == nil {
		return b.compareLabels(lhs, rhs)
	}
	return b.learned(lhs, rhs)
}

func (b *base) compareLabels(lhs, rhs *types.ResolvedComponentInfo) int {
	return b.collator.Compare(lhs.ResolveInfoAt(0).Label(), rhs.ResolveInfoAt(0).Label())
}

// begin starts a compute round and arms the watchdog. ok is false once the
// comparator is destroyed.
func (b *base) begin(ctx context.Context) (round uint64, roundCtx context.Context, ok bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return 0, nil, false
	}
	b.stopLocked()
	b.round++
	round = b.round
	roundCtx, b.cancel = context.WithCancel(ctx)
	b.pending = true
	b.timer = time.AfterFunc(b.watchdog, func() { b.expire(round) })
	return round, roundCtx, true
}

// current runs fn under the protocol lock if round is still in flight.
func (b *base) current(round uint64, fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed || !b.pending || round != b.round {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}

// deliver applies a service result and completes the round, unless the
// watchdog already did.
func (b *base) deliver(round uint64, apply func()) bool {
	b.mu.Lock()
	if b.destroyed || !b.pending || round != b.round {
		b.mu.Unlock()
		b.logger.Debug("ranking_result_discarded", logging.F("round", round))
		return false
	}
	if apply != nil {
		apply()
	}
	b.pending = false
	b.stopLocked()
	cb := b.callback
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

func (b *base) expire(round uint64) {
	b.mu.Lock()
	if b.destroyed || !b.pending || round != b.round {
		b.mu.Unlock()
		return
	}
	b.pending = false
	b.stopLocked()
	cb := b.callback
	b.mu.Unlock()
	b.logger.Warn("ranking_watchdog_timeout", logging.F("round", round), logging.F("timeout", b.watchdog))
	if cb != nil {
		cb()
	}
}

func (b *base) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// destroy stops any round in flight and invokes the callback exactly once,
// then forgets it.
func (b *base) destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.pending = false
	b.stopLocked()
	cb := b.callback
	b.callback = nil
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *base) isDestroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// UpdateChooserCounts records that pkg was chosen for the current action,
// content type and annotations. Failures are logged.
func (b *base) UpdateChooserCounts(pkg string, user types.UserHandle, action string) {
	if b.usage == nil || strings.TrimSpace(pkg) == "" {
		return
	}
	selection := types.ChooserSelection{
		Package:     pkg,
		User:        user,
		Action:      action,
		ContentType: b.contentType,
		Annotations: append([]string(nil), b.annotations...),
		At:          b.now(),
	}
	if err := b.usage.ReportChooserSelection(context.Background(), selection); err != nil {
		b.logger.Warn("chooser_counts_update_failed", logging.F("package", pkg), logging.Err(err))
	}
}
