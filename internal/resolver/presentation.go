package resolver

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

// PlaceholderIcon is shown when an icon cannot be loaded.
const PlaceholderIcon = "placeholder"

const (
	defaultLabelCacheSize          = 256
	defaultPresentationConcurrency = 1
)

// PresentationSource loads labels and icons for resolve infos.
type PresentationSource interface {
	LoadLabel(ctx context.Context, info *types.ResolveInfo) (label, sublabel string, err error)
	LoadIcon(ctx context.Context, info *types.ResolveInfo) (string, error)
}

type presentation struct {
	label    string
	sublabel string
}

// PresentationLoader loads labels and icons once per target, shared by every
// adapter of a chooser. Concurrent requests for the same target share one
// source call, results survive rebuilds in an LRU, and at most concurrency
// source calls run at a time.
type PresentationLoader struct {
	source PresentationSource
	group  singleflight.Group
	sem    *semaphore.Weighted
	labels *lru.Cache[string, presentation]
	icons  *lru.Cache[string, string]
	logger logging.Logger
}

func NewPresentationLoader(source PresentationSource, cacheSize, concurrency int, logger logging.Logger) (*PresentationLoader, error) {
	if cacheSize <= 0 {
		cacheSize = defaultLabelCacheSize
	}
	if concurrency <= 0 {
		concurrency = defaultPresentationConcurrency
	}
	labels, err := lru.New[string, presentation](cacheSize)
	if err != nil {
		return nil, err
	}
	icons, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PresentationLoader{
		source: source,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		labels: labels,
		icons:  icons,
		logger: logging.OrNop(logger).With(logging.F("component", "presentation_loader")),
	}, nil
}

func presentationKey(info *types.ResolveInfo) string {
	parts := []string{info.ComponentName().FlattenToString(), info.TargetUserID.String(), info.NonLocalizedLabel, info.Icon}
	return strings.Join(parts, "|")
}

// Label returns the label and sublabel for info. The sublabel is empty when
// it would repeat the label. Failures yield an empty label.
func (l *PresentationLoader) Label(ctx context.Context, info *types.ResolveInfo) (string, string) {
	if l == nil || l.source == nil || info == nil {
		return "", ""
	}
	key := presentationKey(info)
	if cached, ok := l.labels.Get(key); ok {
		return cached.label, cached.sublabel
	}
	v, err, _ := l.group.Do("label|"+key, func() (any, error) {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.sem.Release(1)
		label, sublabel, err := l.source.LoadLabel(ctx, info)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(sublabel) == strings.TrimSpace(label) {
			sublabel = ""
		}
		p := presentation{label: label, sublabel: sublabel}
		l.labels.Add(key, p)
		return p, nil
	})
	if err != nil {
		l.logger.Warn("label_load_failed", logging.Component(info.ComponentName()), logging.Err(err))
		return "", ""
	}
	p := v.(presentation)
	return p.label, p.sublabel
}

// Icon returns the icon for info, or PlaceholderIcon when loading fails.
func (l *PresentationLoader) Icon(ctx context.Context, info *types.ResolveInfo) string {
	if l == nil || l.source == nil || info == nil {
		return PlaceholderIcon
	}
	key := presentationKey(info)
	if cached, ok := l.icons.Get(key); ok {
		return cached
	}
	v, err, _ := l.group.Do("icon|"+key, func() (any, error) {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.sem.Release(1)
		icon, err := l.source.LoadIcon(ctx, info)
		if err != nil {
			return nil, err
		}
		l.icons.Add(key, icon)
		return icon, nil
	})
	if err != nil {
		l.logger.Warn("icon_load_failed", logging.Component(info.ComponentName()), logging.Err(err))
		return PlaceholderIcon
	}
	return v.(string)
}

// Purge forgets every cached label and icon, as after a package change.
func (l *PresentationLoader) Purge() {
	if l == nil {
		return
	}
	l.labels.Purge()
	l.icons.Purge()
}
