package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"sharesheet/internal/types"
)

const (
	RepositoryBackendFile  = "file"
	RepositoryBackendBbolt = "bbolt"
)

var ErrInvalidKey = errors.New("store key is required")

// PinStore persists user pins keyed by flattened component name.
type PinStore interface {
	IsPinned(ctx context.Context, user types.UserHandle, name types.ComponentName) (bool, error)
	SetPinned(ctx context.Context, user types.UserHandle, name types.ComponentName, pinned bool) error
	ListPinned(ctx context.Context, user types.UserHandle) ([]types.ComponentName, error)
}

// ChosenStore remembers the last chosen activity per intent signature.
type ChosenStore interface {
	LastChosen(ctx context.Context, user types.UserHandle, signature string) (types.ComponentName, bool, error)
	SetLastChosen(ctx context.Context, user types.UserHandle, signature string, name types.ComponentName) error
}

// UsageStore holds the per-package usage stats that heuristic ranking reads.
type UsageStore interface {
	QueryUsageStats(ctx context.Context, user types.UserHandle) (map[string]*types.UsageStats, error)
	ReportChooserSelection(ctx context.Context, selection types.ChooserSelection) error
	ReportLaunch(ctx context.Context, user types.UserHandle, pkg string, foreground time.Duration) error
	PutUsageStats(ctx context.Context, user types.UserHandle, stats *types.UsageStats) error
}

// WeightStore persists ranker model weights per user.
type WeightStore interface {
	LoadWeights(ctx context.Context, user types.UserHandle) (map[string]float64, bool, error)
	SaveWeights(ctx context.Context, user types.UserHandle, weights map[string]float64) error
}

type Repository interface {
	Pins() PinStore
	Chosen() ChosenStore
	Usage() UsageStore
	Weights() WeightStore
	Backend() string
	Close() error
}

type RepositoryPaths struct {
	Dir    string
	DBPath string
}

func OpenRepository(paths RepositoryPaths, backend string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendBbolt:
		if strings.TrimSpace(paths.DBPath) == "" {
			return nil, errors.New("db path is required for bbolt repository")
		}
		return NewBboltRepository(paths.DBPath)
	case RepositoryBackendFile:
		if strings.TrimSpace(paths.Dir) == "" {
			return nil, errors.New("dir is required for file repository")
		}
		return NewFileRepository(paths.Dir), nil
	default:
		return nil, errors.New("unsupported repository backend: " + backend)
	}
}

// SeedRepositoryFromFiles copies file-backed state into dst when dst has
// none, so switching the backend keeps pins and history.
func SeedRepositoryFromFiles(ctx context.Context, dst Repository, dir string, users []types.UserHandle) error {
	if dst == nil || dst.Backend() == RepositoryBackendFile || strings.TrimSpace(dir) == "" {
		return nil
	}
	src := NewFileRepository(dir)
	defer src.Close()
	for _, user := range users {
		if err := seedPins(ctx, dst.Pins(), src.Pins(), user); err != nil {
			return err
		}
		if err := seedUsage(ctx, dst.Usage(), src.Usage(), user); err != nil {
			return err
		}
	}
	return nil
}

func seedPins(ctx context.Context, dst, src PinStore, user types.UserHandle) error {
	current, err := dst.ListPinned(ctx, user)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return nil
	}
	legacy, err := src.ListPinned(ctx, user)
	if err != nil {
		return err
	}
	for _, name := range legacy {
		if err := dst.SetPinned(ctx, user, name, true); err != nil {
			return err
		}
	}
	return nil
}

func seedUsage(ctx context.Context, dst, src UsageStore, user types.UserHandle) error {
	current, err := dst.QueryUsageStats(ctx, user)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return nil
	}
	legacy, err := src.QueryUsageStats(ctx, user)
	if err != nil {
		return err
	}
	for _, stats := range legacy {
		if err := dst.PutUsageStats(ctx, user, stats); err != nil {
			return err
		}
	}
	return nil
}

func pinKey(user types.UserHandle, name types.ComponentName) string {
	return user.String() + "|" + name.FlattenToString()
}

func userPrefix(user types.UserHandle) string {
	return user.String() + "|"
}

func applySelection(stats *types.UsageStats, selection types.ChooserSelection) {
	if stats.ChooserCounts == nil {
		stats.ChooserCounts = map[string]map[string]int{}
	}
	action := strings.TrimSpace(selection.Action)
	byKey := stats.ChooserCounts[action]
	if byKey == nil {
		byKey = map[string]int{}
		stats.ChooserCounts[action] = byKey
	}
	if selection.ContentType != "" {
		byKey[selection.ContentType]++
	}
	for _, annotation := range selection.Annotations {
		if annotation = strings.TrimSpace(annotation); annotation != "" {
			byKey[annotation]++
		}
	}
}
