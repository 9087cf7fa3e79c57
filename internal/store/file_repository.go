package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sharesheet/internal/types"
)

type fileRepository struct {
	pins    *filePinStore
	chosen  *fileChosenStore
	usage   *fileUsageStore
	weights *fileWeightStore
}

// NewFileRepository keeps each store in its own JSON file under dir.
func NewFileRepository(dir string) Repository {
	return &fileRepository{
		pins:    &filePinStore{path: filepath.Join(dir, "pins.json")},
		chosen:  &fileChosenStore{path: filepath.Join(dir, "last_chosen.json")},
		usage:   &fileUsageStore{path: filepath.Join(dir, "usage.json"), now: time.Now},
		weights: &fileWeightStore{path: filepath.Join(dir, "ranker_weights.json")},
	}
}

func (r *fileRepository) Pins() PinStore       { return r.pins }
func (r *fileRepository) Chosen() ChosenStore  { return r.chosen }
func (r *fileRepository) Usage() UsageStore    { return r.usage }
func (r *fileRepository) Weights() WeightStore { return r.weights }
func (r *fileRepository) Backend() string      { return RepositoryBackendFile }
func (r *fileRepository) Close() error         { return nil }

// loadMap reads a JSON object file; a missing file is an empty map.
func loadMap[V any](path string) (map[string]V, error) {
	out := map[string]V{}
	if err := readJSON(path, &out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]V{}, nil
		}
		return nil, err
	}
	if out == nil {
		out = map[string]V{}
	}
	return out, nil
}

type filePinStore struct {
	path string
	mu   sync.Mutex
}

func (s *filePinStore) IsPinned(ctx context.Context, user types.UserHandle, name types.ComponentName) (bool, error) {
	if name.IsZero() {
		return false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := loadMap[string](s.path)
	if err != nil {
		return false, err
	}
	_, ok := pins[pinKey(user, name)]
	return ok, nil
}

func (s *filePinStore) SetPinned(ctx context.Context, user types.UserHandle, name types.ComponentName, pinned bool) error {
	if name.IsZero() {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := loadMap[string](s.path)
	if err != nil {
		return err
	}
	key := pinKey(user, name)
	if pinned {
		pins[key] = time.Now().UTC().Format(time.RFC3339)
	} else {
		delete(pins, key)
	}
	return writeJSONAtomic(s.path, pins)
}

func (s *filePinStore) ListPinned(ctx context.Context, user types.UserHandle) ([]types.ComponentName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins, err := loadMap[string](s.path)
	if err != nil {
		return nil, err
	}
	prefix := userPrefix(user)
	out := make([]types.ComponentName, 0)
	for key := range pins {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name, err := types.UnflattenComponentName(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		out = append(out, name)
	}
	return sortedComponentNames(out), nil
}

type fileChosenStore struct {
	path string
	mu   sync.Mutex
}

func (s *fileChosenStore) LastChosen(ctx context.Context, user types.UserHandle, signature string) (types.ComponentName, bool, error) {
	if strings.TrimSpace(signature) == "" {
		return types.ComponentName{}, false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chosen, err := loadMap[string](s.path)
	if err != nil {
		return types.ComponentName{}, false, err
	}
	raw, ok := chosen[userPrefix(user)+signature]
	if !ok {
		return types.ComponentName{}, false, nil
	}
	name, err := types.UnflattenComponentName(raw)
	if err != nil {
		return types.ComponentName{}, false, err
	}
	return name, true, nil
}

func (s *fileChosenStore) SetLastChosen(ctx context.Context, user types.UserHandle, signature string, name types.ComponentName) error {
	if strings.TrimSpace(signature) == "" || name.IsZero() {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chosen, err := loadMap[string](s.path)
	if err != nil {
		return err
	}
	chosen[userPrefix(user)+signature] = name.FlattenToString()
	return writeJSONAtomic(s.path, chosen)
}

type fileUsageStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func (s *fileUsageStore) QueryUsageStats(ctx context.Context, user types.UserHandle) (map[string]*types.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := loadMap[*types.UsageStats](s.path)
	if err != nil {
		return nil, err
	}
	prefix := userPrefix(user)
	out := map[string]*types.UsageStats{}
	for key, stats := range all {
		if stats == nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		out[stats.Package] = stats
	}
	return out, nil
}

func (s *fileUsageStore) ReportChooserSelection(ctx context.Context, selection types.ChooserSelection) error {
	pkg := strings.TrimSpace(selection.Package)
	if pkg == "" {
		return ErrInvalidKey
	}
	return s.mutate(selection.User, pkg, func(stats *types.UsageStats) {
		applySelection(stats, selection)
	})
}

func (s *fileUsageStore) ReportLaunch(ctx context.Context, user types.UserHandle, pkg string, foreground time.Duration) error {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return ErrInvalidKey
	}
	now := s.now()
	return s.mutate(user, pkg, func(stats *types.UsageStats) {
		stats.LaunchCount++
		stats.LastTimeUsed = now
		if foreground > 0 {
			stats.TotalTimeInForeground += foreground
		}
	})
}

func (s *fileUsageStore) PutUsageStats(ctx context.Context, user types.UserHandle, stats *types.UsageStats) error {
	if stats == nil || strings.TrimSpace(stats.Package) == "" {
		return ErrInvalidKey
	}
	return s.mutate(user, stats.Package, func(current *types.UsageStats) {
		*current = *stats.Clone()
	})
}

func (s *fileUsageStore) mutate(user types.UserHandle, pkg string, fn func(*types.UsageStats)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := loadMap[*types.UsageStats](s.path)
	if err != nil {
		return err
	}
	key := userPrefix(user) + pkg
	stats := all[key]
	if stats == nil {
		stats = &types.UsageStats{Package: pkg}
	}
	fn(stats)
	stats.Package = pkg
	all[key] = stats
	return writeJSONAtomic(s.path, all)
}

type fileWeightStore struct {
	path string
	mu   sync.Mutex
}

func (s *fileWeightStore) LoadWeights(ctx context.Context, user types.UserHandle) (map[string]float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := loadMap[map[string]float64](s.path)
	if err != nil {
		return nil, false, err
	}
	weights, ok := all[user.String()]
	return weights, ok, nil
}

func (s *fileWeightStore) SaveWeights(ctx context.Context, user types.UserHandle, weights map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := loadMap[map[string]float64](s.path)
	if err != nil {
		return err
	}
	all[user.String()] = weights
	return writeJSONAtomic(s.path, all)
}
