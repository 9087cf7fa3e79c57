package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"sharesheet/internal/types"
)

var (
	bucketPins          = []byte("pins")
	bucketLastChosen    = []byte("last_chosen")
	bucketUsage         = []byte("usage")
	bucketRankerWeights = []byte("ranker_weights")
)

type bboltRepository struct {
	db      *bolt.DB
	pins    PinStore
	chosen  ChosenStore
	usage   UsageStore
	weights WeightStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:      db,
		pins:    &bboltPinStore{db: db},
		chosen:  &bboltChosenStore{db: db},
		usage:   &bboltUsageStore{db: db, now: time.Now},
		weights: &bboltWeightStore{db: db},
	}, nil
}

func (r *bboltRepository) Pins() PinStore       { return r.pins }
func (r *bboltRepository) Chosen() ChosenStore  { return r.chosen }
func (r *bboltRepository) Usage() UsageStore    { return r.usage }
func (r *bboltRepository) Weights() WeightStore { return r.weights }
func (r *bboltRepository) Backend() string      { return RepositoryBackendBbolt }

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPins, bucketLastChosen, bucketUsage, bucketRankerWeights} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

type bboltPinStore struct {
	db *bolt.DB
}

func (s *bboltPinStore) IsPinned(ctx context.Context, user types.UserHandle, name types.ComponentName) (bool, error) {
	if name.IsZero() {
		return false, ErrInvalidKey
	}
	pinned := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPins)
		if b == nil {
			return nil
		}
		pinned = b.Get([]byte(pinKey(user, name))) != nil
		return nil
	})
	return pinned, err
}

func (s *bboltPinStore) SetPinned(ctx context.Context, user types.UserHandle, name types.ComponentName, pinned bool) error {
	if name.IsZero() {
		return ErrInvalidKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPins)
		if b == nil {
			return errors.New("pins bucket missing")
		}
		key := []byte(pinKey(user, name))
		if !pinned {
			return b.Delete(key)
		}
		return b.Put(key, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (s *bboltPinStore) ListPinned(ctx context.Context, user types.UserHandle) ([]types.ComponentName, error) {
	out := make([]types.ComponentName, 0)
	prefix := []byte(userPrefix(user))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPins)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			name, err := types.UnflattenComponentName(strings.TrimPrefix(string(k), string(prefix)))
			if err != nil {
				continue
			}
			out = append(out, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type bboltChosenStore struct {
	db *bolt.DB
}

func (s *bboltChosenStore) LastChosen(ctx context.Context, user types.UserHandle, signature string) (types.ComponentName, bool, error) {
	var (
		out types.ComponentName
		ok  bool
	)
	if strings.TrimSpace(signature) == "" {
		return out, false, ErrInvalidKey
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastChosen)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(userPrefix(user) + signature))
		if raw == nil {
			return nil
		}
		name, err := types.UnflattenComponentName(string(raw))
		if err != nil {
			return err
		}
		out = name
		ok = true
		return nil
	})
	if err != nil {
		return types.ComponentName{}, false, err
	}
	return out, ok, nil
}

func (s *bboltChosenStore) SetLastChosen(ctx context.Context, user types.UserHandle, signature string, name types.ComponentName) error {
	if strings.TrimSpace(signature) == "" || name.IsZero() {
		return ErrInvalidKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastChosen)
		if b == nil {
			return errors.New("last_chosen bucket missing")
		}
		return b.Put([]byte(userPrefix(user)+signature), []byte(name.FlattenToString()))
	})
}

type bboltUsageStore struct {
	db  *bolt.DB
	now func() time.Time
}

func (s *bboltUsageStore) QueryUsageStats(ctx context.Context, user types.UserHandle) (map[string]*types.UsageStats, error) {
	out := map[string]*types.UsageStats{}
	prefix := []byte(userPrefix(user))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var stats types.UsageStats
			if err := json.Unmarshal(v, &stats); err != nil {
				return err
			}
			out[stats.Package] = &stats
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltUsageStore) ReportChooserSelection(ctx context.Context, selection types.ChooserSelection) error {
	pkg := strings.TrimSpace(selection.Package)
	if pkg == "" {
		return ErrInvalidKey
	}
	return s.mutate(selection.User, pkg, func(stats *types.UsageStats) {
		applySelection(stats, selection)
	})
}

func (s *bboltUsageStore) ReportLaunch(ctx context.Context, user types.UserHandle, pkg string, foreground time.Duration) error {
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

func (s *bboltUsageStore) PutUsageStats(ctx context.Context, user types.UserHandle, stats *types.UsageStats) error {
	if stats == nil || strings.TrimSpace(stats.Package) == "" {
		return ErrInvalidKey
	}
	return s.mutate(user, stats.Package, func(current *types.UsageStats) {
		*current = *stats.Clone()
	})
}

func (s *bboltUsageStore) mutate(user types.UserHandle, pkg string, fn func(*types.UsageStats)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		if b == nil {
			return errors.New("usage bucket missing")
		}
		key := []byte(userPrefix(user) + pkg)
		stats := &types.UsageStats{Package: pkg}
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, stats); err != nil {
				return err
			}
		}
		fn(stats)
		stats.Package = pkg
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

type bboltWeightStore struct {
	db *bolt.DB
}

func (s *bboltWeightStore) LoadWeights(ctx context.Context, user types.UserHandle) (map[string]float64, bool, error) {
	var (
		out map[string]float64
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRankerWeights)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(user.String()))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltWeightStore) SaveWeights(ctx context.Context, user types.UserHandle, weights map[string]float64) error {
	data, err := json.Marshal(weights)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRankerWeights)
		if b == nil {
			return errors.New("ranker_weights bucket missing")
		}
		return b.Put([]byte(user.String()), data)
	})
}

func sortedComponentNames(names []types.ComponentName) []types.ComponentName {
	sort.Slice(names, func(i, j int) bool {
		return names[i].FlattenToString() < names[j].FlattenToString()
	})
	return names
}
